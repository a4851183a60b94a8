package id

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Generator mints opaque, collision-resistant identifiers for the
// orchestrator's entities, each tagged with a short kind prefix so a raw id
// string can be eyeballed back to its entity in logs.
type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) generate(prefix string) string {
	id, err := gonanoid.New(21)
	if err != nil {
		return prefix + "_fallback"
	}
	return prefix + "_" + id
}

// GenerateSessionID mints a Session id (spec §3: the top-level conversation
// container a ConversationContext is keyed by).
func (g *Generator) GenerateSessionID() string {
	return g.generate("ses")
}

// GenerateMessageID mints a Message id.
func (g *Generator) GenerateMessageID() string {
	return g.generate("msg")
}

// GenerateTraceID mints a per-request trace id threaded through generation,
// tool execution, and audit events for cross-component correlation.
func (g *Generator) GenerateTraceID() string {
	return g.generate("trc")
}

// GenerateToolUseID mints a ToolCall id (C9).
func (g *Generator) GenerateToolUseID() string {
	return g.generate("atu")
}

// GenerateCitationID mints a Citation id (C8).
func (g *Generator) GenerateCitationID() string {
	return g.generate("cit")
}

// GenerateVoiceSessionID mints a VoiceSession id (C14), distinct from the
// underlying Session so a session can be rejoined by voice more than once.
func (g *Generator) GenerateVoiceSessionID() string {
	return g.generate("vox")
}

// GenerateLiveKitRoomName mints a LiveKit room name for one voice session.
func (g *Generator) GenerateLiveKitRoomName() string {
	return g.generate("room")
}
