// Package protocol defines the orchestrator's client-facing wire protocol:
// one envelope type carrying the inbound and outbound events of spec §6,
// serialized with MessagePack over the session WebSocket. Grounded on the
// teacher's pkg/protocol envelope/registry shape
// (_examples/longregen-alicia/pkg/protocol/{envelope.go,types.go}), adapted
// from the teacher's numeric MessageType codes to the spec's string event
// names since the wire contract itself is spec-owned, not inherited.
package protocol

// EventType names one inbound or outbound wire event (spec §6).
type EventType string

const (
	// Inbound (client -> server).
	EventMessage            EventType = "message"
	EventAudioInput         EventType = "audio.input"
	EventAudioInputComplete EventType = "audio.input.complete"
	EventBargeIn            EventType = "barge_in"
	EventToolConfirmation   EventType = "tool.confirmation"
	EventPing               EventType = "ping"

	// Outbound (server -> client).
	EventSessionReady    EventType = "session.ready"
	EventTranscriptPart  EventType = "transcript.partial"
	EventTranscriptFinal EventType = "transcript.final"
	EventResponseStart   EventType = "response.start"
	EventChunk           EventType = "chunk"
	EventResponseDone    EventType = "response.done"
	EventAudioOutput     EventType = "audio.output"
	EventToolCallRequest EventType = "tool.call_request"
	EventToolResult      EventType = "tool.result"
	EventVoiceState      EventType = "voice.state"
	EventError           EventType = "error"
	EventPong            EventType = "pong"
)

// Envelope wraps every event with routing metadata. Sequence is
// server-assigned and monotonic per session for outbound envelopes; it is
// absent (zero) on inbound ones. Serialized with MessagePack over the
// session's data channel/WebSocket.
type Envelope struct {
	Sequence  int64     `msgpack:"seq,omitempty"`
	SessionID string    `msgpack:"session_id"`
	Type      EventType `msgpack:"type"`
	Body      any       `msgpack:"body"`
}

func NewEnvelope(sessionID string, eventType EventType, body any) *Envelope {
	return &Envelope{SessionID: sessionID, Type: eventType, Body: body}
}
