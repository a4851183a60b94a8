package protocol

// MessageIn (event "message") carries a user's text query.
type MessageIn struct {
	SessionID string `msgpack:"session_id"`
	Content   string `msgpack:"content"`
}

// AudioInput (event "audio.input") carries one base64-free raw PCM16
// ingress frame; the transport decodes the client's base64 payload before
// constructing this.
type AudioInput struct {
	PCM16 []byte `msgpack:"pcm16"`
}

// AudioInputComplete (event "audio.input.complete") signals end of the
// current voice turn's ingress audio.
type AudioInputComplete struct{}

// BargeIn (event "barge_in") signals the client detected (or forwarded)
// speech onset while the assistant is speaking.
type BargeIn struct{}

// ToolConfirmationIn (event "tool.confirmation") carries the user's
// approve/deny decision for a pending tool call.
type ToolConfirmationIn struct {
	CallID   string `msgpack:"call_id"`
	Approved bool   `msgpack:"approved"`
}

// Ping (event "ping") is a client liveness probe; answered with Pong.
type Ping struct{}

// SessionReady (event "session.ready") acknowledges a new session.
type SessionReady struct {
	SessionID string `msgpack:"session_id"`
}

// TranscriptEvent (events "transcript.partial"/"transcript.final") reports
// one STT transcription unit.
type TranscriptEvent struct {
	Text string `msgpack:"text"`
}

// ResponseStart (event "response.start") opens one assistant response.
type ResponseStart struct {
	MessageID string `msgpack:"message_id"`
}

// ChunkEvent (event "chunk") carries one token/text chunk of a streaming
// response. ChunkIndex is gapless and monotonic within one message_id
// (spec §3 invariant).
type ChunkEvent struct {
	MessageID  string `msgpack:"message_id"`
	ChunkIndex int    `msgpack:"chunk_index"`
	Content    string `msgpack:"content"`
}

// ResponseDone (event "response.done") closes one assistant response with
// its citations and response metadata.
type ResponseDone struct {
	MessageID string         `msgpack:"message_id"`
	Answer    string         `msgpack:"answer"`
	Citations []CitationWire `msgpack:"citations"`
	Metadata  MetadataWire   `msgpack:"metadata"`
}

// CitationWire is the wire-facing projection of models.Citation.
type CitationWire struct {
	Index      int    `msgpack:"index"`
	SourceName string `msgpack:"source_name"`
	Excerpt    string `msgpack:"excerpt"`
	URL        string `msgpack:"url,omitempty"`
}

// MetadataWire is the wire-facing projection of models.ResponseMetadata.
type MetadataWire struct {
	ModelID      string   `msgpack:"model_id"`
	Intent       string   `msgpack:"intent"`
	PHIDetected  bool     `msgpack:"phi_detected"`
	DegradedMode bool     `msgpack:"degraded_mode"`
	TraceID      string   `msgpack:"trace_id"`
	ToolCallIDs  []string `msgpack:"tool_call_ids,omitempty"`
}

// AudioOutput (event "audio.output") carries one egress PCM16 chunk.
type AudioOutput struct {
	Sequence int    `msgpack:"sequence"`
	PCM16    []byte `msgpack:"pcm16"`
}

// ToolCallRequest (event "tool.call_request") asks the client to confirm a
// model-initiated tool call before it executes.
type ToolCallRequest struct {
	CallID             string         `msgpack:"call_id"`
	Name               string         `msgpack:"name"`
	Arguments          map[string]any `msgpack:"arguments"`
	ConfirmationPrompt string         `msgpack:"confirmation_prompt,omitempty"`
}

// ToolResultEvent (event "tool.result") reports a completed tool call.
type ToolResultEvent struct {
	CallID    string `msgpack:"call_id"`
	Success   bool   `msgpack:"success"`
	Payload   any    `msgpack:"payload,omitempty"`
	ErrorKind string `msgpack:"error_kind,omitempty"`
}

// VoiceStateEvent (event "voice.state") reports the pipeline's current
// state machine value.
type VoiceStateEvent struct {
	State string `msgpack:"state"`
}

// ErrorEvent (event "error") is the user-visible failure shape (spec §7):
// no PHI, a remediation code, and an optional backoff.
type ErrorEvent struct {
	Code       string `msgpack:"code"`
	Message    string `msgpack:"message"`
	RetryAfter int    `msgpack:"retry_after,omitempty"`
	TraceID    string `msgpack:"trace_id,omitempty"`
	Component  string `msgpack:"component,omitempty"`
}

// Pong answers a Ping.
type Pong struct{}
