// Package ports defines the narrow interfaces the orchestrator core depends
// on. Concrete implementations (PHI detectors, LLM backends, storage
// engines, transport) live in internal/adapters and are wired at the
// entrypoint (cmd/orchestrator) — the core never imports them directly.
package ports

import (
	"context"

	"github.com/sageclinic/orchestrator/internal/domain/models"
)

// PHIDetector recognizes protected entities in free text (spec §6, C1).
type PHIDetector interface {
	Detect(ctx context.Context, text string) (models.PHIVerdict, error)
}

// IntentClassifier maps a query to an intent tag with confidence (C2).
// Two interchangeable backends are expected to satisfy this: a
// deterministic rule matcher and a learned classifier.
type IntentClassifier interface {
	Classify(ctx context.Context, text string, context *models.ConversationContext) (models.Intent, error)
}

// SourceClient queries one external knowledge backend (C4).
type SourceClient interface {
	Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
}

// EmbeddingService produces a dense vector for a snippet of text; used by
// the reranker's fallback scoring path when no cross-encoder is available
// (C5).
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RerankerService scores a query against a batch of candidate documents
// with a cross-encoder-style relevance function (C5).
type RerankerService interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// LLMStreamChunk is one unit of a streaming generation.
type LLMStreamChunk struct {
	ChunkIndex int
	Content    string
	ToolCall   *LLMToolCallRequest
	// ToolCallID is set on the marker chunk emitted once a suspended tool
	// call's result has been injected and generation resumes, so callers
	// can record every tool call a final answer depended on (spec §4.7).
	ToolCallID string
	Done       bool
	Err        error
}

// LLMToolCallRequest is a model-initiated tool invocation surfaced mid-stream.
type LLMToolCallRequest struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// LLMParams bounds one generation request (spec §6 config: temperature,
// max_tokens, streaming).
type LLMParams struct {
	Temperature float64
	MaxTokens   int
	Streaming   bool
}

// LLMMessage is one turn in the prompt built by the Answer Generator (C7).
type LLMMessage struct {
	Role    models.MessageRole
	Content string
}

// LLMStream is a cancellable handle to an in-flight generation.
type LLMStream interface {
	// Chunks yields chunks in issuance order until Done or Err is set, then
	// closes.
	Chunks() <-chan LLMStreamChunk
	// Cancel aborts the stream; safe to call more than once.
	Cancel()
}

// LLMClient is the model-routing target chosen by C6: one implementation
// per backend (local, cloud), each wrapping its own circuit breaker.
type LLMClient interface {
	// ModelID identifies the backend for response metadata.
	ModelID() string
	// LocalCapable reports whether this backend may process PHI-bearing
	// requests (spec §4.6).
	LocalCapable() bool
	Stream(ctx context.Context, messages []LLMMessage, tools []models.ToolDefinition, params LLMParams) (LLMStream, error)
}

// STTResult is one transcription unit (partial or final).
type STTResult struct {
	Kind  models.TranscriptKind
	Text  string
	Words []models.WordTiming
}

// STTClient is a bidirectional streaming speech-to-text collaborator (C14).
type STTClient interface {
	// PushAudio feeds one ingress audio chunk for the active turn.
	PushAudio(ctx context.Context, chunk models.AudioChunk) error
	// Results yields partial/final transcripts as they become available.
	Results() <-chan STTResult
	// EndTurn signals no more audio will arrive for the current turn.
	EndTurn(ctx context.Context) error
}

// TTSClient is a bidirectional streaming text-to-speech collaborator (C14).
type TTSClient interface {
	// Synthesize streams PCM16 audio chunks for one sentence-bounded chunk
	// of text.
	Synthesize(ctx context.Context, text string, voice string) (<-chan models.AudioChunk, error)
}

// VoiceEventSink is the outbound half of the client WebSocket contract the
// Voice Pipeline Orchestrator (C14) drives (spec §6's outbound event set,
// minus the tool.call_request/tool.result pair, which the confirmation
// channel and tool executor own directly). A transport adapter implements
// this to frame events on the wire; the pipeline itself never touches
// sockets.
type VoiceEventSink interface {
	TranscriptPartial(ctx context.Context, sessionID, text string)
	TranscriptFinal(ctx context.Context, sessionID, text string)
	ResponseStart(ctx context.Context, sessionID, messageID string)
	Chunk(ctx context.Context, sessionID, messageID string, chunkIndex int, content string)
	ResponseDone(ctx context.Context, sessionID string, response models.QueryResponse)
	AudioOutput(ctx context.Context, sessionID string, chunk models.AudioChunk)
	VoiceState(ctx context.Context, sessionID string, state models.VoicePipelineState)
	Error(ctx context.Context, sessionID, code, message string, retryAfter int)
}

// ToolHandler executes one tool's side effect given validated arguments.
// Handlers receive a narrow callback surface, not the orchestrator itself
// (spec §9): no cyclic reference back into the core.
type ToolHandler func(ctx context.Context, args map[string]any, userID string) (models.ToolResult, error)

// ToolRegistry is the closed set of tools the Tool Executor (C9) may invoke.
type ToolRegistry interface {
	Get(name string) (models.ToolDefinition, ToolHandler, bool)
	List() []models.ToolDefinition
}

// ConversationStore persists sessions and messages (C10). Schema is owned
// by the store implementation; the core depends only on these operations.
type ConversationStore interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	PutSession(ctx context.Context, session *models.Session) error
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
	AppendMessage(ctx context.Context, sessionID string, message *models.Message) error
}

// Cache is a TTL-keyed get/set collaborator backing C10's write-through
// layer.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// ConfirmationChannel publishes a confirmation request correlated by tool
// call id and returns an awaitable approval signal (C9).
type ConfirmationChannel interface {
	Request(ctx context.Context, callID string, payload map[string]any) (approved bool, err error)
}

// AuditEvent is one tamper-evident, PHI-redacted record appended by C13.
// Payload is free text associated with the action (a query, serialized tool
// arguments) that must be PHI-redacted before it reaches AuditSink.Append;
// callers pass it unredacted, the audit logger does the redaction.
type AuditEvent struct {
	TraceID     string
	UserIDHash  string
	SessionID   string
	ActionKind  string
	SubjectID   string
	Outcome     string
	PHIInvolved bool
	DurationMS  int64
	Payload     string
}

// AuditSink appends audit events. Append must be non-blocking from the
// caller's perspective and at-least-once (spec §4.13).
type AuditSink interface {
	Append(ctx context.Context, event AuditEvent) error
}

// RateLimiter is a windowed counter keyed by (tool, user) with a per-tool
// budget (C9, spec §4.9/§5). The Redis implementation counts in fixed
// wall-clock windows; a sliding window is not implemented.
type RateLimiter interface {
	// Allow reports whether one more call for key is permitted within the
	// current window, given limit calls per windowSeconds.
	Allow(ctx context.Context, key string, limit int, windowSeconds int) (bool, error)
}

// ToolCallStore persists one ToolCall's state machine and its terminal
// ToolResult, linked by ToolCallID (C9, persisted state layout). The
// executor calls Save at every transition and SaveResult once on a
// terminal state; a store that only wants the final row may ignore the
// intermediate Save calls.
type ToolCallStore interface {
	Save(ctx context.Context, call *models.ToolCall) error
	SaveResult(ctx context.Context, result models.ToolResult) error
}
