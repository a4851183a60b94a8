package server

import (
	"context"

	"github.com/sageclinic/orchestrator/internal/adapters/livekit"
	"github.com/sageclinic/orchestrator/internal/application/query"
	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

// contextStore is the narrow surface query.Handler needs, mirrored here so
// Dependencies doesn't have to import the concrete internal/application/context
// package.
type contextStore interface {
	Get(ctx context.Context, sessionID string) (*models.ConversationContext, error)
	Put(ctx context.Context, sessionID string, convCtx *models.ConversationContext, session *models.Session) error
	AppendMessage(ctx context.Context, sessionID string, convCtx *models.ConversationContext, message *models.Message) error
}

// idGenerator is the narrow id.Generator surface this package's
// per-session constructions need (query.Handler, voice.Pipeline, and the
// tool Executor each want a different subset; id.Generator satisfies all
// of them structurally).
type idGenerator interface {
	GenerateMessageID() string
	GenerateTraceID() string
	GenerateToolUseID() string
	GenerateSessionID() string
	GenerateVoiceSessionID() string
}

// sttFactory/ttsFactory build one session's bidirectional voice
// collaborators; STTAdapter buffers audio per instance so it cannot be
// shared across concurrent voice sessions.
type sttFactory func() ports.STTClient
type ttsFactory func() ports.TTSClient

// Dependencies bundles every shared, process-lifetime collaborator the
// server needs to build a per-connection query.Handler and, lazily, a
// voice.Pipeline. Everything here is safe for concurrent use by every
// session; only the tool Executor (and, through it, the confirmation
// channel) is constructed fresh per connection, since a confirmation
// round trip is addressed to one specific socket.
type Dependencies struct {
	PHI          ports.PHIDetector
	Intent       ports.IntentClassifier
	Selector     ports.SourceSelector
	Fanout       ports.SearchFanout
	Reranker     ports.Reranker
	Router       ports.ModelRouter
	Assembler    ports.ResponseAssembler
	ToolRegistry ports.ToolRegistry
	ContextStore contextStore
	Degraded     ports.DegradedModeController
	Audit        ports.AuditSink
	IDs          idGenerator
	RateLimiter  ports.RateLimiter
	Breakers     ports.CircuitBreakerRegistry
	ToolCalls    ports.ToolCallStore

	STTFactory sttFactory
	TTSFactory ttsFactory

	DefaultVoice    string
	DefaultLanguage string

	CORSOrigins []string

	// LiveKit is nil unless the deployment configured WebRTC room
	// credentials; handleVoiceRoom is only registered when it is set.
	LiveKit    *livekit.Service
	LiveKitURL string
}

// queryHandlerDeps is satisfied by query.Handler's own constructor
// signature; kept here only so buildHandler reads as one call.
func (d *Dependencies) buildHandler(confirm ports.ConfirmationChannel) *query.Handler {
	executor := newExecutor(d, confirm)
	generator := newGenerator(executor)
	return query.New(
		d.PHI, d.Intent, d.Selector, d.Fanout, d.Reranker, d.Router,
		generator, d.Assembler, d.ToolRegistry, d.ContextStore, d.Degraded,
		d.Audit, d.IDs,
	)
}
