package ports

import (
	"context"

	"github.com/sageclinic/orchestrator/internal/domain/models"
)

// SourceSelector picks a prioritized source set, or signals that the query
// should be answered with a clarification request instead (C3, spec §4.3).
type SourceSelector interface {
	Select(ctx context.Context, intent models.Intent, query string, prefs *models.Preferences) ([]models.SourceDescriptor, *models.ClarificationRequest)
}

// SearchFanout concurrently queries the selected sources under the
// per-source and global deadlines (C4).
type SearchFanout interface {
	SearchAll(ctx context.Context, query string, sources []models.SourceDescriptor) ([]models.SearchResult, []models.SourceQueryOutcome)
}

// Reranker scores, dedupes, filters, and truncates fused results (C5).
type Reranker interface {
	Rerank(ctx context.Context, query string, results []models.SearchResult, topK int) ([]models.RankedResult, error)
}

// ModelRouter chooses a model handle based on the PHI verdict and the
// configured routing policy (C6).
type ModelRouter interface {
	Choose(ctx context.Context, verdict models.PHIVerdict) (LLMClient, error)
}

// AnswerGenerator streams an answer over retrieved context, suspending for
// tool calls as needed (C7).
type AnswerGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (<-chan LLMStreamChunk, error)
}

// GenerateRequest bundles everything the Answer Generator needs to build
// its prompt (spec §4.7).
type GenerateRequest struct {
	Query           string
	RankedContext   []models.RankedResult
	ClinicalContext string
	RecentHistory   []*models.Message
	Model           LLMClient
	Tools           []models.ToolDefinition
}

// ResponseAssembler attaches inline citations and finalizes the payload (C8).
type ResponseAssembler interface {
	Assemble(ctx context.Context, query string, answer models.GeneratedAnswer, ranked []models.RankedResult, meta models.ResponseMetadata) models.QueryResponse
}

// ToolExecutor validates, authorizes, confirms, executes, and audits one
// tool call end to end (C9).
type ToolExecutor interface {
	Execute(ctx context.Context, name string, rawArgs map[string]any, userID, sessionID, traceID string) (models.ToolResult, error)
}

// CircuitBreakerRegistry guards calls to external dependencies keyed by
// name and records outcomes (C11).
type CircuitBreakerRegistry interface {
	Guard(ctx context.Context, key string, call func(ctx context.Context) error) error
	State(key string) models.CircuitBreakerState
	States() []models.CircuitBreakerState
}

// DegradedModeController observes breaker states and flips the pipeline
// into a reduced-capability fallback path (C12).
type DegradedModeController interface {
	IsDegraded() bool
	Evaluate(states []models.CircuitBreakerState)
}

// QueryUseCase is the top-level per-request entrypoint for a text query.
type QueryUseCase interface {
	Handle(ctx context.Context, sessionID, userID, text, traceID string) (models.QueryResponse, error)
}
