package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sageclinic/orchestrator/internal/domain"
	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

type fakePHI struct{}

func (fakePHI) Detect(ctx context.Context, text string) (models.PHIVerdict, error) {
	return models.PHIVerdict{}, nil
}

type fakeIntent struct{}

func (fakeIntent) Classify(ctx context.Context, text string, convCtx *models.ConversationContext) (models.Intent, error) {
	return models.Intent{Tag: models.IntentGeneral, Confidence: 1}, nil
}

type fakeSelector struct {
	clarify *models.ClarificationRequest
}

func (f fakeSelector) Select(ctx context.Context, intent models.Intent, query string, prefs *models.Preferences) ([]models.SourceDescriptor, *models.ClarificationRequest) {
	if f.clarify != nil {
		return nil, f.clarify
	}
	return []models.SourceDescriptor{{Name: "kb", Kind: models.SourceInternalKB}}, nil
}

type fakeFanout struct{ allUnavailable bool }

func (f fakeFanout) SearchAll(ctx context.Context, query string, sources []models.SourceDescriptor) ([]models.SearchResult, []models.SourceQueryOutcome) {
	if f.allUnavailable {
		return nil, []models.SourceQueryOutcome{{Name: "kb", Outcome: models.OutcomeUnavailable}}
	}
	return []models.SearchResult{{Source: "kb", Content: "metformin dosing", Score: 1}},
		[]models.SourceQueryOutcome{{Name: "kb", Outcome: models.OutcomeOK}}
}

type fakeReranker struct{}

func (fakeReranker) Rerank(ctx context.Context, query string, results []models.SearchResult, topK int) ([]models.RankedResult, error) {
	out := make([]models.RankedResult, len(results))
	for i, r := range results {
		out[i] = models.RankedResult{SearchResult: r, RerankScore: r.Score}
	}
	return out, nil
}

type fakeModel struct{ id string }

func (f fakeModel) ModelID() string     { return f.id }
func (f fakeModel) LocalCapable() bool  { return true }
func (f fakeModel) Stream(ctx context.Context, messages []ports.LLMMessage, tools []models.ToolDefinition, params ports.LLMParams) (ports.LLMStream, error) {
	return nil, nil
}

type fakeRouter struct{ model ports.LLMClient }

func (f fakeRouter) Choose(ctx context.Context, verdict models.PHIVerdict) (ports.LLMClient, error) {
	return f.model, nil
}

type fakeGenerator struct{ chunks []ports.LLMStreamChunk }

func (f fakeGenerator) Generate(ctx context.Context, req ports.GenerateRequest) (<-chan ports.LLMStreamChunk, error) {
	out := make(chan ports.LLMStreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

type fakeAssembler struct{}

func (fakeAssembler) Assemble(ctx context.Context, query string, answer models.GeneratedAnswer, ranked []models.RankedResult, meta models.ResponseMetadata) models.QueryResponse {
	return models.QueryResponse{Answer: answer.Text, Metadata: meta}
}

type fakeRegistry struct{}

func (fakeRegistry) Get(name string) (models.ToolDefinition, ports.ToolHandler, bool) { return models.ToolDefinition{}, nil, false }
func (fakeRegistry) List() []models.ToolDefinition                                    { return nil }

type fakeStore struct {
	session *models.Session
	convCtx *models.ConversationContext
}

func newFakeStore() *fakeStore {
	return &fakeStore{convCtx: models.NewConversationContext("sess-1", 10)}
}

func (f *fakeStore) Get(ctx context.Context, sessionID string) (*models.ConversationContext, error) {
	return f.convCtx, nil
}
func (f *fakeStore) Put(ctx context.Context, sessionID string, convCtx *models.ConversationContext, session *models.Session) error {
	f.session = session
	return nil
}
func (f *fakeStore) AppendMessage(ctx context.Context, sessionID string, convCtx *models.ConversationContext, message *models.Message) error {
	convCtx.AppendMessage(message)
	return nil
}

type fakeAudit struct{ events []ports.AuditEvent }

func (f *fakeAudit) Append(ctx context.Context, event ports.AuditEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeIDs struct{ n int }

func (f *fakeIDs) GenerateMessageID() string { f.n++; return "msg-gen" }
func (f *fakeIDs) GenerateTraceID() string   { return "trace-gen" }

type fakeDegraded struct{ degraded bool }

func (f fakeDegraded) IsDegraded() bool                             { return f.degraded }
func (f fakeDegraded) Evaluate(states []models.CircuitBreakerState) {}

func newHandler(selector fakeSelector, generator fakeGenerator) *Handler {
	return newHandlerWithCollaborators(selector, fakeFanout{}, generator, nil)
}

func newHandlerWithCollaborators(selector fakeSelector, fanout fakeFanout, generator fakeGenerator, degraded ports.DegradedModeController) *Handler {
	return New(fakePHI{}, fakeIntent{}, selector, fanout, fakeReranker{},
		fakeRouter{model: fakeModel{id: "local-model"}}, generator, fakeAssembler{},
		fakeRegistry{}, newFakeStore(), degraded, &fakeAudit{}, &fakeIDs{})
}

func TestHandleHappyPath(t *testing.T) {
	h := newHandler(fakeSelector{}, fakeGenerator{chunks: []ports.LLMStreamChunk{
		{ChunkIndex: 0, Content: "Metformin 500mg twice daily."},
	}})

	resp, err := h.Handle(context.Background(), "sess-1", "user-1", "what is the metformin dose?", "")
	require.NoError(t, err)
	assert.Equal(t, "Metformin 500mg twice daily.", resp.Answer)
	assert.Equal(t, models.IntentGeneral, resp.Metadata.Intent)
	assert.Equal(t, "local-model", resp.Metadata.ModelID)
}

func TestHandleReturnsClarificationWithoutGenerating(t *testing.T) {
	h := newHandler(fakeSelector{clarify: &models.ClarificationRequest{Question: "which patient?", Reason: "ambiguous_term"}},
		fakeGenerator{})
	resp, err := h.Handle(context.Background(), "sess-1", "user-1", "tell me about it", "")
	require.NoError(t, err)
	require.NotNil(t, resp.Clarification)
	assert.Equal(t, "which patient?", resp.Clarification.Question)
}

func TestHandlePropagatesStreamError(t *testing.T) {
	h := newHandler(fakeSelector{}, fakeGenerator{chunks: []ports.LLMStreamChunk{
		{ChunkIndex: 0, Err: context.DeadlineExceeded},
	}})

	_, err := h.Handle(context.Background(), "sess-1", "user-1", "query", "")
	assert.Error(t, err)
}

func TestHandleUsesProvidedTraceID(t *testing.T) {
	h := newHandler(fakeSelector{}, fakeGenerator{chunks: []ports.LLMStreamChunk{{ChunkIndex: 0, Content: "ok"}}})
	resp, err := h.Handle(context.Background(), "sess-1", "user-1", "query", "trace-explicit")
	require.NoError(t, err)
	assert.Equal(t, "trace-explicit", resp.Metadata.TraceID)
}

func TestHandleAllSourcesUnavailableFailsWithKBUnavailable(t *testing.T) {
	h := newHandlerWithCollaborators(fakeSelector{}, fakeFanout{allUnavailable: true}, fakeGenerator{}, nil)

	_, err := h.Handle(context.Background(), "sess-1", "user-1", "what is the metformin dose?", "")
	require.Error(t, err)

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.CodeKBUnavailable, domainErr.Code)
}

func TestHandleDegradedModeSkipsGenerationAndReturnsNotice(t *testing.T) {
	generator := fakeGenerator{chunks: []ports.LLMStreamChunk{{ChunkIndex: 0, Content: "should never be used"}}}
	h := newHandlerWithCollaborators(fakeSelector{}, fakeFanout{}, generator, fakeDegraded{degraded: true})

	resp, err := h.Handle(context.Background(), "sess-1", "user-1", "what is the metformin dose?", "")
	require.NoError(t, err)
	assert.True(t, resp.Metadata.DegradedMode)
	assert.Contains(t, resp.Answer, "degraded mode")
	assert.Contains(t, resp.Answer, "metformin dosing")
	assert.NotContains(t, resp.Answer, "should never be used")
}

func TestHandleDegradedModeWithNoContextFailsWithDegradedMode(t *testing.T) {
	h := newHandlerWithCollaborators(fakeSelector{}, fakeFanout{allUnavailable: true}, fakeGenerator{}, fakeDegraded{degraded: true})

	_, err := h.Handle(context.Background(), "sess-1", "user-1", "what is the metformin dose?", "")
	require.Error(t, err)

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	// the fan-out all-unavailable check runs before the degraded-mode
	// branch, so this is the code that surfaces either way.
	assert.Equal(t, domain.CodeKBUnavailable, domainErr.Code)
}

func TestHandleThreadsToolCallIDsIntoMetadata(t *testing.T) {
	generator := fakeGenerator{chunks: []ports.LLMStreamChunk{
		{ChunkIndex: 0, ToolCallID: "call-1"},
		{ChunkIndex: 1, Content: "Scheduled."},
	}}
	h := newHandler(fakeSelector{}, generator)

	resp, err := h.Handle(context.Background(), "sess-1", "user-1", "schedule a follow-up", "")
	require.NoError(t, err)
	assert.Equal(t, "Scheduled.", resp.Answer)
	assert.Equal(t, []string{"call-1"}, resp.Metadata.ToolCallIDs)
}
