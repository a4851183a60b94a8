// Package query implements the top-level per-request entrypoint: it wires
// C1 (PHI) through C9 (tools) into one ports.QueryUseCase, the same sequence
// the voice pipeline (C14) drives per turn. Grounded on the teacher's
// usecases/process_message.go orchestration shape (classify, retrieve,
// generate, persist, degrade-on-breaker-state).
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sageclinic/orchestrator/internal/application/generate"
	"github.com/sageclinic/orchestrator/internal/domain"
	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

// GlobalDeadline bounds one text query end to end (spec §5).
const GlobalDeadline = 30 * time.Second

// RerankTopK is how many ranked results the generator's context window gets.
const RerankTopK = 8

// idGenerator is the narrow id.Generator surface the handler needs.
type idGenerator interface {
	GenerateMessageID() string
	GenerateTraceID() string
}

// contextStore is the narrow surface of internal/application/context.Store
// the handler needs, kept local to avoid an import cycle on the concrete
// package (both depend on ports, neither on the other).
type contextStore interface {
	Get(ctx context.Context, sessionID string) (*models.ConversationContext, error)
	Put(ctx context.Context, sessionID string, convCtx *models.ConversationContext, session *models.Session) error
	AppendMessage(ctx context.Context, sessionID string, convCtx *models.ConversationContext, message *models.Message) error
}

// Handler implements ports.QueryUseCase, driving one query through the
// PHI classifier, intent classifier, source selector, search fan-out,
// reranker, model router, answer generator, response assembler, and audit
// logger, persisting through the conversation context store throughout.
// Its Stream/Finish split lets the voice pipeline (C14) consume the same
// C1-C6 preparation and token stream sentence-by-sentence instead of
// waiting for the full text answer the way Handle does.
type Handler struct {
	phi          ports.PHIDetector
	intent       ports.IntentClassifier
	selector     ports.SourceSelector
	fanout       ports.SearchFanout
	reranker     ports.Reranker
	router       ports.ModelRouter
	generator    ports.AnswerGenerator
	assembler    ports.ResponseAssembler
	tools        ports.ToolRegistry
	contextStore contextStore
	degraded     ports.DegradedModeController
	audit        ports.AuditSink
	ids          idGenerator
	now          func() time.Time
}

func New(
	phi ports.PHIDetector,
	intent ports.IntentClassifier,
	selector ports.SourceSelector,
	fanout ports.SearchFanout,
	reranker ports.Reranker,
	router ports.ModelRouter,
	generator ports.AnswerGenerator,
	assembler ports.ResponseAssembler,
	tools ports.ToolRegistry,
	store contextStore,
	degraded ports.DegradedModeController,
	audit ports.AuditSink,
	ids idGenerator,
) *Handler {
	return &Handler{
		phi: phi, intent: intent, selector: selector, fanout: fanout,
		reranker: reranker, router: router, generator: generator,
		assembler: assembler, tools: tools, contextStore: store,
		degraded: degraded, audit: audit, ids: ids, now: time.Now,
	}
}

// Prepared is the C1-C6 outcome for one turn: retrieved and ranked context,
// the chosen model, and the facts needed to assemble and audit the eventual
// response. Returned by Prepare so Handle and the voice pipeline can share
// one retrieval path but diverge on how they consume the token stream.
type Prepared struct {
	ConvCtx       *models.ConversationContext
	Verdict       models.PHIVerdict
	Intent        models.Intent
	Clarification *models.ClarificationRequest
	Ranked        []models.RankedResult
	Outcomes      []models.SourceQueryOutcome
	Model         ports.LLMClient
	DegradedMode  bool
	TraceID       string
	Started       time.Time
}

// Prepare runs C1 (PHI), C2 (intent), C3 (source selection), C4 (fan-out),
// C5 (rerank), and C6 (routing) for one query, appending the user's message
// to history along the way. If Clarification is set, the caller must stop
// short of generation and surface it directly.
func (h *Handler) Prepare(ctx context.Context, sessionID, userID, text, traceID string) (context.Context, *Prepared, error) {
	if traceID == "" {
		traceID = h.ids.GenerateTraceID()
	}
	ctx = generate.WithRequestFields(ctx, sessionID, userID, traceID)

	convCtx, err := h.contextStore.Get(ctx, sessionID)
	if err != nil {
		h.auditQuery(ctx, sessionID, userID, traceID, "error", false, 0)
		return ctx, nil, domain.NewDomainErrorWithCode(domain.ErrSessionNotFound, "session not found", domain.CodeSessionNotFound)
	}

	started := h.now()
	userMessage := models.NewMessage(h.ids.GenerateMessageID(), sessionID, models.RoleUser, text, started)
	if err := h.contextStore.AppendMessage(ctx, sessionID, convCtx, userMessage); err != nil {
		slog.Warn("query: failed to persist user message", "session_id", sessionID, "error", err)
	}

	verdict, err := h.phi.Detect(ctx, text)
	if err != nil {
		verdict = models.ConservativeVerdict()
	}

	degradedMode := h.degraded != nil && h.degraded.IsDegraded()

	intentResult, err := h.intent.Classify(ctx, text, convCtx)
	if err != nil {
		intentResult = models.Intent{Tag: models.IntentGeneral}
	}
	convCtx.CurrentIntent = &intentResult

	prepared := &Prepared{
		ConvCtx: convCtx, Verdict: verdict, Intent: intentResult,
		DegradedMode: degradedMode, TraceID: traceID, Started: started,
	}

	sources, clarification := h.selector.Select(ctx, intentResult, text, convCtx.Preferences)
	if clarification != nil {
		convCtx.PendingClarification = true
		prepared.Clarification = clarification
		return ctx, prepared, nil
	}

	results, outcomes := h.fanout.SearchAll(ctx, text, sources)
	if len(results) == 0 && len(outcomes) > 0 && allUnavailable(outcomes) {
		h.auditQuery(ctx, sessionID, userID, traceID, "error", verdict.HasPHI, h.now().Sub(started).Milliseconds())
		return ctx, nil, domain.NewDomainErrorWithCode(domain.ErrAllSourcesUnavailable, "all selected sources are unavailable", domain.CodeKBUnavailable)
	}

	ranked, err := h.reranker.Rerank(ctx, text, results, RerankTopK)
	if err != nil {
		slog.Warn("query: rerank failed, answering without ranked context", "session_id", sessionID, "error", err)
		ranked = nil
	}
	prepared.Ranked = ranked
	prepared.Outcomes = outcomes

	model, err := h.router.Choose(ctx, verdict)
	if err != nil {
		h.auditQuery(ctx, sessionID, userID, traceID, "error", verdict.HasPHI, h.now().Sub(started).Milliseconds())
		return ctx, nil, domain.NewDomainErrorWithCode(domain.ErrNoModelAvailable, "no model available", domain.CodeLLMUnavailable)
	}
	prepared.Model = model

	return ctx, prepared, nil
}

// Stream runs C7: it builds the prompt from prepared and the query text and
// returns the raw token/tool-call-suspension chunk stream. Callers that need
// sentence boundaries (the voice pipeline) consume this directly; Handle
// consumes it via collect.
func (h *Handler) Stream(ctx context.Context, text string, prepared *Prepared) (<-chan ports.LLMStreamChunk, error) {
	return h.generator.Generate(ctx, ports.GenerateRequest{
		Query:           text,
		RankedContext:   prepared.Ranked,
		ClinicalContext: prepared.ConvCtx.PinnedContext,
		RecentHistory:   prepared.ConvCtx.RecentHistory(generate.RecentHistoryWindow),
		Model:           prepared.Model,
		Tools:           h.tools.List(),
	})
}

// Finish runs C8 (assembly) and persists the assistant's message, then
// audits the turn. sessionID, userID identify the turn for the audit record;
// genErr is the error (if any) surfaced while draining the stream.
func (h *Handler) Finish(ctx context.Context, sessionID, userID, text string, prepared *Prepared, answer models.GeneratedAnswer, genErr error) models.QueryResponse {
	response := h.assembler.Assemble(ctx, text, answer, prepared.Ranked, models.ResponseMetadata{
		ModelID: answer.ModelID, PHIDetected: prepared.Verdict.HasPHI, Intent: prepared.Intent.Tag,
		Sources: prepared.Outcomes, TokensUsed: answer.TokensUsed, CostUSD: answer.CostUSD,
		TraceID: prepared.TraceID, DegradedMode: prepared.DegradedMode,
		ToolCallIDs: answer.ToolCallIDs,
	})
	response.MessageID = h.ids.GenerateMessageID()
	response.CreatedAt = h.now()

	assistantMessage := models.NewMessage(response.MessageID, sessionID, models.RoleAssistant, "", prepared.Started)
	assistantMessage.Complete(response.Answer, response.Citations)
	if err := h.contextStore.AppendMessage(ctx, sessionID, prepared.ConvCtx, assistantMessage); err != nil {
		slog.Warn("query: failed to persist assistant message", "session_id", sessionID, "error", err)
	}

	outcome := "ok"
	if genErr != nil {
		outcome = "error"
	}
	h.auditQuery(ctx, sessionID, userID, prepared.TraceID, outcome, prepared.Verdict.HasPHI, h.now().Sub(prepared.Started).Milliseconds())

	return response
}

// Handle runs text through C1-C9 and returns the assembled response,
// appending both the user's message and the assistant's answer to the
// session's conversation history (spec §3, §4.1-§4.9).
func (h *Handler) Handle(ctx context.Context, sessionID, userID, text, traceID string) (models.QueryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, GlobalDeadline)
	defer cancel()

	ctx, prepared, err := h.Prepare(ctx, sessionID, userID, text, traceID)
	if err != nil {
		return models.QueryResponse{}, err
	}
	if prepared.Clarification != nil {
		return models.QueryResponse{
			Clarification: prepared.Clarification,
			CreatedAt:     h.now(),
			Metadata: models.ResponseMetadata{
				Intent: prepared.Intent.Tag, TraceID: prepared.TraceID,
				PHIDetected: prepared.Verdict.HasPHI, DegradedMode: prepared.DegradedMode,
			},
		}, nil
	}

	if prepared.DegradedMode {
		if len(prepared.Ranked) == 0 {
			h.auditQuery(ctx, sessionID, userID, prepared.TraceID, "error", prepared.Verdict.HasPHI, h.now().Sub(prepared.Started).Milliseconds())
			return models.QueryResponse{}, domain.NewDomainErrorWithCode(domain.ErrDegradedMode, "orchestrator is in degraded mode and no retrieved context is available", domain.CodeDegradedMode)
		}
		response := h.Finish(ctx, sessionID, userID, text, prepared, BuildDegradedAnswer(prepared.Ranked), nil)
		return response, nil
	}

	chunks, err := h.Stream(ctx, text, prepared)
	if err != nil {
		h.auditQuery(ctx, sessionID, userID, prepared.TraceID, "error", prepared.Verdict.HasPHI, h.now().Sub(prepared.Started).Milliseconds())
		return models.QueryResponse{}, domain.NewDomainErrorWithCode(err, "generation failed", domain.CodeLLMUnavailable)
	}

	answer, genErr := collect(ctx, chunks, prepared.Model.ModelID())
	response := h.Finish(ctx, sessionID, userID, text, prepared, answer, genErr)
	return response, genErr
}

// allUnavailable reports whether every fan-out leg failed, timed out, or
// was skipped on an open circuit, per spec §8's "never silently returns an
// empty answer" property.
func allUnavailable(outcomes []models.SourceQueryOutcome) bool {
	for _, o := range outcomes {
		if o.Outcome == models.OutcomeOK {
			return false
		}
	}
	return true
}

// degradedNotice prefixes a degraded-mode response so it reads as a
// notice rather than a generated answer (spec §4.12 scenario 6).
const degradedNotice = "The orchestrator is operating in degraded mode: automated answer generation is unavailable right now. Below are the most relevant retrieved excerpts for your question; please review them directly."

// BuildDegradedAnswer assembles a GeneratedAnswer from top-ranked excerpts
// without invoking any model, for use when Prepared.DegradedMode is set
// (spec §4.12: "no LLM call is attempted"). Shared with the voice pipeline
// (C14), which drives the same Prepare/Stream/Finish split.
func BuildDegradedAnswer(ranked []models.RankedResult) models.GeneratedAnswer {
	var b strings.Builder
	b.WriteString(degradedNotice)
	for i, r := range ranked {
		fmt.Fprintf(&b, "\n\n[%d] (%s) %s", i+1, r.Source, r.Content)
	}
	return models.GeneratedAnswer{Text: b.String(), ModelID: "degraded-notice"}
}

// collect drains a chunk stream into one GeneratedAnswer; this is a pure
// fold, not a suspension point beyond the channel receive itself.
func collect(ctx context.Context, chunks <-chan ports.LLMStreamChunk, modelID string) (models.GeneratedAnswer, error) {
	var answer models.GeneratedAnswer
	answer.ModelID = modelID

	for chunk := range chunks {
		if chunk.Err != nil {
			return answer, chunk.Err
		}
		if chunk.ToolCallID != "" {
			answer.ToolCallIDs = append(answer.ToolCallIDs, chunk.ToolCallID)
			continue
		}
		answer.Text += chunk.Content
		answer.ChunkCount++
	}
	return answer, ctx.Err()
}

func (h *Handler) auditQuery(ctx context.Context, sessionID, userID, traceID, outcome string, phiInvolved bool, durationMS int64) {
	if h.audit == nil {
		return
	}
	_ = h.audit.Append(ctx, ports.AuditEvent{
		TraceID: traceID, UserIDHash: userID, SessionID: sessionID,
		ActionKind: "query", Outcome: outcome, PHIInvolved: phiInvolved, DurationMS: durationMS,
	})
}
