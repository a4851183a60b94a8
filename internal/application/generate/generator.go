// Package generate implements the Answer Generator (C7): streams an answer
// from the routed model, suspending for tool calls as the model requests
// them. Grounded on internal/application/tools/coordinator.go's
// ExecuteWithToolsStreaming channel-based loop and MaxToolIterations guard.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

// MaxToolIterations bounds the suspend/resume loop of one generation: the
// model is called at most MaxToolIterations+1 times, each call may suspend
// for one tool execution, and after that the generator ends the stream with
// what it has.
const MaxToolIterations = 5

const RecentHistoryWindow = 5

// Generator implements ports.AnswerGenerator.
type Generator struct {
	executor ports.ToolExecutor
}

func New(executor ports.ToolExecutor) *Generator {
	return &Generator{executor: executor}
}

// Generate builds the prompt per spec §4.7 ((a) system role, (b) recent
// history, (c) ranked context, (d) clinical context, (e) query), then
// streams tokens with a gap-free chunk_index, suspending generation at each
// model-requested tool call and resuming once the result is injected.
func (g *Generator) Generate(ctx context.Context, req ports.GenerateRequest) (<-chan ports.LLMStreamChunk, error) {
	out := make(chan ports.LLMStreamChunk)

	go func() {
		defer close(out)

		messages := buildPrompt(req)
		chunkIndex := 0
		sessionID, traceID, userID := sessionFields(ctx)

		for iteration := 0; iteration <= MaxToolIterations; iteration++ {
			stream, err := req.Model.Stream(ctx, messages, req.Tools, ports.LLMParams{Streaming: true})
			if err != nil {
				emit(ctx, out, ports.LLMStreamChunk{ChunkIndex: chunkIndex, Err: err, Done: true})
				return
			}

			toolCall, done := drain(ctx, out, stream, &chunkIndex, &messages)
			if done {
				return
			}
			if toolCall == nil {
				return
			}

			result, err := g.executor.Execute(ctx, toolCall.Name, toolCall.Arguments, userID, sessionID, traceID)
			if err != nil {
				slog.Warn("generate: tool execution failed, surfacing as tool-error result", "tool", toolCall.Name, "error", err)
				result = models.ToolResult{ToolCallID: toolCall.ID, Success: false, ErrorMessage: err.Error()}
			}

			messages = append(messages, toolResultMessage(toolCall, result))
			emit(ctx, out, ports.LLMStreamChunk{ChunkIndex: chunkIndex, ToolCallID: toolCall.ID})
		}

		emit(ctx, out, ports.LLMStreamChunk{ChunkIndex: chunkIndex, Done: true})
	}()

	return out, nil
}

// drain forwards chunks from one model stream until it either finishes
// normally, errors, or requests a tool call. Returns the requested tool call
// (nil if none) and whether the overall generation is finished.
func drain(ctx context.Context, out chan<- ports.LLMStreamChunk, stream ports.LLMStream, chunkIndex *int, messages *[]ports.LLMMessage) (*ports.LLMToolCallRequest, bool) {
	defer stream.Cancel()

	var assistantText strings.Builder

	for {
		select {
		case <-ctx.Done():
			emit(ctx, out, ports.LLMStreamChunk{ChunkIndex: *chunkIndex, Err: ctx.Err(), Done: true})
			return nil, true
		case chunk, ok := <-stream.Chunks():
			if !ok {
				return nil, true
			}
			if chunk.Err != nil {
				emit(ctx, out, ports.LLMStreamChunk{ChunkIndex: *chunkIndex, Err: chunk.Err, Done: true})
				return nil, true
			}
			if chunk.ToolCall != nil {
				*messages = append(*messages, ports.LLMMessage{Role: models.RoleAssistant, Content: assistantText.String()})
				return chunk.ToolCall, false
			}

			assistantText.WriteString(chunk.Content)
			chunk.ChunkIndex = *chunkIndex
			emit(ctx, out, chunk)
			*chunkIndex++

			if chunk.Done {
				return nil, true
			}
		}
	}
}

func emit(ctx context.Context, out chan<- ports.LLMStreamChunk, chunk ports.LLMStreamChunk) {
	select {
	case out <- chunk:
	case <-ctx.Done():
	}
}

func buildPrompt(req ports.GenerateRequest) []ports.LLMMessage {
	messages := make([]ports.LLMMessage, 0, len(req.RecentHistory)+3)
	messages = append(messages, ports.LLMMessage{Role: models.RoleSystem, Content: systemRole()})

	history := req.RecentHistory
	if len(history) > RecentHistoryWindow {
		history = history[len(history)-RecentHistoryWindow:]
	}
	for _, m := range history {
		messages = append(messages, ports.LLMMessage{Role: m.Role, Content: m.Content})
	}

	if req.ClinicalContext != "" {
		messages = append(messages, ports.LLMMessage{Role: models.RoleSystem, Content: "Pinned clinical context:\n" + req.ClinicalContext})
	}

	messages = append(messages, ports.LLMMessage{Role: models.RoleSystem, Content: contextSnippets(req.RankedContext)})
	messages = append(messages, ports.LLMMessage{Role: models.RoleUser, Content: req.Query})
	return messages
}

func systemRole() string {
	return "You are a clinical assistant. Answer using only the retrieved context below. " +
		"Cite sources with bracketed numeric markers matching their position in the context list."
}

func contextSnippets(ranked []models.RankedResult) string {
	var b strings.Builder
	b.WriteString("Retrieved context, in scored order:\n")
	for i, r := range ranked {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, r.Source, r.Content)
	}
	return b.String()
}

func toolResultMessage(call *ports.LLMToolCallRequest, result models.ToolResult) ports.LLMMessage {
	status := "ok"
	if !result.Success {
		status = "error: " + result.ErrorMessage
	}
	return ports.LLMMessage{Role: models.RoleTool, Content: fmt.Sprintf("tool %s result: %s", call.Name, status)}
}

// sessionFields pulls session/trace/user identifiers stashed in ctx by the
// query use case; see internal/application/query.
func sessionFields(ctx context.Context) (sessionID, traceID, userID string) {
	get := func(k ctxKey) string {
		if v, ok := ctx.Value(k).(string); ok {
			return v
		}
		return ""
	}
	return get(sessionIDKey), get(traceIDKey), get(userIDKey)
}

type ctxKey string

const (
	sessionIDKey ctxKey = "session_id"
	traceIDKey   ctxKey = "trace_id"
	userIDKey    ctxKey = "user_id"
)

// WithRequestFields stashes identifiers the generator needs for tool
// execution into ctx.
func WithRequestFields(ctx context.Context, sessionID, userID, traceID string) context.Context {
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	return ctx
}
