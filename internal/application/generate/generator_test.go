package generate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

// fakeStream replays a fixed chunk sequence, the same shape a real
// LLMClient.Stream implementation hands back per call.
type fakeStream struct {
	chunks    []ports.LLMStreamChunk
	cancelled bool
}

func (f *fakeStream) Chunks() <-chan ports.LLMStreamChunk {
	out := make(chan ports.LLMStreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out
}

func (f *fakeStream) Cancel() { f.cancelled = true }

// fakeModel returns one fakeStream per Stream call, in order, so a test can
// script a multi-iteration suspend/resume exchange.
type fakeModel struct {
	calls   int
	streams [][]ports.LLMStreamChunk
}

func (f *fakeModel) ModelID() string    { return "test-model" }
func (f *fakeModel) LocalCapable() bool { return true }
func (f *fakeModel) Stream(ctx context.Context, messages []ports.LLMMessage, tools []models.ToolDefinition, params ports.LLMParams) (ports.LLMStream, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.streams) {
		return &fakeStream{chunks: []ports.LLMStreamChunk{{ChunkIndex: 0, Done: true}}}, nil
	}
	return &fakeStream{chunks: f.streams[idx]}, nil
}

// fakeExecutor records every tool call it's asked to run and returns a
// canned success result.
type fakeExecutor struct {
	calls []string
	err   error
}

func (f *fakeExecutor) Execute(ctx context.Context, name string, rawArgs map[string]any, userID, sessionID, traceID string) (models.ToolResult, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return models.ToolResult{}, f.err
	}
	return models.ToolResult{Success: true}, nil
}

func drainAll(t *testing.T, chunks <-chan ports.LLMStreamChunk) []ports.LLMStreamChunk {
	t.Helper()
	var out []ports.LLMStreamChunk
	for c := range chunks {
		out = append(out, c)
	}
	return out
}

func TestGenerateStreamsTextWithGapFreeChunkIndex(t *testing.T) {
	model := &fakeModel{streams: [][]ports.LLMStreamChunk{
		{
			{Content: "Metformin "},
			{Content: "500mg twice daily.", Done: true},
		},
	}}
	g := New(&fakeExecutor{})

	chunks, err := g.Generate(context.Background(), ports.GenerateRequest{Query: "dose?", Model: model})
	require.NoError(t, err)

	out := drainAll(t, chunks)
	require.Len(t, out, 2)
	assert.Equal(t, 0, out[0].ChunkIndex)
	assert.Equal(t, 1, out[1].ChunkIndex)
	assert.Equal(t, "Metformin ", out[0].Content)
	assert.Equal(t, "500mg twice daily.", out[1].Content)
	assert.True(t, out[1].Done)
}

func TestGenerateSuspendsForToolCallAndResumes(t *testing.T) {
	toolCall := &ports.LLMToolCallRequest{ID: "call-1", Name: "create_calendar_event", Arguments: map[string]any{"when": "tomorrow"}}
	model := &fakeModel{streams: [][]ports.LLMStreamChunk{
		{
			{Content: "Let me schedule that."},
			{ToolCall: toolCall},
		},
		{
			{Content: "Done, it's on your calendar.", Done: true},
		},
	}}
	executor := &fakeExecutor{}
	g := New(executor)

	chunks, err := g.Generate(context.Background(), ports.GenerateRequest{Query: "book a follow-up", Model: model})
	require.NoError(t, err)

	out := drainAll(t, chunks)

	require.Equal(t, []string{"create_calendar_event"}, executor.calls)

	var toolCallIDs []string
	var text string
	for _, c := range out {
		if c.ToolCallID != "" {
			toolCallIDs = append(toolCallIDs, c.ToolCallID)
			continue
		}
		text += c.Content
	}
	assert.Equal(t, []string{"call-1"}, toolCallIDs)
	assert.Equal(t, "Let me schedule that.Done, it's on your calendar.", text)
	assert.Equal(t, 2, model.calls)
}

func TestGenerateSurfacesToolExecutionFailureAsResultMessage(t *testing.T) {
	toolCall := &ports.LLMToolCallRequest{ID: "call-1", Name: "create_calendar_event"}
	model := &fakeModel{streams: [][]ports.LLMStreamChunk{
		{{ToolCall: toolCall}},
		{{Content: "I couldn't schedule that.", Done: true}},
	}}
	executor := &fakeExecutor{err: assert.AnError}
	g := New(executor)

	chunks, err := g.Generate(context.Background(), ports.GenerateRequest{Query: "book a follow-up", Model: model})
	require.NoError(t, err)

	out := drainAll(t, chunks)
	require.Equal(t, []string{"create_calendar_event"}, executor.calls)

	var text string
	for _, c := range out {
		text += c.Content
	}
	assert.Equal(t, "I couldn't schedule that.", text)
}

func TestGenerateStopsAtMaxToolIterations(t *testing.T) {
	streams := make([][]ports.LLMStreamChunk, 0, MaxToolIterations+1)
	for i := 0; i <= MaxToolIterations; i++ {
		call := &ports.LLMToolCallRequest{ID: "call", Name: "noop"}
		streams = append(streams, []ports.LLMStreamChunk{{ToolCall: call}})
	}
	model := &fakeModel{streams: streams}
	executor := &fakeExecutor{}
	g := New(executor)

	chunks, err := g.Generate(context.Background(), ports.GenerateRequest{Query: "loop forever", Model: model})
	require.NoError(t, err)

	out := drainAll(t, chunks)
	require.NotEmpty(t, out)
	assert.True(t, out[len(out)-1].Done)
	assert.Equal(t, MaxToolIterations+1, model.calls)
	assert.Equal(t, MaxToolIterations+1, len(executor.calls))
}

func TestGenerateStopsOnContextCancellation(t *testing.T) {
	model := &fakeModel{streams: [][]ports.LLMStreamChunk{
		{{Content: "partial"}},
	}}
	g := New(&fakeExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chunks, err := g.Generate(ctx, ports.GenerateRequest{Query: "dose?", Model: model})
	require.NoError(t, err)

	out := drainAll(t, chunks)
	require.NotEmpty(t, out)
	last := out[len(out)-1]
	assert.True(t, last.Done)
}
