package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

func TestOpenAIClientStreamsTextAndToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		events := []string{
			`{"id":"1","object":"chat.completion.chunk","created":1,"model":"local","choices":[{"index":0,"delta":{"content":"met"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","created":1,"model":"local","choices":[{"index":0,"delta":{"content":"formin"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","created":1,"model":"local","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"lookup_drug","arguments":"{\"name\":"}}]}}]}`,
			`{"id":"1","object":"chat.completion.chunk","created":1,"model":"local","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"metformin\"}"}}]}}]}`,
			`{"id":"1","object":"chat.completion.chunk","created":1,"model":"local","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "test-key", "local-model", true)
	if client.ModelID() != "local-model" {
		t.Fatalf("expected model id local-model, got %s", client.ModelID())
	}
	if !client.LocalCapable() {
		t.Fatal("expected local backend to be LocalCapable")
	}

	stream, err := client.Stream(context.Background(), []ports.LLMMessage{
		{Role: models.RoleUser, Content: "what's the dose"},
	}, nil, ports.LLMParams{MaxTokens: 128})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Cancel()

	var text string
	var toolCall *ports.LLMToolCallRequest
	done := false

	for !done {
		select {
		case chunk := <-stream.Chunks():
			if chunk.Err != nil {
				t.Fatalf("unexpected stream error: %v", chunk.Err)
			}
			text += chunk.Content
			if chunk.ToolCall != nil {
				toolCall = chunk.ToolCall
			}
			if chunk.Done {
				done = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stream to complete")
		}
	}

	if text != "metformin" {
		t.Fatalf("expected accumulated text %q, got %q", "metformin", text)
	}
	if toolCall == nil {
		t.Fatal("expected a tool call chunk")
	}
	if toolCall.Name != "lookup_drug" || toolCall.ID != "call_1" {
		t.Fatalf("unexpected tool call: %+v", toolCall)
	}
	if toolCall.Arguments["name"] != "metformin" {
		t.Fatalf("expected accumulated tool arguments, got %+v", toolCall.Arguments)
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	out := convertOpenAIMessages([]ports.LLMMessage{
		{Role: models.RoleSystem, Content: "be concise"},
		{Role: models.RoleUser, Content: "hello"},
	})
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].Role != "system" || out[1].Role != "user" {
		t.Fatalf("unexpected roles: %+v", out)
	}
}

func TestConvertOpenAITools(t *testing.T) {
	tools := []models.ToolDefinition{
		{Name: "lookup_drug", Category: "clinical", ArgumentSchema: map[string]any{"type": "object"}},
	}
	out := convertOpenAITools(tools)
	if len(out) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(out))
	}
	if out[0].Function.Name != "lookup_drug" {
		t.Fatalf("unexpected tool name: %s", out[0].Function.Name)
	}
}

var _ ports.LLMClient = (*OpenAIClient)(nil)
