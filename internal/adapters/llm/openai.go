// Package llm implements ports.LLMClient against the two backend kinds the
// Model Router (C6) chooses between: a local, OpenAI-compatible endpoint
// cleared for PHI-bearing requests, and Anthropic's cloud API for everything
// else (spec §4.6). Each backend wraps its own circuit breaker so a single
// failing backend never takes the other down with it.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sageclinic/orchestrator/internal/adapters/circuitbreaker"
	"github.com/sageclinic/orchestrator/internal/adapters/retry"
	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

// OpenAIClient talks to a local, OpenAI-compatible chat-completions endpoint
// (vLLM, Ollama, text-generation-inference, ...). It is the only backend
// LocalCapable() allows the Model Router to send PHI-bearing requests to.
type OpenAIClient struct {
	client       *openai.Client
	model        string
	localCapable bool
	breaker      *circuitbreaker.CircuitBreaker
	retryConfig  retry.BackoffConfig
}

// NewOpenAIClient builds a client against baseURL (empty uses the public
// OpenAI API). apiKey may be empty for local backends that don't check it.
func NewOpenAIClient(baseURL, apiKey, model string, localCapable bool) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(cfg),
		model:        model,
		localCapable: localCapable,
		breaker:      circuitbreaker.New(5, 30*time.Second),
		retryConfig:  retry.HTTPConfig(),
	}
}

func (c *OpenAIClient) ModelID() string    { return c.model }
func (c *OpenAIClient) LocalCapable() bool { return c.localCapable }

// Stream starts a streamed chat completion. Stream creation (the initial
// request, before any tokens arrive) is retried with backoff and guarded by
// the breaker; once a stream is open its own errors surface as a chunk.Err
// rather than a second retry, since partial output can't be safely replayed.
func (c *OpenAIClient) Stream(ctx context.Context, messages []ports.LLMMessage, tools []models.ToolDefinition, params ports.LLMParams) (ports.LLMStream, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    convertOpenAIMessages(messages),
		Temperature: float32(params.Temperature),
		Stream:      true,
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	}
	if len(tools) > 0 {
		req.Tools = convertOpenAITools(tools)
	}

	streamCtx, cancel := context.WithCancel(ctx)

	var stream *openai.ChatCompletionStream
	err := c.breaker.Execute(func() error {
		return retry.WithBackoff(streamCtx, c.retryConfig, func() error {
			s, err := c.client.CreateChatCompletionStream(streamCtx, req)
			if err != nil {
				return err
			}
			stream = s
			return nil
		})
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("openai: failed to open stream: %w", err)
	}

	out := &openaiStream{
		stream: stream,
		cancel: cancel,
		chunks: make(chan ports.LLMStreamChunk, 8),
	}
	go out.pump()
	return out, nil
}

type openaiStream struct {
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
	chunks chan ports.LLMStreamChunk
}

func (s *openaiStream) Chunks() <-chan ports.LLMStreamChunk { return s.chunks }

func (s *openaiStream) Cancel() {
	s.cancel()
}

// pump reads the SDK stream and accumulates tool-call argument deltas by
// index (OpenAI streams them as incremental JSON fragments per tool slot,
// same delta shape the provider's own stream event carries), flushing each
// completed call once its finish reason or EOF arrives.
func (s *openaiStream) pump() {
	defer close(s.chunks)
	defer s.stream.Close()

	type pendingCall struct {
		id   string
		name string
		args string
	}
	pending := map[int]*pendingCall{}
	chunkIndex := 0

	flush := func() {
		indices := make([]int, 0, len(pending))
		for i := range pending {
			indices = append(indices, i)
		}
		sort.Ints(indices)

		for _, i := range indices {
			pc := pending[i]
			if pc.id == "" {
				continue
			}
			var args map[string]any
			_ = json.Unmarshal([]byte(pc.args), &args)
			s.chunks <- ports.LLMStreamChunk{
				ChunkIndex: chunkIndex,
				ToolCall:   &ports.LLMToolCallRequest{ID: pc.id, Name: pc.name, Arguments: args},
			}
			chunkIndex++
		}
	}

	for {
		resp, err := s.stream.Recv()
		if err == io.EOF {
			flush()
			s.chunks <- ports.LLMStreamChunk{ChunkIndex: chunkIndex, Done: true}
			return
		}
		if err != nil {
			s.chunks <- ports.LLMStreamChunk{ChunkIndex: chunkIndex, Err: err, Done: true}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			s.chunks <- ports.LLMStreamChunk{ChunkIndex: chunkIndex, Content: delta.Content}
			chunkIndex++
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc, ok := pending[idx]
			if !ok {
				pc = &pendingCall{}
				pending[idx] = pc
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args += tc.Function.Arguments
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
			pending = map[int]*pendingCall{}
		}
	}
}

func convertOpenAIMessages(messages []ports.LLMMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}

func convertOpenAITools(tools []models.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Category,
				Parameters:  t.ArgumentSchema,
			},
		})
	}
	return out
}
