package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/sageclinic/orchestrator/internal/adapters/circuitbreaker"
	"github.com/sageclinic/orchestrator/internal/adapters/retry"
	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

const defaultMaxTokens = 4096

// AnthropicClient talks to Claude over the cloud API. It is never
// LocalCapable: the Model Router must not route a PHI-bearing request here
// (spec §4.6).
type AnthropicClient struct {
	client      anthropic.Client
	model       string
	breaker     *circuitbreaker.CircuitBreaker
	retryConfig retry.BackoffConfig
}

func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		breaker:     circuitbreaker.New(5, 30*time.Second),
		retryConfig: retry.HTTPConfig(),
	}
}

func (c *AnthropicClient) ModelID() string    { return c.model }
func (c *AnthropicClient) LocalCapable() bool { return false }

func (c *AnthropicClient) Stream(ctx context.Context, messages []ports.LLMMessage, tools []models.ToolDefinition, params ports.LLMParams) (ports.LLMStream, error) {
	apiMessages, system := convertAnthropicMessages(messages)

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  apiMessages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		reqParams.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		converted, err := convertAnthropicTools(tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		reqParams.Tools = converted
	}

	streamCtx, cancel := context.WithCancel(ctx)

	var sdkStream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	err := c.breaker.Execute(func() error {
		return retry.WithBackoff(streamCtx, c.retryConfig, func() error {
			s := c.client.Messages.NewStreaming(streamCtx, reqParams)
			if s.Err() != nil {
				return s.Err()
			}
			sdkStream = s
			return nil
		})
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("anthropic: failed to open stream: %w", err)
	}

	out := &anthropicStream{
		stream: sdkStream,
		cancel: cancel,
		chunks: make(chan ports.LLMStreamChunk, 8),
	}
	go out.pump()
	return out, nil
}

type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	cancel context.CancelFunc
	chunks chan ports.LLMStreamChunk
}

func (s *anthropicStream) Chunks() <-chan ports.LLMStreamChunk { return s.chunks }
func (s *anthropicStream) Cancel()                             { s.cancel() }

// pump mirrors the event sequence Claude's streaming API emits: a tool_use
// content block arrives as a start event carrying id/name, followed by
// input_json_delta events carrying partial argument JSON, closed by a
// content_block_stop.
func (s *anthropicStream) pump() {
	defer close(s.chunks)
	defer s.stream.Close()

	var toolID, toolName string
	var toolInput string
	chunkIndex := 0

	for s.stream.Next() {
		event := s.stream.Current()

		switch event.Type {
		case "content_block_start":
			start := event.AsContentBlockStart()
			if start.ContentBlock.Type == "tool_use" {
				tu := start.ContentBlock.AsToolUse()
				toolID = tu.ID
				toolName = tu.Name
				toolInput = ""
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					s.chunks <- ports.LLMStreamChunk{ChunkIndex: chunkIndex, Content: delta.Text}
					chunkIndex++
				}
			case "input_json_delta":
				toolInput += delta.PartialJSON
			}
		case "content_block_stop":
			if toolID != "" {
				var args map[string]any
				_ = json.Unmarshal([]byte(toolInput), &args)
				s.chunks <- ports.LLMStreamChunk{
					ChunkIndex: chunkIndex,
					ToolCall:   &ports.LLMToolCallRequest{ID: toolID, Name: toolName, Arguments: args},
				}
				chunkIndex++
				toolID, toolName, toolInput = "", "", ""
			}
		case "message_stop":
			s.chunks <- ports.LLMStreamChunk{ChunkIndex: chunkIndex, Done: true}
			return
		}
	}

	if err := s.stream.Err(); err != nil {
		s.chunks <- ports.LLMStreamChunk{ChunkIndex: chunkIndex, Err: err, Done: true}
	}
}

func convertAnthropicMessages(messages []ports.LLMMessage) ([]anthropic.MessageParam, string) {
	var system string
	var out []anthropic.MessageParam
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			system = m.Content
			continue
		}
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out, system
}

func convertAnthropicTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := t.ArgumentSchema["properties"]; ok {
			schema.Properties = props
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Category)
		out = append(out, param)
	}
	return out, nil
}
