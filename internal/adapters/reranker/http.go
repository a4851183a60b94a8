// Package reranker implements ports.RerankerService against an
// OpenAI-compatible cross-encoder rerank endpoint (the shape served by
// text-embeddings-inference and Cohere-compatible proxies), mirroring
// internal/adapters/embedding.Client's HTTP/retry/breaker plumbing since
// both are thin wrappers over a local inference server.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sageclinic/orchestrator/internal/adapters/circuitbreaker"
	"github.com/sageclinic/orchestrator/internal/adapters/retry"
	"github.com/sageclinic/orchestrator/internal/ports"
)

const requestTimeout = 10 * time.Second

// Client scores a query against a batch of candidate documents.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	httpClient  *http.Client
	retryConfig retry.BackoffConfig
	breaker     *circuitbreaker.CircuitBreaker
}

func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		httpClient:  &http.Client{Timeout: requestTimeout},
		retryConfig: retry.HTTPConfig(),
		breaker:     circuitbreaker.New(5, 30*time.Second),
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Score implements ports.RerankerService.
func (c *Client) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	var scores []float64
	err := c.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		s, err := c.scoreOnce(ctx, query, docs)
		if err != nil {
			return err
		}
		scores = s
		return nil
	})
	return scores, err
}

func (c *Client) scoreOnce(ctx context.Context, query string, docs []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Model: c.model, Query: query, Documents: docs})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	var respBody []byte
	err = retry.WithBackoffHTTP(ctx, c.retryConfig, func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rerank", bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("build rerank request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("send rerank request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("read rerank response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, fmt.Errorf("rerank API error: %s - %s", resp.Status, string(respBody))
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, err
	}

	var parsed rerankResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make([]float64, len(docs))
	for _, r := range parsed.Results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.RelevanceScore
		}
	}
	return scores, nil
}

var _ ports.RerankerService = (*Client)(nil)
