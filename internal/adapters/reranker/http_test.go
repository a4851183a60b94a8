package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestScoreReturnsScoresByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rerank" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(rerankResponse{
			Results: []struct {
				Index          int     `json:"index"`
				RelevanceScore float64 `json:"relevance_score"`
			}{
				{Index: 1, RelevanceScore: 0.9},
				{Index: 0, RelevanceScore: 0.2},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "rerank-model")
	scores, err := client.Score(context.Background(), "query", []string{"doc a", "doc b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scores) != 2 || scores[0] != 0.2 || scores[1] != 0.9 {
		t.Errorf("unexpected scores: %v", scores)
	}
}

func TestScoreReturnsErrorOnHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "rerank-model")
	_, err := client.Score(context.Background(), "query", []string{"doc a"})
	if err == nil {
		t.Fatal("expected error")
	}
}
