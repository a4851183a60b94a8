package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sageclinic/orchestrator/internal/domain/models"
)

// fakeBreakers passes every call straight through: these tests exercise
// scoring behavior, not breaker state.
type fakeBreakers struct{}

func (fakeBreakers) Guard(ctx context.Context, key string, call func(ctx context.Context) error) error {
	return call(ctx)
}
func (fakeBreakers) State(key string) models.CircuitBreakerState { return models.CircuitBreakerState{Key: key} }
func (fakeBreakers) States() []models.CircuitBreakerState        { return nil }

// fakeEmbeddings hands back a fixed vector per input string, so cosine
// similarity is deterministic across a test.
type fakeEmbeddings struct {
	vectors map[string][]float32
	err     error
}

func (f fakeEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[text], nil
}

func TestRerankFallbackBlendsKeywordAndEmbeddingSimilarity(t *testing.T) {
	results := []models.SearchResult{
		{Source: "kb", Content: "metformin dosing guidance", Score: 1},
		{Source: "kb", Content: "unrelated physical therapy notes", Score: 1},
	}
	embeddings := fakeEmbeddings{vectors: map[string][]float32{
		"metformin dose":                   {1, 0, 0},
		"metformin dosing guidance":        {1, 0, 0},
		"unrelated physical therapy notes": {0, 1, 0},
	}}
	r := New(nil, embeddings, fakeBreakers{})

	ranked, err := r.Rerank(context.Background(), "metformin dose", results, 10)
	require.NoError(t, err)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "metformin dosing guidance", ranked[0].Content)
}

func TestRerankFallbackDegradesToKeywordOnlyWhenEmbeddingsFail(t *testing.T) {
	results := []models.SearchResult{
		{Source: "kb", Content: "metformin dosing guidance", Score: 1},
	}
	r := New(nil, fakeEmbeddings{err: errors.New("embedding backend unavailable")}, fakeBreakers{})

	ranked, err := r.Rerank(context.Background(), "metformin dosing", results, 10)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Greater(t, ranked[0].RerankScore, 0.0)
}

func TestRerankFallbackWithoutEmbeddingsUsesKeywordOverlapOnly(t *testing.T) {
	results := []models.SearchResult{
		{Source: "kb", Content: "metformin dosing guidance", Score: 1},
		{Source: "kb", Content: "completely different topic", Score: 1},
	}
	r := New(nil, nil, fakeBreakers{})

	ranked, err := r.Rerank(context.Background(), "metformin dosing", results, 10)
	require.NoError(t, err)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "metformin dosing guidance", ranked[0].Content)
}

func TestRerankFiltersBelowThreshold(t *testing.T) {
	results := []models.SearchResult{
		{Source: "kb", Content: "zzz totally unrelated yyy xxx", Score: 1},
	}
	r := New(nil, nil, fakeBreakers{})

	ranked, err := r.Rerank(context.Background(), "metformin dose", results, 10)
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestRerankDedupsNearIdenticalResults(t *testing.T) {
	results := []models.SearchResult{
		{Source: "kb", Content: "metformin dosing guidance for adults", Score: 1},
		{Source: "guidelines", Content: "Metformin dosing guidance, for adults.", Score: 1},
	}
	r := New(nil, nil, fakeBreakers{})

	ranked, err := r.Rerank(context.Background(), "metformin dosing", results, 10)
	require.NoError(t, err)
	assert.Len(t, ranked, 1)
}

func TestRerankDedupsIdenticalResultsBeforeTopK(t *testing.T) {
	results := make([]models.SearchResult, 0, 5)
	for i := 0; i < 5; i++ {
		results = append(results, models.SearchResult{Source: "kb", Content: "metformin dosing guidance", Score: 1})
	}
	r := New(nil, nil, fakeBreakers{})

	ranked, err := r.Rerank(context.Background(), "metformin dosing", results, 2)
	require.NoError(t, err)
	assert.Len(t, ranked, 1) // dedup collapses the identical contents first
}
