// Package rerank implements the Reranker/Filter (C5): score, dedupe,
// filter, and truncate fused search results.
package rerank

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/sageclinic/orchestrator/internal/adapters/circuitbreaker"
	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

const (
	// DedupSimilarityThreshold is the Open-Question decision from DESIGN.md:
	// normalized token-overlap similarity, fixed at 0.9 (spec §4.5/§9).
	DedupSimilarityThreshold = 0.9
	// FilterThreshold drops results scoring below this (spec §4.5 step 3).
	FilterThreshold = 0.3
	// DefaultTopK is the spec's default truncation target (5-10; pick 8).
	DefaultTopK = 8

	BreakerKey = "reranker"
)

// sourcePriority ranks source kinds for deterministic tie-breaking (spec
// §4.5 step 4b), reusing C3's priority ordering for the general intent as
// the tie-break default.
var sourcePriority = map[string]int{
	string(models.SourceInternalKB): 0,
	string(models.SourceGuidelines): 1,
	string(models.SourceLiterature): 2,
	string(models.SourceNotes):      3,
}

// Reranker implements ports.Reranker.
type Reranker struct {
	scorer     ports.RerankerService // may be nil: fallback-only deployment
	embeddings ports.EmbeddingService // may be nil
	breakers   ports.CircuitBreakerRegistry
}

func New(scorer ports.RerankerService, embeddings ports.EmbeddingService, breakers ports.CircuitBreakerRegistry) *Reranker {
	return &Reranker{scorer: scorer, embeddings: embeddings, breakers: breakers}
}

func (r *Reranker) Rerank(ctx context.Context, query string, results []models.SearchResult, topK int) ([]models.RankedResult, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	scores, err := r.score(ctx, query, results)
	if err != nil {
		slog.Warn("rerank: cross-encoder unavailable, using fallback score", "error", err)
		scores = r.fallbackScores(ctx, query, results)
	}

	ranked := make([]models.RankedResult, 0, len(results))
	for i, res := range results {
		ranked = append(ranked, models.RankedResult{SearchResult: res, RerankScore: scores[i]})
	}

	ranked = dedup(ranked)
	ranked = filter(ranked, FilterThreshold)
	sortRanked(ranked)

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

func (r *Reranker) score(ctx context.Context, query string, results []models.SearchResult) ([]float64, error) {
	if r.scorer == nil {
		return nil, circuitbreaker.ErrCircuitOpen
	}

	docs := make([]string, len(results))
	for i, res := range results {
		docs[i] = res.Content
	}

	var scores []float64
	err := r.breakers.Guard(ctx, BreakerKey, func(ctx context.Context) error {
		s, err := r.scorer.Score(ctx, query, docs)
		if err != nil {
			return err
		}
		scores = s
		return nil
	})
	return scores, err
}

// fallbackWeight is how much of the fallback score comes from vector
// similarity versus keyword overlap, when embeddings are available (spec
// §4.5 step 1: "combine keyword overlap and vector similarity").
const fallbackWeight = 0.5

// fallbackScores combines keyword overlap with (optional) embedding
// similarity when the cross-encoder reranker is unavailable (spec §4.5
// step 1, fallback branch). Embedding failures degrade to pure keyword
// overlap rather than failing the whole rerank.
func (r *Reranker) fallbackScores(ctx context.Context, query string, results []models.SearchResult) []float64 {
	queryTokens := tokenize(query)
	keyword := make([]float64, len(results))
	for i, res := range results {
		keyword[i] = keywordOverlap(queryTokens, tokenize(res.Content))
	}

	if r.embeddings == nil {
		return keyword
	}

	queryVec, err := r.embeddings.Embed(ctx, query)
	if err != nil {
		slog.Warn("rerank: embedding unavailable for fallback score, using keyword overlap only", "error", err)
		return keyword
	}

	scores := make([]float64, len(results))
	for i, res := range results {
		docVec, err := r.embeddings.Embed(ctx, res.Content)
		if err != nil {
			scores[i] = keyword[i]
			continue
		}
		scores[i] = fallbackWeight*cosineSimilarity(queryVec, docVec) + (1-fallbackWeight)*keyword[i]
	}
	return scores
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func dedup(ranked []models.RankedResult) []models.RankedResult {
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].RerankScore > ranked[j].RerankScore })

	kept := make([]models.RankedResult, 0, len(ranked))
	for _, candidate := range ranked {
		isDuplicate := false
		for _, existing := range kept {
			if jaccard(tokenize(candidate.Content), tokenize(existing.Content)) >= DedupSimilarityThreshold {
				isDuplicate = true
				break
			}
		}
		if !isDuplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func filter(ranked []models.RankedResult, threshold float64) []models.RankedResult {
	out := ranked[:0]
	for _, r := range ranked {
		if r.RerankScore >= threshold {
			out = append(out, r)
		}
	}
	return out
}

func sortRanked(ranked []models.RankedResult) {
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.RerankScore != b.RerankScore {
			return a.RerankScore > b.RerankScore
		}
		pa, pb := sourcePriority[a.Source], sourcePriority[b.Source]
		if pa != pb {
			return pa < pb
		}
		return a.FetchOrder < b.FetchOrder
	})
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func keywordOverlap(query, doc map[string]struct{}) float64 {
	return jaccard(query, doc)
}
