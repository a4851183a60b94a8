// Package sourceclient implements ports.SourceClient against the external
// knowledge backends behind each SourceDescriptor (internal_kb, literature,
// guidelines, notes). All four kinds speak the same JSON search contract in
// this deployment, so one HTTP client type serves every kind; a backend that
// needs a different wire shape gets its own client satisfying the same
// interface.
package sourceclient

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sageclinic/orchestrator/internal/adapters/speech"
	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

// DefaultLimit caps a source query when the fan-out passes limit=0 (no
// caller-specified bound).
const DefaultLimit = 10

// HTTPClient queries a JSON search endpoint of the form
// POST {baseURL}{path} {"query": "...", "limit": N} ->
// {"results": [{"content", "score", "title", "url", "evidence_grade", "external_id"}, ...]}.
// It wraps the same retry-with-backoff transport as the speech adapters
// (internal/adapters/speech.Client) rather than re-deriving one, since the
// retry/backoff concern is identical: POST JSON, retry transient failures,
// decode the body.
type HTTPClient struct {
	name   string
	client *speech.Client
	path   string
}

// NewHTTPClient builds a source client for one named backend. path is the
// search endpoint relative to baseURL, e.g. "/v1/search".
func NewHTTPClient(name, baseURL, path string) *HTTPClient {
	return &HTTPClient{
		name:   name,
		client: speech.NewClient(baseURL),
		path:   path,
	}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
}

type searchHit struct {
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	EvidenceGrade string  `json:"evidence_grade"`
	ExternalID    string  `json:"external_id"`
}

// Search implements ports.SourceClient. A limit of 0 is expanded to
// DefaultLimit so the backend always receives a bound (spec §4.4 /
// §5 result_limit_per_source).
func (c *HTTPClient) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var resp searchResponse
	if err := c.client.PostJSON(ctx, c.path, searchRequest{Query: query, Limit: limit}, &resp); err != nil {
		return nil, fmt.Errorf("sourceclient: %s search failed: %w", c.name, err)
	}

	out := make([]models.SearchResult, 0, len(resp.Results))
	for _, hit := range resp.Results {
		out = append(out, models.SearchResult{
			Source:        c.name,
			Content:       hit.Content,
			Score:         hit.Score,
			Title:         hit.Title,
			URL:           hit.URL,
			EvidenceGrade: hit.EvidenceGrade,
			ExternalID:    hit.ExternalID,
		})
	}
	return out, nil
}

// BuildSourceClients constructs one HTTPClient per descriptor, keyed by
// name, for wiring into sources.Fanout. baseURLs maps descriptor name to its
// backend's base URL; a descriptor with no entry is skipped (the fan-out
// treats an unregistered client as an "unavailable" leg).
func BuildSourceClients(descriptors []models.SourceDescriptor, baseURLs map[string]string) map[string]ports.SourceClient {
	clients := make(map[string]ports.SourceClient, len(descriptors))
	for _, d := range descriptors {
		base, ok := baseURLs[d.Name]
		if !ok || base == "" {
			continue
		}
		clients[d.Name] = NewHTTPClient(d.Name, base, searchPathFor(d.Kind))
	}
	return clients
}

// searchPathFor picks the conventional search path per backend kind; each
// kind is expected to mount its search handler at this path regardless of
// deployment, keeping BuildSourceClients free of per-deployment config.
func searchPathFor(kind models.SourceKind) string {
	return "/v1/" + url.PathEscape(string(kind)) + "/search"
}
