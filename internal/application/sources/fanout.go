package sources

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sageclinic/orchestrator/internal/adapters/circuitbreaker"
	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

// DefaultPerSourceDeadline and DefaultGlobalDeadline are the spec's §4.4 /
// §5 defaults.
const (
	DefaultPerSourceDeadline = 5 * time.Second
	DefaultGlobalDeadline    = 30 * time.Second
	retryDelay               = 1 * time.Second
)

// Fanout implements ports.SearchFanout: one goroutine per source, each
// bound by per-source and global deadlines via context + select, grounded
// on the teacher's executeWithTimeout pattern (goroutine + buffered result
// channel + select{ctx.Done(), resultChan}).
type Fanout struct {
	clients           map[string]ports.SourceClient
	breakers          ports.CircuitBreakerRegistry
	perSourceDeadline time.Duration
}

func NewFanout(clients map[string]ports.SourceClient, breakers ports.CircuitBreakerRegistry, perSourceDeadline time.Duration) *Fanout {
	if perSourceDeadline <= 0 {
		perSourceDeadline = DefaultPerSourceDeadline
	}
	return &Fanout{clients: clients, breakers: breakers, perSourceDeadline: perSourceDeadline}
}

type legResult struct {
	results []models.SearchResult
	outcome models.SourceQueryOutcome
}

// SearchAll launches one task per selected source and aggregates without
// order dependency; per-source failures are swallowed (logged, surfaced
// only in the returned outcomes) so the remaining sources still complete
// (spec §4.4, §7).
func (f *Fanout) SearchAll(ctx context.Context, query string, selected []models.SourceDescriptor) ([]models.SearchResult, []models.SourceQueryOutcome) {
	legs := make(chan legResult, len(selected))
	var wg sync.WaitGroup

	for _, src := range selected {
		wg.Add(1)
		go func(src models.SourceDescriptor) {
			defer wg.Done()
			legs <- f.runLeg(ctx, src, query)
		}(src)
	}

	go func() {
		wg.Wait()
		close(legs)
	}()

	var results []models.SearchResult
	outcomes := make([]models.SourceQueryOutcome, 0, len(selected))
	order := 0
	for leg := range legs {
		for i := range leg.results {
			leg.results[i].FetchOrder = order
			order++
		}
		results = append(results, leg.results...)
		outcomes = append(outcomes, leg.outcome)
	}

	return results, outcomes
}

func (f *Fanout) runLeg(ctx context.Context, src models.SourceDescriptor, query string) legResult {
	client, ok := f.clients[src.Name]
	if !ok {
		return legResult{outcome: models.SourceQueryOutcome{Name: src.Name, Outcome: models.OutcomeUnavailable}}
	}

	legCtx, cancel := context.WithTimeout(ctx, f.perSourceDeadline)
	defer cancel()

	results, err := f.callWithBreaker(legCtx, src.Name, client, query)
	if err == nil {
		return legResult{results: results, outcome: models.SourceQueryOutcome{Name: src.Name, Outcome: models.OutcomeOK}}
	}

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return legResult{outcome: models.SourceQueryOutcome{Name: src.Name, Outcome: models.OutcomeUnavailable}}
	}

	if isTransient(err) && legCtx.Err() == nil {
		select {
		case <-time.After(retryDelay):
		case <-legCtx.Done():
			return legResult{outcome: models.SourceQueryOutcome{Name: src.Name, Outcome: models.OutcomeTimeout}}
		}
		results, err = f.callWithBreaker(legCtx, src.Name, client, query)
		if err == nil {
			return legResult{results: results, outcome: models.SourceQueryOutcome{Name: src.Name, Outcome: models.OutcomeOK}}
		}
	}

	outcome := models.OutcomeError
	if legCtx.Err() != nil {
		outcome = models.OutcomeTimeout
	}
	slog.Warn("sources: fan-out leg failed", "source", src.Name, "error", err)
	return legResult{outcome: models.SourceQueryOutcome{Name: src.Name, Outcome: outcome}}
}

func (f *Fanout) callWithBreaker(ctx context.Context, key string, client ports.SourceClient, query string) ([]models.SearchResult, error) {
	var out []models.SearchResult
	err := f.breakers.Guard(ctx, key, func(ctx context.Context) error {
		r, err := client.Search(ctx, query, 0)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// isTransient classifies connection errors and timeouts as retryable. HTTP
// error statuses, 5xx included, reach it only as error text from the source
// adapter and are not classified as retryable here.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
