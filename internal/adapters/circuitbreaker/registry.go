package circuitbreaker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sageclinic/orchestrator/internal/domain/models"
)

// Registry is the keyed breaker collection behind ports.CircuitBreakerRegistry
// (C11). Each dependency key (each source, each LLM backend, PHI detector,
// reranker, embedding backend, store, cache) gets its own breaker with its
// own short critical section — there is no global lock (spec §5).
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      Config
	onOpen   func(key string)
}

// NewRegistry creates a Registry; onOpen, if non-nil, is invoked every time
// a breaker transitions into the open state (spec §4.11: "opening a circuit
// emits an alert event").
func NewRegistry(cfg Config, onOpen func(key string)) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
		onOpen:   onOpen,
	}
}

func (r *Registry) breaker(key string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb
	}
	cb = NewWithConfig(r.cfg)
	r.breakers[key] = cb
	return cb
}

// Guard consults the key's breaker before issuing call, per C4's
// "before issuing a call, consult C11 for the source's dependency key"
// interplay.
func (r *Registry) Guard(ctx context.Context, key string, call func(ctx context.Context) error) error {
	cb := r.breaker(key)
	_, _, _, openedBefore, _ := cb.Snapshot()

	err := cb.ExecuteCtx(ctx, call)

	// openUntil moves only when record() (re)opens the breaker, so this
	// catches a failed half-open probe as well as a first trip.
	mode, _, _, openedAfter, _ := cb.Snapshot()
	if mode == StateOpen && !openedAfter.Equal(openedBefore) && r.onOpen != nil {
		r.onOpen(key)
	}
	if err == ErrCircuitOpen {
		slog.Debug("circuitbreaker: call skipped, circuit open", "key", key)
	}
	return err
}

// State returns a point-in-time snapshot of one key's breaker.
func (r *Registry) State(key string) models.CircuitBreakerState {
	cb := r.breaker(key)
	mode, failures, successes, openUntil, inflight := cb.Snapshot()
	return models.CircuitBreakerState{
		Key:                  key,
		Mode:                 modeToModel(mode),
		ConsecutiveFailures:  failures,
		ConsecutiveSuccesses: successes,
		OpenUntil:            openUntil,
		HalfOpenInflight:     inflight,
	}
}

// States returns a snapshot of every breaker the registry has created so
// far, consumed by the Degraded-Mode Controller (C12).
func (r *Registry) States() []models.CircuitBreakerState {
	r.mu.RLock()
	keys := make([]string, 0, len(r.breakers))
	for k := range r.breakers {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	states := make([]models.CircuitBreakerState, 0, len(keys))
	for _, k := range keys {
		states = append(states, r.State(k))
	}
	return states
}

func modeToModel(s State) models.BreakerMode {
	switch s {
	case StateOpen:
		return models.BreakerOpen
	case StateHalfOpen:
		return models.BreakerHalfOpen
	default:
		return models.BreakerClosed
	}
}
