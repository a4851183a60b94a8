// Package circuitbreaker implements the per-dependency failure accounting
// and half-open probing used by the Circuit Breaker Registry (C11, spec
// §4.11): failure_threshold consecutive failures open the circuit; after
// timeout a bounded number of half-open probes are allowed; success_threshold
// consecutive successes close it again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config carries the tunable parameters from spec §4.11 / §6
// (breaker.failure_threshold, breaker.timeout_sec, breaker.half_open_requests,
// breaker.success_threshold).
type Config struct {
	FailureThreshold int
	Timeout          time.Duration
	HalfOpenRequests int
	SuccessThreshold int
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
		HalfOpenRequests: 1,
		SuccessThreshold: 2,
	}
}

type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	openUntil   time.Time
	halfOpenInflight int

	cfg Config
}

// New creates a breaker with the spec defaults; maxFailures/timeout
// override FailureThreshold/Timeout for callers that only care about those
// two knobs.
func New(maxFailures int, timeout time.Duration) *CircuitBreaker {
	cfg := DefaultConfig()
	cfg.FailureThreshold = maxFailures
	cfg.Timeout = timeout
	return NewWithConfig(cfg)
}

func NewWithConfig(cfg Config) *CircuitBreaker {
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	return &CircuitBreaker{state: StateClosed, cfg: cfg}
}

// Execute runs fn, guarded by the breaker's current state.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	return cb.ExecuteCtx(context.Background(), func(context.Context) error { return fn() })
}

// ExecuteCtx is the context-aware form used by the Registry (C11 guard).
func (cb *CircuitBreaker) ExecuteCtx(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

// admit reports whether a call may proceed, opening the half-open probe
// slot if applicable.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Now().Before(cb.openUntil) {
			return false
		}
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.halfOpenInflight = 0
	case StateHalfOpen:
		if cb.halfOpenInflight >= cb.cfg.HalfOpenRequests {
			return false
		}
	}

	if cb.state == StateHalfOpen {
		cb.halfOpenInflight++
	}
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenInflight > 0 {
		cb.halfOpenInflight--
	}

	if err != nil {
		cb.failures++
		cb.successes = 0
		cb.lastFailure = time.Now()
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
			cb.openUntil = time.Now().Add(cb.cfg.Timeout)
		}
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	default:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns the breaker's current counters for reporting.
func (cb *CircuitBreaker) Snapshot() (mode State, consecFailures, consecSuccesses int, openUntil time.Time, halfOpenInflight int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.failures, cb.successes, cb.openUntil, cb.halfOpenInflight
}
