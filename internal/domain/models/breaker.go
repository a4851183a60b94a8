package models

import "time"

// BreakerMode is the closed state set of a CircuitBreakerState (C11).
type BreakerMode string

const (
	BreakerClosed   BreakerMode = "closed"
	BreakerOpen     BreakerMode = "open"
	BreakerHalfOpen BreakerMode = "half_open"
)

// CircuitBreakerState is a point-in-time, read-only snapshot of one
// dependency's breaker, used for reporting to the Degraded-Mode Controller
// (C12) and metrics — distinct from the mutable breaker implementation
// itself in internal/adapters/circuitbreaker.
type CircuitBreakerState struct {
	Key                string
	Mode               BreakerMode
	ConsecutiveFailures int
	ConsecutiveSuccesses int
	OpenUntil          time.Time
	HalfOpenInflight   int
}

// IsAvailable reports whether calls should be attempted against this
// dependency right now.
func (s CircuitBreakerState) IsAvailable() bool {
	return s.Mode != BreakerOpen
}
