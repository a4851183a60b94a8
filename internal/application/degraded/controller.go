// Package degraded implements the Degraded-Mode Controller (C12): no
// teacher analogue exists for this concern, so it is built fresh over the
// Circuit Breaker Registry's State() accessor (spec §4.12).
package degraded

import (
	"sync/atomic"

	"github.com/sageclinic/orchestrator/internal/domain/models"
)

// CriticalThreshold is the number of simultaneously open critical circuits
// that trips degraded mode.
const CriticalThreshold = 2

// Controller implements ports.DegradedModeController.
type Controller struct {
	criticalKeys map[string]struct{}
	degraded     atomic.Bool
}

// New builds a controller watching the given critical dependency keys; a
// breaker whose key is not in the list never counts toward the threshold
// (cmd/orchestrator/serve.go passes both LLM backends and the PHI detector).
func New(criticalKeys []string) *Controller {
	set := make(map[string]struct{}, len(criticalKeys))
	for _, k := range criticalKeys {
		set[k] = struct{}{}
	}
	return &Controller{criticalKeys: set}
}

func (c *Controller) IsDegraded() bool {
	return c.degraded.Load()
}

// Evaluate recomputes degraded mode from the current breaker snapshot.
// Intended to be called both on every breaker-open event and on a 60 s
// sampling tick (spec §4.12), so it exits degraded mode promptly once all
// critical circuits close again.
func (c *Controller) Evaluate(states []models.CircuitBreakerState) {
	open := 0
	for _, s := range states {
		if _, critical := c.criticalKeys[s.Key]; !critical {
			continue
		}
		if s.Mode == models.BreakerOpen {
			open++
		}
	}
	c.degraded.Store(open >= CriticalThreshold)
}
