// Package phi implements the PHI Classifier (C1): a thin, breaker-guarded
// wrapper around a ports.PHIDetector that fails conservatively.
package phi

import (
	"context"
	"log/slog"

	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

// Mode mirrors the phi_mode config option (spec §6).
type Mode string

const (
	ModeStrict  Mode = "strict"
	ModeLenient Mode = "lenient"
	ModeOff     Mode = "off"
)

const BreakerKey = "phi_detector"

// Classifier wraps a PHIDetector behind the circuit breaker registry and
// adopts the conservative has_phi=true verdict whenever the underlying
// detector is unreachable (spec §4.1).
type Classifier struct {
	detector ports.PHIDetector
	breakers ports.CircuitBreakerRegistry
	mode     Mode
}

func New(detector ports.PHIDetector, breakers ports.CircuitBreakerRegistry, mode Mode) *Classifier {
	return &Classifier{detector: detector, breakers: breakers, mode: mode}
}

// Detect returns the conservative verdict (has_phi=true) and no error when
// the detector fails or its circuit is open. Mode "off" (rejected at config
// load under HIPAA mode) skips detection and returns a clean verdict;
// callers should not special-case Mode themselves.
func (c *Classifier) Detect(ctx context.Context, text string) (models.PHIVerdict, error) {
	if c.mode == ModeOff {
		return models.PHIVerdict{}, nil
	}

	var verdict models.PHIVerdict
	err := c.breakers.Guard(ctx, BreakerKey, func(ctx context.Context) error {
		v, err := c.detector.Detect(ctx, text)
		if err != nil {
			return err
		}
		verdict = v
		return nil
	})
	if err != nil {
		slog.Warn("phi: detector unavailable, adopting conservative verdict", "error", err)
		return models.ConservativeVerdict(), nil
	}

	return verdict, nil
}
