// Package intent implements the Intent Classifier (C2): a deterministic
// rule matcher tried first, falling back to a learned backend, mirroring
// the two-strategy-with-fallback shape the teacher uses for its memory
// search scoring (rule match, then embedding fallback).
package intent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

// PhraseSet maps curated phrases to an intent tag for the rule-match
// strategy.
type PhraseSet map[string]models.IntentTag

// DefaultPhraseSet is a small curated seed; deployments are expected to
// extend it via configuration.
func DefaultPhraseSet() PhraseSet {
	return PhraseSet{
		"diagnose":       models.IntentDiagnosis,
		"differential":   models.IntentDiagnosis,
		"what could":     models.IntentDiagnosis,
		"treatment":      models.IntentTreatment,
		"first-line":     models.IntentTreatment,
		"manage":         models.IntentTreatment,
		"dose":           models.IntentDrugInfo,
		"dosage":         models.IntentDrugInfo,
		"interaction":    models.IntentDrugInfo,
		"guideline":      models.IntentGuideline,
		"recommendation": models.IntentGuideline,
		"consult":        models.IntentCaseConsultation,
		"case":           models.IntentCaseConsultation,
	}
}

// RuleConfidence is the confidence assigned to a rule match (chosen above
// the clarification threshold so unambiguous phrase hits never trigger
// clarification).
const RuleConfidence = 0.9

// Classifier tries the rule matcher first; if no rule fires it falls back
// to the learned backend. If the learned backend is unavailable, the
// orchestrator requests rules first (spec §4.2) — which this implementation
// already does unconditionally, since the rule pass is cheap and local.
type Classifier struct {
	phrases PhraseSet
	learned ports.IntentClassifier // may be nil
	breakers ports.CircuitBreakerRegistry
}

const BreakerKey = "intent_classifier"

func New(phrases PhraseSet, learned ports.IntentClassifier, breakers ports.CircuitBreakerRegistry) *Classifier {
	if phrases == nil {
		phrases = DefaultPhraseSet()
	}
	return &Classifier{phrases: phrases, learned: learned, breakers: breakers}
}

func (c *Classifier) Classify(ctx context.Context, text string, convCtx *models.ConversationContext) (models.Intent, error) {
	if tag, ok := c.matchRule(text); ok {
		return models.Intent{Tag: tag, Confidence: RuleConfidence}, nil
	}

	if c.learned == nil {
		return models.Intent{Tag: models.IntentGeneral, Confidence: RuleConfidence}, nil
	}

	var result models.Intent
	err := c.breakers.Guard(ctx, BreakerKey, func(ctx context.Context) error {
		r, err := c.learned.Classify(ctx, text, convCtx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		slog.Warn("intent: learned classifier unavailable, defaulting to general/low-confidence", "error", err)
		return models.Intent{Tag: models.IntentGeneral, Confidence: 0}, nil
	}

	return result, nil
}

func (c *Classifier) matchRule(text string) (models.IntentTag, bool) {
	lower := strings.ToLower(text)
	for phrase, tag := range c.phrases {
		if strings.Contains(lower, phrase) {
			return tag, true
		}
	}
	return "", false
}
