// Package phi implements ports.PHIDetector with a regex/heuristic entity
// recognizer. No library in the corpus offers clinical NER (no
// presidio/spaCy-equivalent import anywhere in the examples), so this is
// the one adapter in the tree built on the standard library by necessity
// rather than choice; internal/application/phi.Classifier still wraps it
// behind the breaker registry and the conservative-verdict fallback, the
// same as it would a hosted NER service.
package phi

import (
	"context"
	"regexp"

	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

var (
	mrnPattern        = regexp.MustCompile(`\bMRN[-:\s]?\d{5,10}\b`)
	nationalIDPattern = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	phonePattern      = regexp.MustCompile(`\b(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`)
	datePattern       = regexp.MustCompile(`\b(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}-\d{2}-\d{2})\b`)
	addressPattern    = regexp.MustCompile(`\b\d{1,5}\s+[A-Z][a-zA-Z]*\s+(Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Drive|Dr|Lane|Ln)\b`)
	personNamePattern = regexp.MustCompile(`\b[A-Z][a-z]+\s[A-Z][a-z]+\b`)
)

var entityPatterns = []struct {
	kind    models.PHIEntityKind
	pattern *regexp.Regexp
}{
	{models.PHIMRN, mrnPattern},
	{models.PHINationalID, nationalIDPattern},
	{models.PHIPhone, phonePattern},
	{models.PHIDate, datePattern},
	{models.PHIAddress, addressPattern},
	{models.PHIPersonName, personNamePattern},
}

// Detector implements ports.PHIDetector with deterministic pattern
// matching. It trades recall for zero external dependencies and
// zero-latency detection; deployments needing clinical-grade recall are
// expected to satisfy ports.PHIDetector with a hosted NER service instead.
type Detector struct{}

func New() *Detector {
	return &Detector{}
}

func (d *Detector) Detect(ctx context.Context, text string) (models.PHIVerdict, error) {
	var entities []models.PHIEntitySpan

	for _, ep := range entityPatterns {
		for _, loc := range ep.pattern.FindAllStringIndex(text, -1) {
			entities = append(entities, models.PHIEntitySpan{
				Kind:    ep.kind,
				Start:   loc[0],
				End:     loc[1],
				Surface: text[loc[0]:loc[1]],
			})
		}
	}

	return models.PHIVerdict{HasPHI: len(entities) > 0, Entities: entities}, nil
}

var _ ports.PHIDetector = (*Detector)(nil)
