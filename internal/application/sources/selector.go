// Package sources implements the Source Selector (C3) and Search Fan-out
// (C4).
package sources

import (
	"context"
	"strings"

	"github.com/sageclinic/orchestrator/internal/domain/models"
)

// DefaultMaxSources is K from spec §4.3.
const DefaultMaxSources = 3

// MinQueryTokens is the clarification-gate token floor (spec §4.3 (ii)).
const MinQueryTokens = 3

// ambiguousTerm pairs a curated phrase with the disambiguators that, if
// present, satisfy the clarification gate.
type ambiguousTerm struct {
	term           string
	disambiguators []string
	question       string
}

// defaultAmbiguousTerms seeds the curated set from spec §4.3's example
// ("kidney disease" lacking "acute"/"chronic"/"stage X"/"type 1/2").
func defaultAmbiguousTerms() []ambiguousTerm {
	return []ambiguousTerm{
		{
			term:           "kidney disease",
			disambiguators: []string{"acute", "chronic", "stage"},
			question:       "Are you asking about acute or chronic kidney disease, and if chronic, what stage?",
		},
		{
			term:           "diabetes",
			disambiguators: []string{"type 1", "type 2", "gestational"},
			question:       "Is this regarding type 1, type 2, or gestational diabetes?",
		},
		{
			term:           "hepatitis",
			disambiguators: []string{"a", "b", "c", "acute", "chronic"},
			question:       "Which hepatitis type (A, B, C) or phase (acute/chronic) are you asking about?",
		},
	}
}

// policyEntry is one row of the priority/fallback matrix (spec §4.3).
type policyEntry struct {
	priority []models.SourceKind
	fallback []models.SourceKind
}

var policyMatrix = map[models.IntentTag]policyEntry{
	models.IntentDiagnosis:        {priority: []models.SourceKind{models.SourceInternalKB, models.SourceLiterature}, fallback: []models.SourceKind{models.SourceGuidelines}},
	models.IntentTreatment:        {priority: []models.SourceKind{models.SourceGuidelines, models.SourceLiterature}, fallback: []models.SourceKind{models.SourceInternalKB}},
	models.IntentDrugInfo:         {priority: []models.SourceKind{models.SourceInternalKB}, fallback: []models.SourceKind{models.SourceLiterature}},
	models.IntentGuideline:        {priority: []models.SourceKind{models.SourceGuidelines}, fallback: []models.SourceKind{models.SourceInternalKB}},
	models.IntentCaseConsultation: {priority: []models.SourceKind{models.SourceInternalKB, models.SourceLiterature, models.SourceNotes}},
	models.IntentGeneral:          {priority: []models.SourceKind{models.SourceInternalKB, models.SourceLiterature}},
}

// Selector implements ports.SourceSelector.
type Selector struct {
	catalog        map[models.SourceKind]models.SourceDescriptor
	ambiguousTerms []ambiguousTerm
	maxSources     int
}

func NewSelector(catalog []models.SourceDescriptor, maxSources int) *Selector {
	if maxSources <= 0 {
		maxSources = DefaultMaxSources
	}
	byKind := make(map[models.SourceKind]models.SourceDescriptor, len(catalog))
	for _, d := range catalog {
		byKind[d.Kind] = d
	}
	return &Selector{catalog: byKind, ambiguousTerms: defaultAmbiguousTerms(), maxSources: maxSources}
}

// Select returns the prioritized source list, or a ClarificationRequest when
// the clarification gate fires (spec §4.3).
func (s *Selector) Select(_ context.Context, intent models.Intent, query string, prefs *models.Preferences) ([]models.SourceDescriptor, *models.ClarificationRequest) {
	if intent.IsAmbiguous() {
		return nil, &models.ClarificationRequest{Reason: "low_confidence", Question: "Could you clarify what you'd like to know more specifically?"}
	}

	tokens := strings.Fields(query)
	if len(tokens) < MinQueryTokens {
		return nil, &models.ClarificationRequest{Reason: "too_short", Question: "Could you provide a bit more detail about your question?"}
	}

	if term, ok := s.matchAmbiguousTerm(query); ok {
		return nil, &models.ClarificationRequest{Reason: "ambiguous_term", Question: term.question}
	}

	kinds := s.resolveKinds(intent.Tag)
	kinds = applyPreferences(kinds, prefs)

	if len(kinds) > s.maxSources {
		kinds = kinds[:s.maxSources]
	}

	descriptors := make([]models.SourceDescriptor, 0, len(kinds))
	for _, k := range kinds {
		if d, ok := s.catalog[k]; ok {
			descriptors = append(descriptors, d)
		}
	}
	return descriptors, nil
}

func (s *Selector) matchAmbiguousTerm(query string) (ambiguousTerm, bool) {
	lower := strings.ToLower(query)
	for _, at := range s.ambiguousTerms {
		if !strings.Contains(lower, at.term) {
			continue
		}
		if hasDisambiguator(lower, at.disambiguators) {
			continue
		}
		return at, true
	}
	return ambiguousTerm{}, false
}

func hasDisambiguator(lower string, disambiguators []string) bool {
	for _, d := range disambiguators {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

func (s *Selector) resolveKinds(tag models.IntentTag) []models.SourceKind {
	entry, ok := policyMatrix[tag]
	if !ok {
		entry = policyMatrix[models.IntentGeneral]
	}
	kinds := append([]models.SourceKind{}, entry.priority...)
	for _, k := range entry.fallback {
		if _, present := s.catalog[k]; present {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// applyPreferences moves a preferred source to the front and drops excluded
// ones (spec §4.3: "User preferences may (a) move a source to the front,
// (b) exclude a source").
func applyPreferences(kinds []models.SourceKind, prefs *models.Preferences) []models.SourceKind {
	if prefs == nil {
		return kinds
	}

	excluded := make(map[string]bool, len(prefs.ExcludedSources))
	for _, e := range prefs.ExcludedSources {
		excluded[e] = true
	}

	filtered := make([]models.SourceKind, 0, len(kinds))
	for _, k := range kinds {
		if !excluded[string(k)] {
			filtered = append(filtered, k)
		}
	}

	for i := len(prefs.PreferredSources) - 1; i >= 0; i-- {
		preferred := models.SourceKind(prefs.PreferredSources[i])
		filtered = moveToFront(filtered, preferred)
	}

	return filtered
}

func moveToFront(kinds []models.SourceKind, target models.SourceKind) []models.SourceKind {
	idx := -1
	for i, k := range kinds {
		if k == target {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return kinds
	}
	reordered := make([]models.SourceKind, 0, len(kinds))
	reordered = append(reordered, target)
	reordered = append(reordered, kinds[:idx]...)
	reordered = append(reordered, kinds[idx+1:]...)
	return reordered
}
