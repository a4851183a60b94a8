package models

// IntentTag is the closed enumeration classified queries are mapped onto
// (spec §3).
type IntentTag string

const (
	IntentDiagnosis         IntentTag = "diagnosis"
	IntentTreatment         IntentTag = "treatment"
	IntentDrugInfo          IntentTag = "drug_info"
	IntentGuideline         IntentTag = "guideline"
	IntentCaseConsultation  IntentTag = "case_consultation"
	IntentGeneral           IntentTag = "general"
)

// ClarificationConfidenceThreshold is the cutoff below which the Source
// Selector (C3) routes to a clarification response instead of fanning out
// (spec §4.2/§4.3: "confidence < 0.5").
const ClarificationConfidenceThreshold = 0.5

// Intent carries a tag and the classifier's confidence in it.
type Intent struct {
	Tag        IntentTag
	Confidence float64
}

// IsAmbiguous reports whether this intent's confidence is low enough to
// trigger the clarification gate.
func (i Intent) IsAmbiguous() bool {
	return i.Confidence < ClarificationConfidenceThreshold
}
