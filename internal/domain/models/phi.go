package models

// PHIEntityKind is a closed enumeration of the protected-entity kinds the
// PHI Classifier (C1) must recognize (spec §4.1).
type PHIEntityKind string

const (
	PHIPersonName PHIEntityKind = "person_name"
	PHIDate       PHIEntityKind = "date"
	PHIMRN        PHIEntityKind = "medical_record_number"
	PHINationalID PHIEntityKind = "national_id"
	PHIPhone      PHIEntityKind = "phone_number"
	PHIAddress    PHIEntityKind = "address"
)

// PHIEntitySpan locates one detected entity within the classified text.
type PHIEntitySpan struct {
	Kind    PHIEntityKind
	Start   int
	End     int
	Surface string
}

// PHIVerdict is read-only after production; used to pick the model (C6) and
// redact audit payloads (C13).
type PHIVerdict struct {
	HasPHI   bool
	Entities []PHIEntitySpan
}

// ConservativeVerdict is returned when the underlying detector is
// unreachable: the orchestrator adopts has_phi=true rather than guess
// (spec §4.1).
func ConservativeVerdict() PHIVerdict {
	return PHIVerdict{HasPHI: true}
}
