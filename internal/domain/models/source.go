package models

// SourceKind is a closed enumeration of the external knowledge backends the
// Source Selector (C3) can pick among.
type SourceKind string

const (
	SourceInternalKB SourceKind = "internal_kb"
	SourceLiterature SourceKind = "literature"
	SourceGuidelines SourceKind = "guidelines"
	SourceNotes      SourceKind = "notes"
)

// SourceCapability describes a retrieval mode a SourceDescriptor supports.
type SourceCapability string

const (
	CapabilitySemantic SourceCapability = "semantic"
	CapabilityKeyword  SourceCapability = "keyword"
	CapabilityHybrid   SourceCapability = "hybrid"
)

// SourceDescriptor names one external knowledge backend and its contract.
type SourceDescriptor struct {
	Name         string
	Kind         SourceKind
	Capabilities []SourceCapability
	SLA          SourceSLA
}

// SourceSLA is the per-source timing budget consulted by Search Fan-out (C4).
type SourceSLA struct {
	DeadlineMS int
}

// SearchOutcome records how a fan-out leg for one source concluded, surfaced
// in QueryResponse metadata (spec §7, §8 boundary behaviors).
type SearchOutcome string

const (
	OutcomeOK          SearchOutcome = "ok"
	OutcomeTimeout     SearchOutcome = "timeout"
	OutcomeError       SearchOutcome = "error"
	OutcomeUnavailable SearchOutcome = "unavailable" // circuit open, skipped
)

// SearchResult is ephemeral per request: one hit returned by one source.
type SearchResult struct {
	Source       string
	Content      string
	Score        float64
	Title        string
	URL          string
	EvidenceGrade string
	ExternalID   string
	FetchOrder   int // position in the concatenated fan-out output, for tie-breaks
}

// RankedResult is a SearchResult plus the post-rerank score (C5).
type RankedResult struct {
	SearchResult
	RerankScore float64
}
