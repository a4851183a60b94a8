package models

import "time"

// Citation is one entry in a QueryResponse's citation list, referenced from
// the answer text by an inline numeric marker (spec §4.8).
type Citation struct {
	ID            string
	SourceKind    SourceKind
	Title         string
	URL           string
	EvidenceGrade string
}

// GeneratedAnswer is the Answer Generator's (C7) output: the streamed token
// sequence plus final totals.
type GeneratedAnswer struct {
	Text        string
	ModelID     string
	TokensUsed  int
	CostUSD     float64
	ChunkCount  int
	ToolCallIDs []string
}

// SourceQueryOutcome reports one fan-out leg's conclusion for response
// metadata (spec §8: "metadata.sources=[{name,outcome}...]").
type SourceQueryOutcome struct {
	Name    string
	Outcome SearchOutcome
}

// ResponseMetadata records the boundary-visible facts about how a response
// was produced (spec §4.8, §6).
type ResponseMetadata struct {
	ModelID     string
	PHIDetected bool
	Intent      IntentTag
	Sources     []SourceQueryOutcome
	TokensUsed  int
	CostUSD     float64
	TraceID     string
	DegradedMode bool
	ToolCallIDs []string
}

// QueryResponse is the assembled, boundary-visible result of one query.
type QueryResponse struct {
	MessageID  string
	Answer     string // with inline citation markers, e.g. "...[1][2]"
	Citations  []Citation
	Metadata   ResponseMetadata
	CreatedAt  time.Time
	Clarification *ClarificationRequest
}

// ClarificationRequest is returned instead of fanning out when the
// clarification gate (spec §4.3) fires.
type ClarificationRequest struct {
	Question string
	Reason   string // "low_confidence" | "too_short" | "ambiguous_term"
}
