// Package assemble implements the Response Assembler (C8): inline citation
// insertion and final metadata bookkeeping.
package assemble

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sageclinic/orchestrator/internal/domain/models"
)

// Assembler implements ports.ResponseAssembler.
type Assembler struct {
	now func() time.Time
}

func New() *Assembler {
	return &Assembler{now: time.Now}
}

// Assemble inserts bracketed numeric citation markers aligned to the ranked
// list, builds the parallel Citation list, and records response metadata
// (spec §4.8).
func (a *Assembler) Assemble(_ context.Context, _ string, answer models.GeneratedAnswer, ranked []models.RankedResult, meta models.ResponseMetadata) models.QueryResponse {
	citations := make([]models.Citation, 0, len(ranked))
	var markers strings.Builder

	for i, r := range ranked {
		id := fmt.Sprintf("c%d", i+1)
		citations = append(citations, models.Citation{
			ID:            id,
			SourceKind:    models.SourceKind(sourceKindOf(r)),
			Title:         r.Title,
			URL:           r.URL,
			EvidenceGrade: r.EvidenceGrade,
		})
		fmt.Fprintf(&markers, "[%d]", i+1)
	}

	meta.TokensUsed = answer.TokensUsed
	meta.CostUSD = answer.CostUSD
	meta.ModelID = answer.ModelID
	meta.ToolCallIDs = answer.ToolCallIDs

	text := answer.Text
	if markers.Len() > 0 {
		text = strings.TrimRight(text, " \n") + " " + markers.String()
	}

	return models.QueryResponse{
		Answer:    text,
		Citations: citations,
		Metadata:  meta,
		CreatedAt: a.now(),
	}
}

func sourceKindOf(r models.RankedResult) string {
	return r.Source
}
