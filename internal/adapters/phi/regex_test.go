package phi

import (
	"context"
	"testing"
)

func TestDetectFindsMRN(t *testing.T) {
	d := New()
	verdict, err := d.Detect(context.Background(), "Patient MRN-123456 presents with chest pain.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verdict.HasPHI {
		t.Fatal("expected has_phi=true")
	}
}

func TestDetectFindsPhoneAndDate(t *testing.T) {
	d := New()
	verdict, err := d.Detect(context.Background(), "Call back at 555-123-4567 regarding the 03/14/2024 visit.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verdict.HasPHI {
		t.Fatal("expected has_phi=true")
	}
	if len(verdict.Entities) < 2 {
		t.Errorf("expected at least 2 entities, got %d", len(verdict.Entities))
	}
}

func TestDetectCleanTextHasNoPHI(t *testing.T) {
	d := New()
	verdict, err := d.Detect(context.Background(), "what is the first line treatment for hypertension")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.HasPHI {
		t.Errorf("expected no PHI, got entities: %+v", verdict.Entities)
	}
}
