package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	cb := New(3, 50*time.Millisecond)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return boom }); err != boom {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}

	if got := cb.State(); got != StateOpen {
		t.Fatalf("expected StateOpen, got %v", got)
	}

	if err := cb.Execute(func() error { return nil }); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen while open, got %v", err)
	}
}

func TestBreakerHalfOpenRecoversAfterSuccessThreshold(t *testing.T) {
	cfg := Config{FailureThreshold: 1, Timeout: 10 * time.Millisecond, HalfOpenRequests: 1, SuccessThreshold: 2}
	cb := NewWithConfig(cfg)

	boom := errors.New("boom")
	if err := cb.Execute(func() error { return boom }); err != boom {
		t.Fatalf("expected boom, got %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open after single failure at threshold 1")
	}

	time.Sleep(15 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected half-open probe to succeed, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open after one success (threshold 2)")
	}

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected second probe to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after success_threshold consecutive successes, got %v", cb.State())
	}
}

func TestRegistryEmitsOnOpenOnce(t *testing.T) {
	opened := 0
	reg := NewRegistry(Config{FailureThreshold: 1, Timeout: time.Minute, HalfOpenRequests: 1, SuccessThreshold: 2}, func(key string) {
		opened++
	})

	ctx := context.Background()
	boom := errors.New("boom")

	if err := reg.Guard(ctx, "sourceA", func(context.Context) error { return boom }); err != boom {
		t.Fatalf("expected boom, got %v", err)
	}
	if opened != 1 {
		t.Fatalf("expected exactly one open alert, got %d", opened)
	}

	if err := reg.Guard(ctx, "sourceA", func(context.Context) error { return nil }); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen on second call while open, got %v", err)
	}
	if opened != 1 {
		t.Fatalf("expected open alert to fire only once, got %d", opened)
	}

	state := reg.State("sourceA")
	if state.Mode != "open" {
		t.Fatalf("expected reported mode open, got %v", state.Mode)
	}
}
