package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sageclinic/orchestrator/internal/domain"
	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

type fakeRegistry struct {
	def     models.ToolDefinition
	handler ports.ToolHandler
	missing bool
}

func (f *fakeRegistry) Get(name string) (models.ToolDefinition, ports.ToolHandler, bool) {
	if f.missing {
		return models.ToolDefinition{}, nil, false
	}
	return f.def, f.handler, true
}
func (f *fakeRegistry) List() []models.ToolDefinition { return []models.ToolDefinition{f.def} }

type fakePHI struct {
	verdict models.PHIVerdict
	err     error
}

func (f *fakePHI) Detect(ctx context.Context, text string) (models.PHIVerdict, error) {
	return f.verdict, f.err
}

type fakeLimiter struct{ allow bool }

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, windowSeconds int) (bool, error) {
	return f.allow, nil
}

type fakeConfirmation struct {
	approved bool
	err      error
}

func (f *fakeConfirmation) Request(ctx context.Context, callID string, payload map[string]any) (bool, error) {
	return f.approved, f.err
}

type fakeAudit struct{ events []ports.AuditEvent }

func (f *fakeAudit) Append(ctx context.Context, event ports.AuditEvent) error {
	f.events = append(f.events, event)
	return nil
}

type passthroughBreakers struct{}

func (passthroughBreakers) Guard(ctx context.Context, key string, call func(context.Context) error) error {
	return call(ctx)
}
func (passthroughBreakers) State(key string) models.CircuitBreakerState  { return models.CircuitBreakerState{} }
func (passthroughBreakers) States() []models.CircuitBreakerState         { return nil }

type fakeIDs struct{}

func (fakeIDs) GenerateToolUseID() string { return "atu_test" }

type fakeToolCallStore struct {
	calls   []models.ToolCall
	results []models.ToolResult
}

func (f *fakeToolCallStore) Save(ctx context.Context, call *models.ToolCall) error {
	f.calls = append(f.calls, *call)
	return nil
}

func (f *fakeToolCallStore) SaveResult(ctx context.Context, result models.ToolResult) error {
	f.results = append(f.results, result)
	return nil
}

func newTestExecutor(reg *fakeRegistry, phi *fakePHI, limiter *fakeLimiter, confirm *fakeConfirmation, audit *fakeAudit) *Executor {
	return New(reg, phi, limiter, confirm, audit, passthroughBreakers{}, &fakeToolCallStore{}, fakeIDs{})
}

func TestExecuteHappyPath(t *testing.T) {
	def := models.ToolDefinition{Name: "lookup_drug", RateLimitPerMinute: 10, TimeoutSeconds: 5}
	handler := func(ctx context.Context, args map[string]any, userID string) (models.ToolResult, error) {
		return models.ToolResult{Success: true, Payload: map[string]any{"ok": true}}, nil
	}
	reg := &fakeRegistry{def: def, handler: handler}
	audit := &fakeAudit{}
	store := &fakeToolCallStore{}

	exec := New(reg, &fakePHI{}, &fakeLimiter{allow: true}, &fakeConfirmation{}, audit, passthroughBreakers{}, store, fakeIDs{})

	result, err := exec.Execute(context.Background(), "lookup_drug", map[string]any{"name": "metformin"}, "user1", "sess1", "trace1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, audit.events, 1)
	assert.Equal(t, "ok", audit.events[0].Outcome)

	require.NotEmpty(t, store.calls)
	assert.Equal(t, models.ToolStateCompleted, store.calls[len(store.calls)-1].State)
	require.Len(t, store.results, 1)
	assert.True(t, store.results[0].Success)
}

func TestExecuteUnknownTool(t *testing.T) {
	reg := &fakeRegistry{missing: true}
	audit := &fakeAudit{}
	exec := newTestExecutor(reg, &fakePHI{}, &fakeLimiter{allow: true}, &fakeConfirmation{}, audit)

	_, err := exec.Execute(context.Background(), "nonexistent", nil, "user1", "sess1", "trace1")
	require.Error(t, err)
	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.CodeValidationError, de.Code)
}

func TestExecutePHIViolation(t *testing.T) {
	def := models.ToolDefinition{Name: "send_message", RequiresPHI: false}
	reg := &fakeRegistry{def: def, handler: func(ctx context.Context, args map[string]any, userID string) (models.ToolResult, error) {
		t.Fatal("handler should not run when PHI check fails")
		return models.ToolResult{}, nil
	}}
	audit := &fakeAudit{}
	exec := newTestExecutor(reg, &fakePHI{verdict: models.PHIVerdict{HasPHI: true}}, &fakeLimiter{allow: true}, &fakeConfirmation{}, audit)

	_, err := exec.Execute(context.Background(), "send_message", map[string]any{"text": "patient John Doe"}, "user1", "sess1", "trace1")
	require.Error(t, err)
	require.Len(t, audit.events, 1)
	assert.Equal(t, "denied", audit.events[0].Outcome)
}

func TestExecuteRateLimited(t *testing.T) {
	def := models.ToolDefinition{Name: "order_labs", RateLimitPerMinute: 1}
	reg := &fakeRegistry{def: def, handler: func(ctx context.Context, args map[string]any, userID string) (models.ToolResult, error) {
		t.Fatal("handler should not run when rate limited")
		return models.ToolResult{}, nil
	}}
	audit := &fakeAudit{}
	exec := newTestExecutor(reg, &fakePHI{}, &fakeLimiter{allow: false}, &fakeConfirmation{}, audit)

	_, err := exec.Execute(context.Background(), "order_labs", nil, "user1", "sess1", "trace1")
	require.Error(t, err)
	assert.Equal(t, "denied", audit.events[0].Outcome)
}

func TestExecuteConfirmationDenied(t *testing.T) {
	def := models.ToolDefinition{Name: "discharge_patient", RequiresConfirmation: true}
	reg := &fakeRegistry{def: def, handler: func(ctx context.Context, args map[string]any, userID string) (models.ToolResult, error) {
		t.Fatal("handler should not run when confirmation is denied")
		return models.ToolResult{}, nil
	}}
	audit := &fakeAudit{}
	exec := newTestExecutor(reg, &fakePHI{}, &fakeLimiter{allow: true}, &fakeConfirmation{approved: false}, audit)

	result, err := exec.Execute(context.Background(), "discharge_patient", nil, "user1", "sess1", "trace1")
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "denied", audit.events[0].Outcome)
}

func TestExecuteHandlerTimeout(t *testing.T) {
	def := models.ToolDefinition{Name: "slow_tool", TimeoutSeconds: 1}
	reg := &fakeRegistry{def: def, handler: func(ctx context.Context, args map[string]any, userID string) (models.ToolResult, error) {
		select {
		case <-time.After(2 * time.Second):
			return models.ToolResult{Success: true}, nil
		case <-ctx.Done():
			return models.ToolResult{}, ctx.Err()
		}
	}}
	audit := &fakeAudit{}
	exec := newTestExecutor(reg, &fakePHI{}, &fakeLimiter{allow: true}, &fakeConfirmation{}, audit)

	result, err := exec.Execute(context.Background(), "slow_tool", nil, "user1", "sess1", "trace1")
	require.Error(t, err)
	assert.Equal(t, models.ToolErrTimeout, result.ErrorKind)
	assert.Equal(t, "timeout", audit.events[0].Outcome)
}
