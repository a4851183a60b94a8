package postgres

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

var _ ports.ToolCallStore = (*ToolCallStore)(nil)

func TestToolCallStore_Save(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	store := &ToolCallStore{BaseRepository: BaseRepository{pool: nil}}
	call := models.NewToolCall("atc_1", "lookup_drug", map[string]any{"name": "metformin"}, "sess_1", "user_1", "trace_1", time.Now())
	call.Validate(time.Now())

	mock.ExpectExec("INSERT INTO orchestrator_tool_calls").
		WithArgs(call.ID, call.Name, pgxmock.AnyArg(), call.SessionID, call.UserID, call.TraceID,
			string(call.State), pgxmock.AnyArg(), call.PHIInvolved, call.CreatedAt, call.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := setupMockContext(mock)
	if err := store.Save(ctx, call); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestToolCallStore_SaveResult(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	store := &ToolCallStore{BaseRepository: BaseRepository{pool: nil}}
	result := models.ToolResult{ToolCallID: "atc_1", Success: true, Payload: map[string]any{"ok": true}, DurationMS: 42}

	mock.ExpectExec("INSERT INTO orchestrator_tool_results").
		WithArgs(result.ToolCallID, result.Success, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), result.DurationMS).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := setupMockContext(mock)
	if err := store.SaveResult(ctx, result); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestToolCallStore_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	store := &ToolCallStore{BaseRepository: BaseRepository{pool: nil}}
	now := time.Now()

	rows := pgxmock.NewRows([]string{
		"id", "name", "arguments", "session_id", "user_id", "trace_id",
		"state", "error_kind", "phi_involved", "created_at", "updated_at",
	}).AddRow("atc_1", "lookup_drug", []byte(`{"name":"metformin"}`), "sess_1", "user_1", "trace_1",
		string(models.ToolStateCompleted), "", false, now, now)

	mock.ExpectQuery("SELECT id, name, arguments").
		WithArgs("atc_1").
		WillReturnRows(rows)

	ctx := setupMockContext(mock)
	call, err := store.GetByID(ctx, "atc_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if call.State != models.ToolStateCompleted {
		t.Errorf("expected completed state, got %v", call.State)
	}
	if call.Arguments["name"] != "metformin" {
		t.Errorf("expected argument round-trip, got %v", call.Arguments)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
