package postgres

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/sageclinic/orchestrator/internal/domain/models"
)

func TestMessageStore_AppendMessage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	store := &MessageStore{BaseRepository: BaseRepository{pool: nil}}
	msg := models.NewMessage("msg_1", "sess_1", models.RoleUser, "what's the max dose of metformin?", time.Now())

	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(pgxmock.NewResult("SELECT", 0))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("sess_1").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(1))
	mock.ExpectExec("INSERT INTO orchestrator_messages").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := setupMockContext(mock)
	if err := store.AppendMessage(ctx, "sess_1", msg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMessageStore_RecentMessages(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	store := &MessageStore{BaseRepository: BaseRepository{pool: nil}}
	now := time.Now()

	rows := pgxmock.NewRows([]string{
		"id", "session_id", "sequence_number", "previous_message_id", "role", "content",
		"citations", "tool_call_id", "completed", "created_at",
	}).
		AddRow("msg_2", "sess_1", 2, "msg_1", "assistant", "metformin max dose is 2000mg/day", []byte(nil), "", true, now).
		AddRow("msg_1", "sess_1", 1, "", "user", "what's the max dose of metformin?", []byte(nil), "", true, now)

	mock.ExpectQuery("SELECT id, session_id, sequence_number").
		WithArgs("sess_1", 2).
		WillReturnRows(rows)

	ctx := setupMockContext(mock)
	messages, err := store.RecentMessages(ctx, "sess_1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].ID != "msg_1" {
		t.Errorf("expected oldest-first ordering, got %s first", messages[0].ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
