package postgres

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/sageclinic/orchestrator/internal/domain/models"
)

func TestSessionStore_PutSession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	store := &SessionStore{BaseRepository: BaseRepository{pool: nil}}
	session := models.NewSession("sess_1", "user_1", time.Now())

	mock.ExpectExec("INSERT INTO orchestrator_sessions").
		WithArgs(session.ID, session.UserID, session.CreatedAt, session.LastActivityAt, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := setupMockContext(mock)
	if err := store.PutSession(ctx, session); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSessionStore_GetSession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	store := &SessionStore{BaseRepository: BaseRepository{pool: nil}}
	now := time.Now()

	rows := pgxmock.NewRows([]string{"id", "user_id", "created_at", "last_activity_at", "pinned_context", "preferences"}).
		AddRow("sess_1", "user_1", now, now, "", []byte(nil))

	mock.ExpectQuery("SELECT id, user_id, created_at, last_activity_at, pinned_context, preferences").
		WithArgs("sess_1").
		WillReturnRows(rows)

	ctx := setupMockContext(mock)
	session, err := store.GetSession(ctx, "sess_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.UserID != "user_1" {
		t.Errorf("expected user_1, got %s", session.UserID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
