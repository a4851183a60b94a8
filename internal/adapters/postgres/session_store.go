package postgres

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sageclinic/orchestrator/internal/domain/models"
)

// SessionStore persists Sessions for the Conversation Context Store (C10).
// Adapted from conversation_repository.go's BaseRepository/JSON-field idiom.
type SessionStore struct {
	BaseRepository
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{BaseRepository: NewBaseRepository(pool)}
}

// GetSession returns pgx.ErrNoRows when the session does not exist, matching
// the teacher's not-found convention.
func (r *SessionStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, created_at, last_activity_at, pinned_context, preferences
		FROM orchestrator_sessions
		WHERE id = $1`

	return r.scanSession(r.conn(ctx).QueryRow(ctx, query, sessionID))
}

// PutSession upserts, since the write-through cache calls this on both first
// creation and every subsequent touch.
func (r *SessionStore) PutSession(ctx context.Context, session *models.Session) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	preferences, err := marshalJSONField(session.Preferences)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO orchestrator_sessions (
			id, user_id, created_at, last_activity_at, pinned_context, preferences
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			last_activity_at = EXCLUDED.last_activity_at,
			pinned_context = EXCLUDED.pinned_context,
			preferences = EXCLUDED.preferences`

	_, err = r.conn(ctx).Exec(ctx, query,
		session.ID,
		session.UserID,
		session.CreatedAt,
		session.LastActivityAt,
		nullString(session.PinnedContext),
		preferences,
	)
	return err
}

func (r *SessionStore) scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	var pinnedContext sql.NullString
	var preferences []byte

	err := row.Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.LastActivityAt, &pinnedContext, &preferences)
	if err != nil {
		if checkNoRows(err) {
			return nil, pgx.ErrNoRows
		}
		return nil, err
	}

	s.PinnedContext = getString(pinnedContext)
	s.Preferences, err = unmarshalJSONPointer[models.Preferences](preferences)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
