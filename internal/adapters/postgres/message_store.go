package postgres

import (
	"context"
	"database/sql"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sageclinic/orchestrator/internal/domain/models"
)

// MessageStore persists per-session message history for the Conversation
// Context Store (C10). Adapted from message_repository.go: keeps its
// advisory-lock sequence-number allocation (hashConversationID +
// pg_advisory_xact_lock) and its previous_id branching column, both
// supplemented features carried forward from the original implementation
// (spec §12).
type MessageStore struct {
	BaseRepository
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{BaseRepository: NewBaseRepository(pool)}
}

// AppendMessage assigns the next sequence number under a transaction-scoped
// advisory lock (so concurrent appends to the same session never collide),
// then inserts the message.
func (r *MessageStore) AppendMessage(ctx context.Context, sessionID string, message *models.Message) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	citations, err := marshalJSONSlice(message.Citations)
	if err != nil {
		return err
	}

	if tx := GetTx(ctx); tx != nil {
		return r.insertWithConn(ctx, tx, sessionID, message, citations)
	}

	tx, err := r.Pool().Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := r.insertWithConn(ctx, tx, sessionID, message, citations); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *MessageStore) insertWithConn(ctx context.Context, conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, sessionID string, message *models.Message, citations []byte) error {
	lockID := hashSessionID(sessionID)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID); err != nil {
		return err
	}

	var sequence int
	err := conn.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0) + 1
		FROM orchestrator_messages
		WHERE session_id = $1`, sessionID).Scan(&sequence)
	if err != nil {
		return err
	}

	_, err = conn.Exec(ctx, `
		INSERT INTO orchestrator_messages (
			id, session_id, sequence_number, previous_message_id, role, content,
			citations, tool_call_id, completed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		message.ID,
		sessionID,
		sequence,
		nullString(message.PreviousMessageID),
		message.Role,
		message.Content,
		citations,
		nullString(message.ToolCallID),
		message.IsImmutable(),
		message.CreatedAt,
	)
	return err
}

// RecentMessages returns the last limit messages for sessionID, oldest first.
func (r *MessageStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, session_id, sequence_number, previous_message_id, role, content,
		       citations, tool_call_id, completed, created_at
		FROM orchestrator_messages
		WHERE session_id = $1
		ORDER BY sequence_number DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages, err := r.scanMessages(rows)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *MessageStore) scanMessages(rows pgx.Rows) ([]*models.Message, error) {
	var messages []*models.Message

	for rows.Next() {
		var (
			m             models.Message
			sequence      int
			previousID    sql.NullString
			role          string
			content       string
			citations     []byte
			toolCallID    sql.NullString
			completed     bool
		)

		err := rows.Scan(&m.ID, &m.SessionID, &sequence, &previousID, &role, &content, &citations, &toolCallID, &completed, &m.CreatedAt)
		if err != nil {
			return nil, err
		}

		parsedCitations, err := unmarshalJSONSlice[models.Citation](citations)
		if err != nil {
			return nil, err
		}

		m.Role = models.MessageRole(role)
		m.PreviousMessageID = getString(previousID)
		m.ToolCallID = getString(toolCallID)
		if completed {
			m.Complete(content, parsedCitations)
		} else {
			m.Content = content
			m.Citations = parsedCitations
		}

		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

func hashSessionID(sessionID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(sessionID))
	return int64(h.Sum64())
}

func marshalJSONSlice[T any](value []T) ([]byte, error) {
	if len(value) == 0 {
		return nil, nil
	}
	return marshalJSONField(&value)
}
