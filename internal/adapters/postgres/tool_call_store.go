package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sageclinic/orchestrator/internal/domain/models"
)

// ToolCallStore persists ToolCall state transitions and their linked
// ToolResult (C9, persisted state layout). Adapted from tool_use_repository.go's
// upsert-by-id idiom; the teacher's separate ToolRepository (a registry of
// tool definitions keyed by name) has no spec counterpart since tools are
// registered in-process by the Tool Registry, not read from a table, so it
// is dropped rather than adapted (see DESIGN.md).
type ToolCallStore struct {
	BaseRepository
}

func NewToolCallStore(pool *pgxpool.Pool) *ToolCallStore {
	return &ToolCallStore{BaseRepository: NewBaseRepository(pool)}
}

// Save upserts one ToolCall row keyed by id. The executor calls this at
// every state transition, so the row always reflects the call's current
// state even if the process crashes mid-execution.
func (s *ToolCallStore) Save(ctx context.Context, call *models.ToolCall) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	args, err := json.Marshal(call.Arguments)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO orchestrator_tool_calls (
			id, name, arguments, session_id, user_id, trace_id, state,
			error_kind, phi_involved, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			error_kind = EXCLUDED.error_kind,
			phi_involved = EXCLUDED.phi_involved,
			updated_at = EXCLUDED.updated_at`

	_, err = s.conn(ctx).Exec(ctx, query,
		call.ID,
		call.Name,
		args,
		call.SessionID,
		call.UserID,
		call.TraceID,
		string(call.State),
		nullString(string(call.ErrorKind)),
		call.PHIInvolved,
		call.CreatedAt,
		call.UpdatedAt,
	)
	return err
}

// SaveResult upserts the terminal ToolResult linked to its ToolCall by id.
func (s *ToolCallStore) SaveResult(ctx context.Context, result models.ToolResult) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	payload, err := marshalJSONField(&result.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO orchestrator_tool_results (
			tool_call_id, success, payload, error_kind, error_message, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tool_call_id) DO UPDATE SET
			success = EXCLUDED.success,
			payload = EXCLUDED.payload,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message,
			duration_ms = EXCLUDED.duration_ms`

	_, err = s.conn(ctx).Exec(ctx, query,
		result.ToolCallID,
		result.Success,
		payload,
		nullString(string(result.ErrorKind)),
		nullString(result.ErrorMessage),
		result.DurationMS,
	)
	return err
}

// GetByID returns pgx.ErrNoRows when the call does not exist, matching the
// teacher's not-found convention.
func (s *ToolCallStore) GetByID(ctx context.Context, id string) (*models.ToolCall, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, name, arguments, session_id, user_id, trace_id, state,
			error_kind, phi_involved, created_at, updated_at
		FROM orchestrator_tool_calls
		WHERE id = $1`

	return s.scanToolCall(s.conn(ctx).QueryRow(ctx, query, id))
}

// GetResult returns pgx.ErrNoRows when no result has been saved yet.
func (s *ToolCallStore) GetResult(ctx context.Context, toolCallID string) (*models.ToolResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT tool_call_id, success, payload, error_kind, error_message, duration_ms
		FROM orchestrator_tool_results
		WHERE tool_call_id = $1`

	return s.scanToolResult(s.conn(ctx).QueryRow(ctx, query, toolCallID))
}

func (s *ToolCallStore) scanToolCall(row pgx.Row) (*models.ToolCall, error) {
	var t models.ToolCall
	var arguments []byte
	var state string
	var errorKind sql.NullString

	err := row.Scan(
		&t.ID, &t.Name, &arguments, &t.SessionID, &t.UserID, &t.TraceID,
		&state, &errorKind, &t.PHIInvolved, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if checkNoRows(err) {
			return nil, pgx.ErrNoRows
		}
		return nil, err
	}

	if err := unmarshalJSONField(arguments, &t.Arguments); err != nil {
		return nil, err
	}
	t.State = models.ToolCallState(state)
	t.ErrorKind = models.ToolErrorKind(getString(errorKind))
	return &t, nil
}

func (s *ToolCallStore) scanToolResult(row pgx.Row) (*models.ToolResult, error) {
	var r models.ToolResult
	var payload []byte
	var errorKind, errorMessage sql.NullString

	err := row.Scan(&r.ToolCallID, &r.Success, &payload, &errorKind, &errorMessage, &r.DurationMS)
	if err != nil {
		if checkNoRows(err) {
			return nil, pgx.ErrNoRows
		}
		return nil, err
	}

	if err := unmarshalJSONField(payload, &r.Payload); err != nil {
		return nil, err
	}
	r.ErrorKind = models.ToolErrorKind(getString(errorKind))
	r.ErrorMessage = getString(errorMessage)
	return &r, nil
}
