package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

const callColumns = `id, tenant_id, caller_number, direction, priority, status, language, session_id,
    started_at, ended_at, duration_seconds, audio_files, transcript, llm_responses, context_data,
    triggered_automations, satisfaction_score, resolved, resolution_notes, error_messages, end_reason,
    created_at, updated_at`

// sqlUpsertCall writes the full call row. Calls are saved at start, after each turn and at the end.
const sqlUpsertCall = `
INSERT INTO calls (` + callColumns + `)
VALUES (:id, :tenant_id, :caller_number, :direction, :priority, :status, :language, :session_id,
    :started_at, :ended_at, :duration_seconds, :audio_files, :transcript, :llm_responses, :context_data,
    :triggered_automations, :satisfaction_score, :resolved, :resolution_notes, :error_messages, :end_reason,
    :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    priority = EXCLUDED.priority,
    session_id = EXCLUDED.session_id,
    started_at = EXCLUDED.started_at,
    ended_at = EXCLUDED.ended_at,
    duration_seconds = EXCLUDED.duration_seconds,
    audio_files = EXCLUDED.audio_files,
    transcript = EXCLUDED.transcript,
    llm_responses = EXCLUDED.llm_responses,
    context_data = EXCLUDED.context_data,
    triggered_automations = EXCLUDED.triggered_automations,
    satisfaction_score = EXCLUDED.satisfaction_score,
    resolved = EXCLUDED.resolved,
    resolution_notes = EXCLUDED.resolution_notes,
    error_messages = EXCLUDED.error_messages,
    end_reason = EXCLUDED.end_reason,
    updated_at = EXCLUDED.updated_at`

func (s *Store) SaveCall(ctx context.Context, call Call) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.NamedExecContext(ctx, sqlUpsertCall, call)
	return err
}

const sqlSelectCall = `SELECT ` + callColumns + ` FROM calls WHERE id = $1 AND tenant_id = $2`

func (s *Store) GetCall(ctx context.Context, tenantID, callID uuid.UUID) (Call, error) {
	if err := s.ready(); err != nil {
		return Call{}, err
	}
	var call Call
	err := s.db.GetContext(ctx, &call, sqlSelectCall, callID, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return call, err
}

const sqlListCalls = `
SELECT ` + callColumns + `
FROM calls
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

func (s *Store) ListCalls(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]Call, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	calls := []Call{}
	err := s.db.SelectContext(ctx, &calls, sqlListCalls, tenantID, limit, offset)
	return calls, err
}

const sqlCountCallsSince = `SELECT COUNT(*) FROM calls WHERE tenant_id = $1 AND created_at >= $2`

// CountCallsSince counts a tenant's calls created at or after since.
func (s *Store) CountCallsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var count int
	err := s.db.GetContext(ctx, &count, sqlCountCallsSince, tenantID, since)
	return count, err
}
