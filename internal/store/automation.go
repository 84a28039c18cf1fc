package store

import (
	"context"

	"github.com/google/uuid"
)

const sqlInsertAutomationExecution = `
INSERT INTO automation_executions (id, tenant_id, call_id, action, intent, status, params, output, error, duration_ms, created_at)
VALUES (:id, :tenant_id, :call_id, :action, :intent, :status, :params, :output, :error, :duration_ms, :created_at)`

func (s *Store) RecordAutomationExecution(ctx context.Context, exec AutomationExecution) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.NamedExecContext(ctx, sqlInsertAutomationExecution, exec)
	return err
}

const sqlListAutomationExecutions = `
SELECT id, tenant_id, call_id, action, intent, status, params, output, error, duration_ms, created_at
FROM automation_executions
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2`

func (s *Store) ListAutomationExecutions(ctx context.Context, tenantID uuid.UUID, limit int) ([]AutomationExecution, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	execs := []AutomationExecution{}
	err := s.db.SelectContext(ctx, &execs, sqlListAutomationExecutions, tenantID, limit)
	return execs, err
}
