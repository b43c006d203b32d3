package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence"
)

// ExecutionRepository handles the workflow execution ledger.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const selectExecutionColumns = `
	SELECT
		id
	  , workflow_id
	  , tenant_id
	  , trigger_id
	  , event_id
	  , status
	  , started_at
	  , completed_at
	  , result
	  , error
	  , steps
	FROM workflow_executions
`

func (r *ExecutionRepository) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	steps, err := json.Marshal(execution.Steps)
	if err != nil {
		return persistence.NewOpError("SaveExecution", "execution", execution.ID, err)
	}

	var result []byte
	if execution.Result != nil {
		result, err = json.Marshal(execution.Result)
		if err != nil {
			return persistence.NewOpError("SaveExecution", "execution", execution.ID, err)
		}
	}

	query := `
		INSERT INTO workflow_executions (
			id, workflow_id, tenant_id, trigger_id, event_id, status,
			started_at, completed_at, result, error, steps
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, NULLIF($10, ''), $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , completed_at = EXCLUDED.completed_at
		  , result = EXCLUDED.result
		  , error = EXCLUDED.error
		  , steps = EXCLUDED.steps
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID, execution.WorkflowID, execution.TenantID, execution.TriggerID,
		execution.EventID, execution.Status, execution.StartedAt, execution.CompletedAt,
		result, execution.Error, steps,
	)
	if err != nil {
		return persistence.NewOpError("SaveExecution", "execution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := selectExecutionColumns + ` WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewOpError("ExecutionByID", "execution", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewOpError("ExecutionByID", "execution", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListExecutions(ctx context.Context, tenantID, workflowID string, limit, offset int) ([]*models.WorkflowExecution, error) {
	query := selectExecutionColumns + ` WHERE tenant_id = $1`
	args := []any{tenantID}

	if workflowID != "" {
		args = append(args, workflowID)
		query += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}

	query += " ORDER BY started_at DESC"

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewOpError("ListExecutions", "execution", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, persistence.NewOpError("ListExecutions", "execution", "", err)
		}

		executions = append(executions, execution)
	}

	if err = rows.Err(); err != nil {
		return nil, persistence.NewOpError("ListExecutions", "execution", "", err)
	}

	return executions, nil
}

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution   models.WorkflowExecution
		triggerID   sql.NullString
		eventID     sql.NullString
		completedAt sql.NullTime
		result      []byte
		errMessage  sql.NullString
		steps       []byte
	)

	err := row.Scan(
		&execution.ID, &execution.WorkflowID, &execution.TenantID, &triggerID,
		&eventID, &execution.Status, &execution.StartedAt, &completedAt,
		&result, &errMessage, &steps,
	)
	if err != nil {
		return nil, err
	}

	execution.TriggerID = triggerID.String
	execution.EventID = eventID.String
	execution.Error = errMessage.String

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	if len(result) > 0 {
		if err := json.Unmarshal(result, &execution.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution result: %w", err)
		}
	}

	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &execution.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution steps: %w", err)
		}
	}

	return &execution, nil
}
