package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence"
)

// WorkflowRepository handles workflow storage and cumulative run statistics.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const selectWorkflowColumns = `
	SELECT
		id
	  , tenant_id
	  , name
	  , steps
	  , active
	  , execution_count
	  , success_rate
	  , average_execution_time_ms
	  , last_executed_at
	  , created_at
	  , updated_at
	FROM workflows
`

func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	steps, err := json.Marshal(workflow.Steps)
	if err != nil {
		return persistence.NewOpError("SaveWorkflow", "workflow", workflow.ID, err)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	query := `
		INSERT INTO workflows (
			id, tenant_id, name, steps, active, execution_count, success_rate,
			average_execution_time_ms, last_executed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , steps = EXCLUDED.steps
		  , active = EXCLUDED.active
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID, workflow.TenantID, workflow.Name, steps, workflow.Active,
		workflow.ExecutionCount, workflow.SuccessRate, workflow.AverageExecutionTimeMs,
		workflow.LastExecutedAt, workflow.CreatedAt, workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewOpError("SaveWorkflow", "workflow", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := selectWorkflowColumns + ` WHERE id = $1`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewOpError("WorkflowByID", "workflow", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewOpError("WorkflowByID", "workflow", id, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error) {
	query := selectWorkflowColumns + ` WHERE tenant_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, persistence.NewOpError("ListWorkflows", "workflow", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, persistence.NewOpError("ListWorkflows", "workflow", "", err)
		}

		workflows = append(workflows, workflow)
	}

	if err = rows.Err(); err != nil {
		return nil, persistence.NewOpError("ListWorkflows", "workflow", "", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) DeleteWorkflow(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return persistence.NewOpError("DeleteWorkflow", "workflow", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewOpError("DeleteWorkflow", "workflow", id, err)
	}

	if affected == 0 {
		return persistence.NewOpError("DeleteWorkflow", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) RecordWorkflowRun(ctx context.Context, id string, success bool, durationMs int64) error {
	// Cumulative running average folded in a single statement, so concurrent
	// runs never lose updates.
	query := `
		UPDATE workflows
		SET success_rate = (success_rate * execution_count + $2) / (execution_count + 1)
		  , average_execution_time_ms = (average_execution_time_ms * execution_count + $3) / (execution_count + 1)
		  , execution_count = execution_count + 1
		  , last_executed_at = NOW()
		WHERE id = $1
	`

	successValue := 0.0
	if success {
		successValue = 1.0
	}

	result, err := r.db.ExecContext(ctx, query, id, successValue, durationMs)
	if err != nil {
		return persistence.NewOpError("RecordWorkflowRun", "workflow", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewOpError("RecordWorkflowRun", "workflow", id, err)
	}

	if affected == 0 {
		return persistence.NewOpError("RecordWorkflowRun", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow       models.Workflow
		steps          []byte
		lastExecutedAt sql.NullTime
	)

	err := row.Scan(
		&workflow.ID, &workflow.TenantID, &workflow.Name, &steps, &workflow.Active,
		&workflow.ExecutionCount, &workflow.SuccessRate, &workflow.AverageExecutionTimeMs,
		&lastExecutedAt, &workflow.CreatedAt, &workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastExecutedAt.Valid {
		workflow.LastExecutedAt = &lastExecutedAt.Time
	}

	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &workflow.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow steps: %w", err)
		}
	}

	return &workflow, nil
}
