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

// TriggerRepository handles trigger storage and the atomic execution counter.
type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const selectTriggerColumns = `
	SELECT
		id
	  , tenant_id
	  , name
	  , event_type
	  , conditions
	  , workflow_id
	  , active
	  , execution_count
	  , last_executed_at
	  , created_at
	  , updated_at
	FROM triggers
`

func (r *TriggerRepository) FindMatching(ctx context.Context, tenantID, eventType string) ([]*models.Trigger, error) {
	query := selectTriggerColumns + `
		WHERE tenant_id = $1 AND event_type = $2 AND active
		ORDER BY created_at
	`

	return r.queryTriggers(ctx, "FindMatching", query, tenantID, eventType)
}

func (r *TriggerRepository) RecordTriggerExecution(ctx context.Context, id string) error {
	// Atomic increment: never read-modify-write, so concurrent dispatches
	// referencing the same trigger cannot lose updates.
	query := `
		UPDATE triggers
		SET execution_count = execution_count + 1
		  , last_executed_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return persistence.NewOpError("RecordTriggerExecution", "trigger", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewOpError("RecordTriggerExecution", "trigger", id, err)
	}

	if affected == 0 {
		return persistence.NewOpError("RecordTriggerExecution", "trigger", id, persistence.ErrTriggerNotFound)
	}

	return nil
}

func (r *TriggerRepository) SaveTrigger(ctx context.Context, trigger *models.Trigger) error {
	conditions, err := json.Marshal(trigger.Conditions)
	if err != nil {
		return persistence.NewOpError("SaveTrigger", "trigger", trigger.ID, err)
	}

	now := time.Now().UTC()
	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = now
	}

	trigger.UpdatedAt = now

	query := `
		INSERT INTO triggers (
			id, tenant_id, name, event_type, conditions, workflow_id, active,
			execution_count, last_executed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , event_type = EXCLUDED.event_type
		  , conditions = EXCLUDED.conditions
		  , workflow_id = EXCLUDED.workflow_id
		  , active = EXCLUDED.active
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		trigger.ID, trigger.TenantID, trigger.Name, trigger.EventType, conditions,
		trigger.WorkflowID, trigger.Active, trigger.ExecutionCount,
		trigger.LastExecutedAt, trigger.CreatedAt, trigger.UpdatedAt,
	)
	if err != nil {
		return persistence.NewOpError("SaveTrigger", "trigger", trigger.ID, err)
	}

	return nil
}

func (r *TriggerRepository) TriggerByID(ctx context.Context, id string) (*models.Trigger, error) {
	query := selectTriggerColumns + ` WHERE id = $1`

	trigger, err := scanTrigger(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewOpError("TriggerByID", "trigger", id, persistence.ErrTriggerNotFound)
		}

		return nil, persistence.NewOpError("TriggerByID", "trigger", id, err)
	}

	return trigger, nil
}

func (r *TriggerRepository) ListTriggers(ctx context.Context, tenantID string) ([]*models.Trigger, error) {
	query := selectTriggerColumns + ` WHERE tenant_id = $1 ORDER BY created_at`

	return r.queryTriggers(ctx, "ListTriggers", query, tenantID)
}

func (r *TriggerRepository) DeleteTrigger(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM triggers WHERE id = $1", id)
	if err != nil {
		return persistence.NewOpError("DeleteTrigger", "trigger", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewOpError("DeleteTrigger", "trigger", id, err)
	}

	if affected == 0 {
		return persistence.NewOpError("DeleteTrigger", "trigger", id, persistence.ErrTriggerNotFound)
	}

	return nil
}

func (r *TriggerRepository) queryTriggers(ctx context.Context, op, query string, args ...any) ([]*models.Trigger, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewOpError(op, "trigger", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	triggers := make([]*models.Trigger, 0)

	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, persistence.NewOpError(op, "trigger", "", err)
		}

		triggers = append(triggers, trigger)
	}

	if err = rows.Err(); err != nil {
		return nil, persistence.NewOpError(op, "trigger", "", err)
	}

	return triggers, nil
}

func scanTrigger(row rowScanner) (*models.Trigger, error) {
	var (
		trigger        models.Trigger
		conditions     []byte
		workflowID     sql.NullString
		lastExecutedAt sql.NullTime
	)

	err := row.Scan(
		&trigger.ID, &trigger.TenantID, &trigger.Name, &trigger.EventType,
		&conditions, &workflowID, &trigger.Active, &trigger.ExecutionCount,
		&lastExecutedAt, &trigger.CreatedAt, &trigger.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	trigger.WorkflowID = workflowID.String

	if lastExecutedAt.Valid {
		trigger.LastExecutedAt = &lastExecutedAt.Time
	}

	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &trigger.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger conditions: %w", err)
		}
	}

	return &trigger, nil
}
