package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence"
)

// uniqueViolation is the postgres error code for unique constraint failures.
const uniqueViolation = "23505"

// EventRepository handles the domain event ledger.
type EventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *EventRepository) SaveEvent(ctx context.Context, event *models.DomainEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return persistence.NewOpError("SaveEvent", "event", event.ID, err)
	}

	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return persistence.NewOpError("SaveEvent", "event", event.ID, err)
	}

	query := `
		INSERT INTO domain_events (
			id, tenant_id, event_type, entity_type, entity_id,
			payload, metadata, triggers_executed, workflows_executed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID, event.TenantID, event.EventType, event.EntityType, event.EntityID,
		payload, metadata, event.TriggersExecuted, event.WorkflowsExecuted, event.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return persistence.NewOpError("SaveEvent", "event", event.ID, persistence.ErrEventAlreadyExists)
		}

		return persistence.NewOpError("SaveEvent", "event", event.ID, err)
	}

	return nil
}

func (r *EventRepository) EventByID(ctx context.Context, id string) (*models.DomainEvent, error) {
	query := selectEventColumns + ` WHERE id = $1`

	event, err := scanEvent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewOpError("EventByID", "event", id, persistence.ErrEventNotFound)
		}

		return nil, persistence.NewOpError("EventByID", "event", id, err)
	}

	return event, nil
}

func (r *EventRepository) ListEvents(ctx context.Context, tenantID string, filter models.EventFilter) ([]*models.DomainEvent, error) {
	query := selectEventColumns + ` WHERE tenant_id = $1`
	args := []any{tenantID}

	appendFilter := func(clause string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}

	if filter.EventType != "" {
		appendFilter("event_type =", filter.EventType)
	}

	if filter.EntityType != "" {
		appendFilter("entity_type =", filter.EntityType)
	}

	if filter.EntityID != "" {
		appendFilter("entity_id =", filter.EntityID)
	}

	if filter.StartDate != nil {
		appendFilter("created_at >=", *filter.StartDate)
	}

	if filter.EndDate != nil {
		appendFilter("created_at <=", *filter.EndDate)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewOpError("ListEvents", "event", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	events := make([]*models.DomainEvent, 0)

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, persistence.NewOpError("ListEvents", "event", "", err)
		}

		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, persistence.NewOpError("ListEvents", "event", "", err)
	}

	return events, nil
}

func (r *EventRepository) RecordEventProcessed(ctx context.Context, id string, triggersExecuted, workflowsExecuted int) error {
	query := `
		UPDATE domain_events
		SET triggers_executed = $2
		  , workflows_executed = $3
		  , processed_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, triggersExecuted, workflowsExecuted)
	if err != nil {
		return persistence.NewOpError("RecordEventProcessed", "event", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewOpError("RecordEventProcessed", "event", id, err)
	}

	if affected == 0 {
		return persistence.NewOpError("RecordEventProcessed", "event", id, persistence.ErrEventNotFound)
	}

	return nil
}

func (r *EventRepository) EventStats(ctx context.Context, tenantID string, since time.Time) (*models.EventStats, error) {
	stats := &models.EventStats{
		EventsByType:   make(map[string]int),
		EventsByEntity: make(map[string]int),
	}

	query := `
		SELECT COUNT(*)
		     , COALESCE(SUM(triggers_executed), 0)
		     , COALESCE(SUM(workflows_executed), 0)
		FROM domain_events
		WHERE tenant_id = $1 AND created_at >= $2
	`

	err := r.db.QueryRowContext(ctx, query, tenantID, since).
		Scan(&stats.TotalEvents, &stats.TriggersExecuted, &stats.WorkflowsExecuted)
	if err != nil {
		return nil, persistence.NewOpError("EventStats", "event", "", err)
	}

	if err = r.countBy(ctx, tenantID, since, "event_type", stats.EventsByType); err != nil {
		return nil, err
	}

	if err = r.countBy(ctx, tenantID, since, "entity_type", stats.EventsByEntity); err != nil {
		return nil, err
	}

	rateQuery := `
		SELECT COUNT(*) FILTER (WHERE status = 'completed')
		     , COUNT(*) FILTER (WHERE status IN ('completed', 'failed'))
		FROM workflow_executions
		WHERE tenant_id = $1 AND started_at >= $2
	`

	var succeeded, finished int

	err = r.db.QueryRowContext(ctx, rateQuery, tenantID, since).Scan(&succeeded, &finished)
	if err != nil {
		return nil, persistence.NewOpError("EventStats", "execution", "", err)
	}

	if finished > 0 {
		stats.SuccessRate = float64(succeeded) / float64(finished)
	}

	return stats, nil
}

func (r *EventRepository) countBy(ctx context.Context, tenantID string, since time.Time, column string, out map[string]int) error {
	query := fmt.Sprintf(`
		SELECT %s, COUNT(*)
		FROM domain_events
		WHERE tenant_id = $1 AND created_at >= $2 AND %s IS NOT NULL AND %s <> ''
		GROUP BY %s
	`, column, column, column, column)

	rows, err := r.db.QueryContext(ctx, query, tenantID, since)
	if err != nil {
		return persistence.NewOpError("EventStats", "event", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	for rows.Next() {
		var (
			key   string
			count int
		)

		if err := rows.Scan(&key, &count); err != nil {
			return persistence.NewOpError("EventStats", "event", "", err)
		}

		out[key] = count
	}

	return rows.Err()
}

const selectEventColumns = `
	SELECT
		id
	  , tenant_id
	  , event_type
	  , entity_type
	  , entity_id
	  , payload
	  , metadata
	  , triggers_executed
	  , workflows_executed
	  , processed_at
	  , created_at
	FROM domain_events
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.DomainEvent, error) {
	var (
		event       models.DomainEvent
		entityType  sql.NullString
		entityID    sql.NullString
		payload     []byte
		metadata    []byte
		processedAt sql.NullTime
	)

	err := row.Scan(
		&event.ID, &event.TenantID, &event.EventType, &entityType, &entityID,
		&payload, &metadata, &event.TriggersExecuted, &event.WorkflowsExecuted,
		&processedAt, &event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.EntityType = entityType.String
	event.EntityID = entityID.String

	if processedAt.Valid {
		event.ProcessedAt = &processedAt.Time
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
	}

	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
		}
	}

	return &event, nil
}
