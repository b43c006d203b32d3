// Package postgresql provides the PostgreSQL persistence implementation for
// the automation core.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/clinicore/automation/pkg/persistence"
	"github.com/clinicore/automation/pkg/persistence/sqlbase"
)

// Persistence implements persistence.Persistence on PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	eventRepo     *EventRepository
	triggerRepo   *TriggerRepository
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	chargeRepo    *ChargeRepository
	webhookRepo   *WebhookEventRepository
}

// NewPersistence connects, runs migrations, and returns the persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err = database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrator := sqlbase.NewMigrator(logger, database, migrations())
	if err = migrator.Up(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		eventRepo:     &EventRepository{db: database, logger: logger},
		triggerRepo:   &TriggerRepository{db: database, logger: logger},
		workflowRepo:  &WorkflowRepository{db: database, logger: logger},
		executionRepo: &ExecutionRepository{db: database, logger: logger},
		chargeRepo:    &ChargeRepository{db: database, logger: logger},
		webhookRepo:   &WebhookEventRepository{db: database, logger: logger},
	}, nil
}

func (p *Persistence) Events() persistence.EventRepository               { return p.eventRepo }
func (p *Persistence) Triggers() persistence.TriggerRepository           { return p.triggerRepo }
func (p *Persistence) Workflows() persistence.WorkflowRepository         { return p.workflowRepo }
func (p *Persistence) Executions() persistence.ExecutionRepository       { return p.executionRepo }
func (p *Persistence) Charges() persistence.ChargeRepository             { return p.chargeRepo }
func (p *Persistence) WebhookEvents() persistence.WebhookEventRepository { return p.webhookRepo }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
