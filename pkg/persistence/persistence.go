// Package persistence provides the data storage abstraction used by the
// automation core. The dispatcher is stateless; all shared counters live
// behind these contracts as atomic updates.
package persistence

import (
	"context"
	"time"

	"github.com/clinicore/automation/pkg/models"
)

type Persistence interface {
	Events() EventRepository
	Triggers() TriggerRepository
	Workflows() WorkflowRepository
	Executions() ExecutionRepository
	Charges() ChargeRepository
	WebhookEvents() WebhookEventRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// EventRepository is the append-only event ledger.
type EventRepository interface {
	// SaveEvent persists a new ledger row. Re-persisting an ID returns
	// ErrEventAlreadyExists, which dispatchers treat as already-processed.
	SaveEvent(ctx context.Context, event *models.DomainEvent) error
	EventByID(ctx context.Context, id string) (*models.DomainEvent, error)
	ListEvents(ctx context.Context, tenantID string, filter models.EventFilter) ([]*models.DomainEvent, error)

	// RecordEventProcessed sets both counters and processed_at in a single
	// update. Called once per event, after all matched triggers are handled.
	RecordEventProcessed(ctx context.Context, id string, triggersExecuted, workflowsExecuted int) error

	EventStats(ctx context.Context, tenantID string, since time.Time) (*models.EventStats, error)
}

// TriggerRegistry is the read side of the trigger collection as the
// dispatcher sees it at event time.
type TriggerRegistry interface {
	// FindMatching returns active triggers whose event type equals eventType
	// exactly. No wildcard matching.
	FindMatching(ctx context.Context, tenantID, eventType string) ([]*models.Trigger, error)

	// RecordTriggerExecution atomically increments the execution counter and
	// stamps last_executed_at. Safe under concurrent dispatches.
	RecordTriggerExecution(ctx context.Context, id string) error
}

// TriggerRepository adds the administrative write side.
type TriggerRepository interface {
	TriggerRegistry

	SaveTrigger(ctx context.Context, trigger *models.Trigger) error
	TriggerByID(ctx context.Context, id string) (*models.Trigger, error)
	ListTriggers(ctx context.Context, tenantID string) ([]*models.Trigger, error)
	DeleteTrigger(ctx context.Context, id string) error
}

type WorkflowRepository interface {
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// RecordWorkflowRun folds one run into the workflow's cumulative stats
	// (execution count, success rate, running average duration) atomically.
	RecordWorkflowRun(ctx context.Context, id string, success bool, durationMs int64) error
}

// ExecutionRepository is the execution ledger. SaveExecution upserts: the
// executor writes the running record up front and the final record when done,
// so a crash leaves an auditable running row.
type ExecutionRepository interface {
	SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error
	ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ListExecutions(ctx context.Context, tenantID, workflowID string, limit, offset int) ([]*models.WorkflowExecution, error)
}

// ChargeRepository exposes the narrow contract the webhook adapter needs on
// billing's payment charges.
type ChargeRepository interface {
	SaveCharge(ctx context.Context, charge *models.PaymentCharge) error
	ChargeByID(ctx context.Context, id string) (*models.PaymentCharge, error)
	ChargeByExternalReference(ctx context.Context, gateway, externalReference string) (*models.PaymentCharge, error)

	// UpdateChargeStatus applies the transition only if the charge is still
	// in the expected status (compare-and-swap); returns ErrChargeConflict
	// when a concurrent delivery got there first.
	UpdateChargeStatus(ctx context.Context, id string, from, to models.ChargeStatus) error

	// OverdueCandidates lists PENDING charges whose due date passed before
	// the cutoff. Used by the sweeper.
	OverdueCandidates(ctx context.Context, cutoff time.Time) ([]*models.PaymentCharge, error)
}

// WebhookEventRepository is the gateway-delivery idempotency ledger.
type WebhookEventRepository interface {
	// MarkProcessed inserts the dedup row, failing with
	// ErrDuplicateWebhookEvent when (gateway, gateway_event_id) was already
	// recorded. The check-and-mark is atomic.
	MarkProcessed(ctx context.Context, event *models.WebhookEvent) error

	// DeleteWebhookEvent removes a dedup row so a delivery whose effects
	// failed to persist can be retried. Deleting an absent row is not an
	// error.
	DeleteWebhookEvent(ctx context.Context, gateway, gatewayEventID string) error
}
