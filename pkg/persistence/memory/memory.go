// Package memory provides an in-memory persistence implementation used by
// tests and memory:// database URLs in local development.
package memory

import (
	"context"
	"sync"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence"
)

// Persistence implements persistence.Persistence entirely in process memory.
// All counter updates happen under the store lock, which gives the same
// atomicity the SQL implementation gets from single-statement increments.
type Persistence struct {
	mu sync.RWMutex

	events        map[string]*models.DomainEvent
	eventOrder    []string
	triggers      map[string]*models.Trigger
	workflows     map[string]*models.Workflow
	executions    map[string]*models.WorkflowExecution
	execOrder     []string
	charges       map[string]*models.PaymentCharge
	webhookEvents map[string]*models.WebhookEvent

	eventRepo     *eventRepository
	triggerRepo   *triggerRepository
	workflowRepo  *workflowRepository
	executionRepo *executionRepository
	chargeRepo    *chargeRepository
	webhookRepo   *webhookEventRepository
}

func NewPersistence() *Persistence {
	p := &Persistence{
		events:        make(map[string]*models.DomainEvent),
		triggers:      make(map[string]*models.Trigger),
		workflows:     make(map[string]*models.Workflow),
		executions:    make(map[string]*models.WorkflowExecution),
		charges:       make(map[string]*models.PaymentCharge),
		webhookEvents: make(map[string]*models.WebhookEvent),
	}

	p.eventRepo = &eventRepository{p: p}
	p.triggerRepo = &triggerRepository{p: p}
	p.workflowRepo = &workflowRepository{p: p}
	p.executionRepo = &executionRepository{p: p}
	p.chargeRepo = &chargeRepository{p: p}
	p.webhookRepo = &webhookEventRepository{p: p}

	return p
}

func (p *Persistence) Events() persistence.EventRepository             { return p.eventRepo }
func (p *Persistence) Triggers() persistence.TriggerRepository         { return p.triggerRepo }
func (p *Persistence) Workflows() persistence.WorkflowRepository       { return p.workflowRepo }
func (p *Persistence) Executions() persistence.ExecutionRepository     { return p.executionRepo }
func (p *Persistence) Charges() persistence.ChargeRepository           { return p.chargeRepo }
func (p *Persistence) WebhookEvents() persistence.WebhookEventRepository { return p.webhookRepo }

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
