package memory

import (
	"context"
	"time"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence"
)

type executionRepository struct {
	p *Persistence
}

func (r *executionRepository) SaveExecution(_ context.Context, execution *models.WorkflowExecution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, exists := r.p.executions[execution.ID]; !exists {
		r.p.execOrder = append(r.p.execOrder, execution.ID)
	}

	stored := *execution
	stored.Steps = append([]models.StepExecution(nil), execution.Steps...)
	r.p.executions[execution.ID] = &stored

	return nil
}

func (r *executionRepository) ExecutionByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	execution, ok := r.p.executions[id]
	if !ok {
		return nil, persistence.NewOpError("ExecutionByID", "execution", id, persistence.ErrExecutionNotFound)
	}

	found := *execution
	found.Steps = append([]models.StepExecution(nil), execution.Steps...)

	return &found, nil
}

func (r *executionRepository) ListExecutions(_ context.Context, tenantID, workflowID string, limit, offset int) ([]*models.WorkflowExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	matched := make([]*models.WorkflowExecution, 0)

	for i := len(r.p.execOrder) - 1; i >= 0; i-- {
		execution := r.p.executions[r.p.execOrder[i]]
		if execution.TenantID != tenantID {
			continue
		}

		if workflowID != "" && execution.WorkflowID != workflowID {
			continue
		}

		found := *execution
		found.Steps = append([]models.StepExecution(nil), execution.Steps...)
		matched = append(matched, &found)
	}

	return paginate(matched, limit, offset), nil
}

type chargeRepository struct {
	p *Persistence
}

func (r *chargeRepository) SaveCharge(_ context.Context, charge *models.PaymentCharge) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored := *charge
	r.p.charges[charge.ID] = &stored

	return nil
}

func (r *chargeRepository) ChargeByID(_ context.Context, id string) (*models.PaymentCharge, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	charge, ok := r.p.charges[id]
	if !ok {
		return nil, persistence.NewOpError("ChargeByID", "charge", id, persistence.ErrChargeNotFound)
	}

	found := *charge

	return &found, nil
}

func (r *chargeRepository) ChargeByExternalReference(_ context.Context, gateway, externalReference string) (*models.PaymentCharge, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, charge := range r.p.charges {
		if charge.Gateway == gateway && charge.ExternalReference == externalReference {
			found := *charge

			return &found, nil
		}
	}

	return nil, persistence.NewOpError("ChargeByExternalReference", "charge", externalReference, persistence.ErrChargeNotFound)
}

func (r *chargeRepository) UpdateChargeStatus(_ context.Context, id string, from, to models.ChargeStatus) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	charge, ok := r.p.charges[id]
	if !ok {
		return persistence.NewOpError("UpdateChargeStatus", "charge", id, persistence.ErrChargeNotFound)
	}

	if charge.Status != from {
		return persistence.NewOpError("UpdateChargeStatus", "charge", id, persistence.ErrChargeConflict)
	}

	charge.Status = to
	charge.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *chargeRepository) OverdueCandidates(_ context.Context, cutoff time.Time) ([]*models.PaymentCharge, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	candidates := make([]*models.PaymentCharge, 0)

	for _, charge := range r.p.charges {
		if charge.Status != models.ChargePending || charge.DueDate == nil || !charge.DueDate.Before(cutoff) {
			continue
		}

		found := *charge
		candidates = append(candidates, &found)
	}

	return candidates, nil
}

type webhookEventRepository struct {
	p *Persistence
}

func (r *webhookEventRepository) MarkProcessed(_ context.Context, event *models.WebhookEvent) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	key := event.Gateway + "/" + event.GatewayEventID
	if _, exists := r.p.webhookEvents[key]; exists {
		return persistence.NewOpError("MarkProcessed", "webhook_event", event.GatewayEventID, persistence.ErrDuplicateWebhookEvent)
	}

	stored := *event
	r.p.webhookEvents[key] = &stored

	return nil
}

func (r *webhookEventRepository) DeleteWebhookEvent(_ context.Context, gateway, gatewayEventID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	delete(r.p.webhookEvents, gateway+"/"+gatewayEventID)

	return nil
}
