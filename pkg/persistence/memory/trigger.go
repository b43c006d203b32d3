package memory

import (
	"context"
	"sort"
	"time"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence"
)

type triggerRepository struct {
	p *Persistence
}

func (r *triggerRepository) FindMatching(_ context.Context, tenantID, eventType string) ([]*models.Trigger, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	matched := make([]*models.Trigger, 0)

	for _, trigger := range r.p.triggers {
		if !trigger.Active || trigger.TenantID != tenantID || trigger.EventType != eventType {
			continue
		}

		found := *trigger
		matched = append(matched, &found)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	return matched, nil
}

func (r *triggerRepository) RecordTriggerExecution(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	trigger, ok := r.p.triggers[id]
	if !ok {
		return persistence.NewOpError("RecordTriggerExecution", "trigger", id, persistence.ErrTriggerNotFound)
	}

	now := time.Now().UTC()
	trigger.ExecutionCount++
	trigger.LastExecutedAt = &now

	return nil
}

func (r *triggerRepository) SaveTrigger(_ context.Context, trigger *models.Trigger) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored := *trigger
	r.p.triggers[trigger.ID] = &stored

	return nil
}

func (r *triggerRepository) TriggerByID(_ context.Context, id string) (*models.Trigger, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	trigger, ok := r.p.triggers[id]
	if !ok {
		return nil, persistence.NewOpError("TriggerByID", "trigger", id, persistence.ErrTriggerNotFound)
	}

	found := *trigger

	return &found, nil
}

func (r *triggerRepository) ListTriggers(_ context.Context, tenantID string) ([]*models.Trigger, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	triggers := make([]*models.Trigger, 0)

	for _, trigger := range r.p.triggers {
		if trigger.TenantID != tenantID {
			continue
		}

		found := *trigger
		triggers = append(triggers, &found)
	}

	sort.Slice(triggers, func(i, j int) bool {
		return triggers[i].CreatedAt.Before(triggers[j].CreatedAt)
	})

	return triggers, nil
}

func (r *triggerRepository) DeleteTrigger(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.triggers[id]; !ok {
		return persistence.NewOpError("DeleteTrigger", "trigger", id, persistence.ErrTriggerNotFound)
	}

	delete(r.p.triggers, id)

	return nil
}
