package memory

import (
	"context"
	"time"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence"
)

type eventRepository struct {
	p *Persistence
}

func (r *eventRepository) SaveEvent(_ context.Context, event *models.DomainEvent) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, exists := r.p.events[event.ID]; exists {
		return persistence.NewOpError("SaveEvent", "event", event.ID, persistence.ErrEventAlreadyExists)
	}

	stored := *event
	r.p.events[event.ID] = &stored
	r.p.eventOrder = append(r.p.eventOrder, event.ID)

	return nil
}

func (r *eventRepository) EventByID(_ context.Context, id string) (*models.DomainEvent, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	event, ok := r.p.events[id]
	if !ok {
		return nil, persistence.NewOpError("EventByID", "event", id, persistence.ErrEventNotFound)
	}

	found := *event

	return &found, nil
}

func (r *eventRepository) ListEvents(_ context.Context, tenantID string, filter models.EventFilter) ([]*models.DomainEvent, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	matched := make([]*models.DomainEvent, 0)

	// Newest first, matching the SQL implementation's ordering.
	for i := len(r.p.eventOrder) - 1; i >= 0; i-- {
		event := r.p.events[r.p.eventOrder[i]]
		if event.TenantID != tenantID {
			continue
		}

		if !eventMatchesFilter(event, filter) {
			continue
		}

		found := *event
		matched = append(matched, &found)
	}

	return paginate(matched, filter.Limit, filter.Offset), nil
}

func (r *eventRepository) RecordEventProcessed(_ context.Context, id string, triggersExecuted, workflowsExecuted int) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	event, ok := r.p.events[id]
	if !ok {
		return persistence.NewOpError("RecordEventProcessed", "event", id, persistence.ErrEventNotFound)
	}

	now := time.Now().UTC()
	event.TriggersExecuted = triggersExecuted
	event.WorkflowsExecuted = workflowsExecuted
	event.ProcessedAt = &now

	return nil
}

func (r *eventRepository) EventStats(_ context.Context, tenantID string, since time.Time) (*models.EventStats, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	stats := &models.EventStats{
		EventsByType:   make(map[string]int),
		EventsByEntity: make(map[string]int),
	}

	for _, event := range r.p.events {
		if event.TenantID != tenantID || event.CreatedAt.Before(since) {
			continue
		}

		stats.TotalEvents++
		stats.EventsByType[event.EventType]++

		if event.EntityType != "" {
			stats.EventsByEntity[event.EntityType]++
		}

		stats.TriggersExecuted += event.TriggersExecuted
		stats.WorkflowsExecuted += event.WorkflowsExecuted
	}

	var completed, succeeded int

	for _, execution := range r.p.executions {
		if execution.TenantID != tenantID || execution.StartedAt.Before(since) {
			continue
		}

		switch execution.Status {
		case models.ExecutionStatusCompleted:
			completed++
			succeeded++
		case models.ExecutionStatusFailed:
			completed++
		}
	}

	if completed > 0 {
		stats.SuccessRate = float64(succeeded) / float64(completed)
	}

	return stats, nil
}

func eventMatchesFilter(event *models.DomainEvent, filter models.EventFilter) bool {
	if filter.EventType != "" && event.EventType != filter.EventType {
		return false
	}

	if filter.EntityType != "" && event.EntityType != filter.EntityType {
		return false
	}

	if filter.EntityID != "" && event.EntityID != filter.EntityID {
		return false
	}

	if filter.StartDate != nil && event.CreatedAt.Before(*filter.StartDate) {
		return false
	}

	if filter.EndDate != nil && event.CreatedAt.After(*filter.EndDate) {
		return false
	}

	return true
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}

	items = items[offset:]

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
