package memory

import (
	"context"
	"sort"
	"time"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence"
)

type workflowRepository struct {
	p *Persistence
}

func (r *workflowRepository) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored := *workflow
	r.p.workflows[workflow.ID] = &stored

	return nil
}

func (r *workflowRepository) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflow, ok := r.p.workflows[id]
	if !ok {
		return nil, persistence.NewOpError("WorkflowByID", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	found := *workflow

	return &found, nil
}

func (r *workflowRepository) ListWorkflows(_ context.Context, tenantID string) ([]*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0)

	for _, workflow := range r.p.workflows {
		if workflow.TenantID != tenantID {
			continue
		}

		found := *workflow
		workflows = append(workflows, &found)
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (r *workflowRepository) DeleteWorkflow(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.workflows[id]; !ok {
		return persistence.NewOpError("DeleteWorkflow", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	delete(r.p.workflows, id)

	return nil
}

func (r *workflowRepository) RecordWorkflowRun(_ context.Context, id string, success bool, durationMs int64) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	workflow, ok := r.p.workflows[id]
	if !ok {
		return persistence.NewOpError("RecordWorkflowRun", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	// Cumulative running averages, same formula as the SQL implementation.
	count := float64(workflow.ExecutionCount)
	succeeded := workflow.SuccessRate * count

	if success {
		succeeded++
	}

	workflow.ExecutionCount++
	workflow.SuccessRate = succeeded / float64(workflow.ExecutionCount)
	workflow.AverageExecutionTimeMs = (workflow.AverageExecutionTimeMs*count + float64(durationMs)) / float64(workflow.ExecutionCount)

	now := time.Now().UTC()
	workflow.LastExecutedAt = &now

	return nil
}
