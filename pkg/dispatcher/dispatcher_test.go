package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/automation/pkg/eventbus"
	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence/memory"
	"github.com/clinicore/automation/pkg/registry"
	"github.com/clinicore/automation/pkg/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)

	return nil
}

type blockingFactory struct {
	release chan struct{}
}

func (f *blockingFactory) Type() models.StepType   { return models.StepTypeNotification }
func (f *blockingFactory) Schema() map[string]any  { return map[string]any{"type": "object"} }
func (f *blockingFactory) Create(_ map[string]any) (registry.Handler, error) {
	return &blockingHandler{release: f.release}, nil
}

type blockingHandler struct {
	release chan struct{}
}

func (h *blockingHandler) Execute(ctx context.Context, _ registry.Input, _ *slog.Logger) (map[string]any, error) {
	select {
	case <-h.release:
	case <-time.After(5 * time.Second):
	}

	return map[string]any{}, nil
}

type noopFactory struct{}

func (noopFactory) Type() models.StepType  { return models.StepTypeNotification }
func (noopFactory) Schema() map[string]any { return map[string]any{"type": "object"} }
func (noopFactory) Create(_ map[string]any) (registry.Handler, error) {
	return noopHandler{}, nil
}

type noopHandler struct{}

func (noopHandler) Execute(_ context.Context, _ registry.Input, _ *slog.Logger) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

func newTestDispatcher(t *testing.T, factories ...registry.HandlerFactory) (*Dispatcher, *memory.Persistence, *recordingPublisher) {
	t.Helper()

	p := memory.NewPersistence()
	reg := registry.NewRegistry(testLogger())

	if len(factories) == 0 {
		factories = []registry.HandlerFactory{noopFactory{}}
	}

	for _, factory := range factories {
		reg.Register(factory)
	}

	publisher := &recordingPublisher{}
	executor := workflow.NewExecutor(p, reg, testLogger())

	return NewDispatcher(p, executor, publisher, testLogger()), p, publisher
}

func seedTriggerAndWorkflow(t *testing.T, p *memory.Persistence, triggerID, eventType string, conds []models.Condition) {
	t.Helper()

	ctx := context.Background()

	wf := &models.Workflow{
		ID:       "wf-" + triggerID,
		TenantID: "clinic-1",
		Name:     "flow for " + triggerID,
		Active:   true,
		Steps: []models.WorkflowStep{
			{Order: 1, Type: models.StepTypeNotification, Name: "notify"},
		},
	}
	require.NoError(t, p.Workflows().SaveWorkflow(ctx, wf))

	trigger := &models.Trigger{
		ID:         triggerID,
		TenantID:   "clinic-1",
		Name:       "trigger " + triggerID,
		EventType:  eventType,
		Conditions: conds,
		WorkflowID: wf.ID,
		Active:     true,
	}
	require.NoError(t, p.Triggers().SaveTrigger(ctx, trigger))
}

func leadEvent(id string) *models.DomainEvent {
	return &models.DomainEvent{
		ID:        id,
		TenantID:  "clinic-1",
		EventType: models.EventLeadCreated,
		Payload: map[string]any{
			"lead": map[string]any{"stage": "qualified"},
		},
	}
}

func TestDispatch_MatchesAndExecutes(t *testing.T) {
	d, p, _ := newTestDispatcher(t)
	seedTriggerAndWorkflow(t, p, "trg-1", models.EventLeadCreated, nil)

	result, err := d.Dispatch(context.Background(), leadEvent("evt-1"))
	require.NoError(t, err)

	assert.Equal(t, 1, result.TriggersMatched)
	assert.Equal(t, 1, result.WorkflowsExecuted)
	assert.Len(t, result.ExecutionIDs, 1)
	assert.Empty(t, result.Failures)

	// The ledger row carries the final counters.
	event, err := p.Events().EventByID(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 1, event.TriggersExecuted)
	assert.Equal(t, 1, event.WorkflowsExecuted)
	assert.NotNil(t, event.ProcessedAt)

	// Trigger stats were recorded.
	trigger, err := p.Triggers().TriggerByID(context.Background(), "trg-1")
	require.NoError(t, err)
	assert.Equal(t, 1, trigger.ExecutionCount)
	assert.NotNil(t, trigger.LastExecutedAt)
}

func TestDispatch_ExactEventTypeMatchOnly(t *testing.T) {
	d, p, _ := newTestDispatcher(t)
	seedTriggerAndWorkflow(t, p, "trg-1", models.EventLeadUpdated, nil)

	result, err := d.Dispatch(context.Background(), leadEvent("evt-1"))
	require.NoError(t, err)

	assert.Zero(t, result.TriggersMatched)
	assert.Zero(t, result.WorkflowsExecuted)
}

func TestDispatch_ConditionsFilterTriggers(t *testing.T) {
	d, p, _ := newTestDispatcher(t)
	seedTriggerAndWorkflow(t, p, "trg-match", models.EventLeadCreated, []models.Condition{
		{Field: "lead.stage", Operator: models.OperatorEquals, Value: "qualified"},
	})
	seedTriggerAndWorkflow(t, p, "trg-skip", models.EventLeadCreated, []models.Condition{
		{Field: "lead.stage", Operator: models.OperatorEquals, Value: "lost"},
	})

	result, err := d.Dispatch(context.Background(), leadEvent("evt-1"))
	require.NoError(t, err)

	assert.Equal(t, 1, result.TriggersMatched)
	assert.Equal(t, 1, result.WorkflowsExecuted)

	// Non-matching trigger records no execution.
	skipped, err := p.Triggers().TriggerByID(context.Background(), "trg-skip")
	require.NoError(t, err)
	assert.Zero(t, skipped.ExecutionCount)
}

func TestDispatch_DuplicateEventIsNoOp(t *testing.T) {
	d, p, _ := newTestDispatcher(t)
	seedTriggerAndWorkflow(t, p, "trg-1", models.EventLeadCreated, nil)

	first, err := d.Dispatch(context.Background(), leadEvent("evt-1"))
	require.NoError(t, err)
	require.Equal(t, 1, first.WorkflowsExecuted)

	second, err := d.Dispatch(context.Background(), leadEvent("evt-1"))
	require.NoError(t, err)

	assert.True(t, second.AlreadyProcessed)
	assert.Zero(t, second.WorkflowsExecuted)

	// No second execution for the same event.
	executions, err := p.Executions().ListExecutions(context.Background(), "clinic-1", "", 100, 0)
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestDispatch_OneExecutionPerTriggerSharingWorkflow(t *testing.T) {
	d, p, _ := newTestDispatcher(t)
	seedTriggerAndWorkflow(t, p, "trg-1", models.EventLeadCreated, nil)

	// Second trigger pointing at the first trigger's workflow.
	trigger := &models.Trigger{
		ID:         "trg-2",
		TenantID:   "clinic-1",
		Name:       "second trigger",
		EventType:  models.EventLeadCreated,
		WorkflowID: "wf-trg-1",
		Active:     true,
	}
	require.NoError(t, p.Triggers().SaveTrigger(context.Background(), trigger))

	result, err := d.Dispatch(context.Background(), leadEvent("evt-1"))
	require.NoError(t, err)

	assert.Equal(t, 2, result.TriggersMatched)
	assert.Equal(t, 2, result.WorkflowsExecuted)
	assert.Len(t, result.ExecutionIDs, 2)

	// Distinct execution records, each tied to its trigger.
	executions, err := p.Executions().ListExecutions(context.Background(), "clinic-1", "wf-trg-1", 100, 0)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.NotEqual(t, executions[0].TriggerID, executions[1].TriggerID)
}

func TestDispatch_PublishesLifecycleEvents(t *testing.T) {
	d, p, publisher := newTestDispatcher(t)
	seedTriggerAndWorkflow(t, p, "trg-1", models.EventLeadCreated, nil)

	_, err := d.Dispatch(context.Background(), leadEvent("evt-1"))
	require.NoError(t, err)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()

	// One execution notification plus the dispatch summary.
	require.Len(t, publisher.events, 2)
}

func TestDispatch_DeadlineReturnsPartialResult(t *testing.T) {
	release := make(chan struct{})
	d, p, _ := newTestDispatcher(t, &blockingFactory{release: release})
	seedTriggerAndWorkflow(t, p, "trg-1", models.EventLeadCreated, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := d.Dispatch(ctx, leadEvent("evt-1"))
	require.Error(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Partial)
	assert.Equal(t, 1, result.TriggersMatched)
	assert.Zero(t, result.WorkflowsExecuted)

	// Let the in-flight workflow finish; the ledger still converges.
	close(release)

	assert.Eventually(t, func() bool {
		event, err := p.Events().EventByID(context.Background(), "evt-1")

		return err == nil && event.ProcessedAt != nil && event.WorkflowsExecuted == 1
	}, 3*time.Second, 20*time.Millisecond)
}

type failingFactory struct{}

func (failingFactory) Type() models.StepType  { return models.StepTypeFunction }
func (failingFactory) Schema() map[string]any { return map[string]any{"type": "object"} }
func (failingFactory) Create(_ map[string]any) (registry.Handler, error) {
	return failingHandler{}, nil
}

type failingHandler struct{}

func (failingHandler) Execute(_ context.Context, _ registry.Input, _ *slog.Logger) (map[string]any, error) {
	return nil, errors.New("crm endpoint unavailable")
}

func TestDispatch_WorkflowFailureDoesNotAbortOtherTriggers(t *testing.T) {
	d, p, _ := newTestDispatcher(t, noopFactory{}, failingFactory{})
	ctx := context.Background()

	seedTriggerAndWorkflow(t, p, "trg-ok", models.EventLeadCreated, nil)

	broken := &models.Workflow{
		ID:       "wf-broken",
		TenantID: "clinic-1",
		Name:     "broken flow",
		Active:   true,
		Steps: []models.WorkflowStep{
			{Order: 1, Type: models.StepTypeFunction, Name: "sync_crm"},
		},
	}
	require.NoError(t, p.Workflows().SaveWorkflow(ctx, broken))
	require.NoError(t, p.Triggers().SaveTrigger(ctx, &models.Trigger{
		ID:         "trg-broken",
		TenantID:   "clinic-1",
		Name:       "broken trigger",
		EventType:  models.EventLeadCreated,
		WorkflowID: broken.ID,
		Active:     true,
	}))

	result, err := d.Dispatch(ctx, leadEvent("evt-isolated"))
	require.NoError(t, err)

	// One workflow failing never aborts the sibling trigger's run.
	assert.Equal(t, 2, result.TriggersMatched)
	assert.Equal(t, 2, result.WorkflowsExecuted)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "trg-broken", result.Failures[0].TriggerID)
	assert.Contains(t, result.Failures[0].Error, "crm endpoint unavailable")

	executions, err := p.Executions().ListExecutions(ctx, "clinic-1", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, executions, 2)

	statuses := map[string]models.ExecutionStatus{}
	for _, execution := range executions {
		statuses[execution.WorkflowID] = execution.Status
	}

	assert.Equal(t, models.ExecutionStatusCompleted, statuses["wf-trg-ok"])
	assert.Equal(t, models.ExecutionStatusFailed, statuses["wf-broken"])
}

func TestDispatch_TriggerWithoutWorkflow(t *testing.T) {
	d, p, _ := newTestDispatcher(t)

	trigger := &models.Trigger{
		ID:        "trg-bare",
		TenantID:  "clinic-1",
		Name:      "counter only",
		EventType: models.EventLeadCreated,
		Active:    true,
	}
	require.NoError(t, p.Triggers().SaveTrigger(context.Background(), trigger))

	result, err := d.Dispatch(context.Background(), leadEvent("evt-1"))
	require.NoError(t, err)

	assert.Equal(t, 1, result.TriggersMatched)
	assert.Zero(t, result.WorkflowsExecuted)
	assert.Empty(t, result.Failures)

	stored, err := p.Triggers().TriggerByID(context.Background(), "trg-bare")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ExecutionCount)
}

func TestDispatch_TenantIsolation(t *testing.T) {
	d, p, _ := newTestDispatcher(t)
	seedTriggerAndWorkflow(t, p, "trg-1", models.EventLeadCreated, nil)

	event := leadEvent("evt-other")
	event.TenantID = "clinic-2"

	result, err := d.Dispatch(context.Background(), event)
	require.NoError(t, err)

	assert.Zero(t, result.TriggersMatched)
}
