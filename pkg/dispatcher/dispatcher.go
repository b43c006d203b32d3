// Package dispatcher routes persisted domain events to matching triggers and
// fans their workflows out for execution.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinicore/automation/pkg/conditions"
	"github.com/clinicore/automation/pkg/eventbus"
	"github.com/clinicore/automation/pkg/events"
	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/otelhelper"
	"github.com/clinicore/automation/pkg/persistence"
	"github.com/clinicore/automation/pkg/workflow"
)

// Failure describes one trigger whose workflow could not run to completion.
type Failure struct {
	TriggerID   string `json:"trigger_id"`
	WorkflowID  string `json:"workflow_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	Error       string `json:"error"`
}

// Result summarizes one dispatch. When the context deadline expires before
// all workflows finish, Partial is set and the counts cover only the runs
// observed so far; the ledger bookkeeping still completes in the background.
type Result struct {
	EventID           string    `json:"event_id"`
	TriggersMatched   int       `json:"triggers_matched"`
	WorkflowsExecuted int       `json:"workflows_executed"`
	ExecutionIDs      []string  `json:"execution_ids,omitempty"`
	Failures          []Failure `json:"failures,omitempty"`
	AlreadyProcessed  bool      `json:"already_processed,omitempty"`
	Partial           bool      `json:"partial,omitempty"`
}

// Dispatcher is stateless; every shared counter lives in persistence as an
// atomic update, so any number of dispatcher instances can run concurrently.
type Dispatcher struct {
	persistence persistence.Persistence
	executor    *workflow.Executor
	evaluator   *conditions.Evaluator
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewDispatcher builds a dispatcher. The publisher is optional; pass nil to
// skip lifecycle notifications.
func NewDispatcher(
	p persistence.Persistence,
	executor *workflow.Executor,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		persistence: p,
		executor:    executor,
		evaluator:   conditions.NewEvaluator(logger),
		publisher:   publisher,
		logger:      logger.With("module", "dispatcher"),
		tracer:      otel.Tracer("dispatcher"),
	}
}

// Dispatch persists the event, finds matching triggers, evaluates their
// conditions against the payload and runs each matched trigger's workflow in
// parallel. Re-dispatching an already-persisted event ID is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.DomainEvent) (*Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatch",
		otelhelper.EventIDKey.String(event.ID),
		otelhelper.EventTypeKey.String(string(event.EventType)),
		otelhelper.TenantIDKey.String(event.TenantID),
	)
	defer span.End()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	logger := d.logger.With(
		"event_id", event.ID,
		"event_type", event.EventType,
		"tenant_id", event.TenantID,
	)

	if err := d.persistence.Events().SaveEvent(ctx, event); err != nil {
		if persistence.IsDuplicateEvent(err) {
			logger.Info("Event already processed, skipping dispatch")

			return &Result{EventID: event.ID, AlreadyProcessed: true}, nil
		}

		otelhelper.SetError(span, err)

		return nil, persistence.NewOpError("dispatch", "event", event.ID, err)
	}

	triggers, err := d.persistence.Triggers().FindMatching(ctx, event.TenantID, string(event.EventType))
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, persistence.NewOpError("dispatch", "trigger", event.ID, err)
	}

	matched := make([]*models.Trigger, 0, len(triggers))

	for _, trigger := range triggers {
		if d.evaluator.Evaluate(trigger.Conditions, event.Payload) {
			matched = append(matched, trigger)
		}
	}

	logger.Info("Matched triggers", "candidates", len(triggers), "matched", len(matched))
	span.SetAttributes(attribute.Int("dispatch.triggers_matched", len(matched)))

	result := d.runTriggers(ctx, event, matched, logger)
	d.notifyDispatched(ctx, event, result)

	if result.Partial {
		return result, ctx.Err()
	}

	return result, nil
}

// Emit dispatches an internally produced event, discarding the summary. It
// lets the webhook adapter and the sweeper hand events straight to dispatch.
func (d *Dispatcher) Emit(ctx context.Context, event *models.DomainEvent) error {
	_, err := d.Dispatch(ctx, event)

	return err
}

// runTriggers fans matched triggers out and joins them, honoring the caller's
// deadline. Bookkeeping always runs to completion on a detached context so
// the ledger counters stay accurate even when the caller gives up early.
func (d *Dispatcher) runTriggers(
	ctx context.Context,
	event *models.DomainEvent,
	matched []*models.Trigger,
	logger *slog.Logger,
) *Result {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		executed int
		ids      []string
		failures []Failure
	)

	ledgerCtx := context.WithoutCancel(ctx)

	for _, trigger := range matched {
		wg.Add(1)

		go func(trigger *models.Trigger) {
			defer wg.Done()

			execution, failure := d.runTrigger(ctx, event, trigger, logger)

			mu.Lock()
			defer mu.Unlock()

			if execution != nil {
				executed++

				ids = append(ids, execution.ID)
			}

			if failure != nil {
				failures = append(failures, *failure)
			}
		}(trigger)
	}

	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	partial := false

	select {
	case <-done:
	case <-ctx.Done():
		partial = true

		logger.Warn("Dispatch deadline reached before all workflows finished", "error", ctx.Err())
	}

	record := func() {
		mu.Lock()
		triggersMatched, workflowsExecuted := len(matched), executed
		mu.Unlock()

		if err := d.persistence.Events().RecordEventProcessed(ledgerCtx, event.ID, triggersMatched, workflowsExecuted); err != nil {
			logger.Error("Failed to record event processed", "error", err)
		}
	}

	if partial {
		go func() {
			<-done
			record()
		}()
	} else {
		record()
	}

	mu.Lock()
	defer mu.Unlock()

	return &Result{
		EventID:           event.ID,
		TriggersMatched:   len(matched),
		WorkflowsExecuted: executed,
		ExecutionIDs:      append([]string(nil), ids...),
		Failures:          append([]Failure(nil), failures...),
		Partial:           partial,
	}
}

// runTrigger records the trigger hit and executes its workflow. A trigger
// with no workflow attached counts as matched but produces no execution.
func (d *Dispatcher) runTrigger(
	ctx context.Context,
	event *models.DomainEvent,
	trigger *models.Trigger,
	logger *slog.Logger,
) (*models.WorkflowExecution, *Failure) {
	logger = logger.With("trigger_id", trigger.ID, "workflow_id", trigger.WorkflowID)

	if err := d.persistence.Triggers().RecordTriggerExecution(ctx, trigger.ID); err != nil {
		logger.Error("Failed to record trigger execution", "error", err)
	}

	if trigger.WorkflowID == "" {
		return nil, nil
	}

	wf, err := d.persistence.Workflows().WorkflowByID(ctx, trigger.WorkflowID)
	if err != nil {
		logger.Error("Failed to load workflow for trigger", "error", err)

		return nil, &Failure{
			TriggerID:  trigger.ID,
			WorkflowID: trigger.WorkflowID,
			Error:      err.Error(),
		}
	}

	if !wf.Active {
		logger.Info("Workflow is inactive, skipping execution")

		return nil, nil
	}

	execution, err := d.executor.Execute(ctx, wf, event, trigger.ID)
	if err != nil {
		d.notifyExecution(ctx, event, execution, trigger.ID, err)

		failure := &Failure{
			TriggerID:  trigger.ID,
			WorkflowID: trigger.WorkflowID,
			Error:      err.Error(),
		}
		if execution != nil {
			failure.ExecutionID = execution.ID
		}

		return execution, failure
	}

	d.notifyExecution(ctx, event, execution, trigger.ID, nil)

	return execution, nil
}

func (d *Dispatcher) notifyExecution(
	ctx context.Context,
	event *models.DomainEvent,
	execution *models.WorkflowExecution,
	triggerID string,
	runErr error,
) {
	if d.publisher == nil || execution == nil {
		return
	}

	duration := time.Duration(execution.DurationMs()) * time.Millisecond

	var notification eventbus.Event
	if runErr != nil {
		notification = events.WorkflowExecutionFailed{
			BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionFailedType, event.TenantID),
			ExecutionID: execution.ID,
			WorkflowID:  execution.WorkflowID,
			TriggerID:   triggerID,
			Error:       runErr.Error(),
			Duration:    duration,
		}
	} else {
		notification = events.WorkflowExecutionDone{
			BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionDoneType, event.TenantID),
			ExecutionID: execution.ID,
			WorkflowID:  execution.WorkflowID,
			TriggerID:   triggerID,
			Duration:    duration,
		}
	}

	if err := d.publisher.Publish(context.WithoutCancel(ctx), event.TenantID, notification); err != nil {
		d.logger.Error("Failed to publish execution notification", "error", err)
	}
}

func (d *Dispatcher) notifyDispatched(ctx context.Context, event *models.DomainEvent, result *Result) {
	if d.publisher == nil {
		return
	}

	notification := events.EventDispatched{
		BaseEvent:         events.NewBaseEvent(events.EventDispatchedType, event.TenantID),
		EventID:           event.ID,
		EventType:         string(event.EventType),
		TriggersMatched:   result.TriggersMatched,
		WorkflowsExecuted: result.WorkflowsExecuted,
		ExecutionIDs:      result.ExecutionIDs,
	}

	if err := d.publisher.Publish(context.WithoutCancel(ctx), event.TenantID, notification); err != nil {
		d.logger.Error("Failed to publish dispatch notification", "error", err)
	}
}
