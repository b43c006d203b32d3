// Package workflow executes workflow definitions against domain events and
// records a durable execution ledger for every run.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinicore/automation/pkg/conditions"
	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/otelhelper"
	"github.com/clinicore/automation/pkg/persistence"
	"github.com/clinicore/automation/pkg/registry"
)

// Executor runs one workflow for one event. Steps execute strictly in order.
// A failed step stops the run and leaves the remaining steps pending; a false
// condition step marks the remaining steps skipped with the execution still
// completed.
type Executor struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	evaluator   *conditions.Evaluator
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewExecutor(
	p persistence.Persistence,
	reg *registry.Registry,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		persistence: p,
		registry:    reg,
		evaluator:   conditions.NewEvaluator(logger),
		logger:      logger.With("module", "workflow_executor"),
		tracer:      otel.Tracer("workflow"),
	}
}

// Execute runs the workflow against the event on behalf of the trigger that
// matched it. The returned execution is always persisted, even on failure;
// the error reports why the run did not complete successfully.
func (e *Executor) Execute(
	ctx context.Context,
	wf *models.Workflow,
	event *models.DomainEvent,
	triggerID string,
) (*models.WorkflowExecution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execute",
		otelhelper.WorkflowIDKey.String(wf.ID),
		otelhelper.EventIDKey.String(event.ID),
		otelhelper.TenantIDKey.String(event.TenantID),
	)
	defer span.End()

	logger := e.logger.With(
		"workflow_id", wf.ID,
		"trigger_id", triggerID,
		"event_id", event.ID,
		"tenant_id", event.TenantID,
	)

	execution := newExecution(wf, event, triggerID)
	logger = logger.With("execution_id", execution.ID)

	if err := e.persistence.Executions().SaveExecution(ctx, execution); err != nil {
		otelhelper.SetError(span, err)

		return nil, persistence.NewOpError("execute", "execution", execution.ID, err)
	}

	logger.Info("Starting workflow execution", "steps", len(execution.Steps))

	runErr := e.runSteps(ctx, execution, wf, event, logger)

	now := time.Now().UTC()
	execution.CompletedAt = &now

	if runErr != nil {
		execution.Status = models.ExecutionStatusFailed
		execution.Error = runErr.Error()

		otelhelper.SetError(span, runErr)
	} else {
		execution.Status = models.ExecutionStatusCompleted
	}

	if err := e.persistence.Executions().SaveExecution(ctx, execution); err != nil {
		logger.Error("Failed to persist finished execution", "error", err)

		return execution, persistence.NewOpError("execute", "execution", execution.ID, err)
	}

	succeeded := runErr == nil
	if err := e.persistence.Workflows().RecordWorkflowRun(ctx, wf.ID, succeeded, execution.DurationMs()); err != nil {
		logger.Error("Failed to record workflow run stats", "error", err)
	}

	span.SetAttributes(attribute.String("execution.status", string(execution.Status)))
	logger.Info("Finished workflow execution",
		"status", execution.Status,
		"duration_ms", execution.DurationMs(),
	)

	return execution, runErr
}

func newExecution(wf *models.Workflow, event *models.DomainEvent, triggerID string) *models.WorkflowExecution {
	steps := make([]models.WorkflowStep, len(wf.Steps))
	copy(steps, wf.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	stepExecutions := make([]models.StepExecution, len(steps))
	for i, step := range steps {
		stepExecutions[i] = models.StepExecution{
			StepOrder: step.Order,
			StepName:  step.Name,
			Status:    models.StepStatusPending,
		}
	}

	return &models.WorkflowExecution{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		TenantID:   event.TenantID,
		TriggerID:  triggerID,
		EventID:    event.ID,
		Status:     models.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
		Steps:      stepExecutions,
	}
}

// runSteps walks the ordered steps, recording per-step outcomes on the
// execution. Step results accumulate under the step name so later steps can
// reference earlier output in their templates.
func (e *Executor) runSteps(
	ctx context.Context,
	execution *models.WorkflowExecution,
	wf *models.Workflow,
	event *models.DomainEvent,
	logger *slog.Logger,
) error {
	steps := make([]models.WorkflowStep, len(wf.Steps))
	copy(steps, wf.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	stepResults := make(map[string]any)

	var lastResult map[string]any

	for i, step := range steps {
		record := &execution.Steps[i]
		stepLogger := logger.With("step", step.Name, "step_order", step.Order)

		startStep(record)

		if step.Type == models.StepTypeCondition {
			matched, err := e.evaluateConditionStep(step, event, stepResults)
			if err != nil {
				finishStep(record, models.StepStatusFailed, nil, err)

				return fmt.Errorf("condition step '%s' failed: %w", step.Name, err)
			}

			if !matched {
				stepLogger.Info("Condition step did not match, stopping workflow")
				finishStep(record, models.StepStatusSkipped, nil, nil)

				for j := i + 1; j < len(execution.Steps); j++ {
					execution.Steps[j].Status = models.StepStatusSkipped
				}

				return nil
			}

			matchedResult := map[string]any{"matched": true}
			finishStep(record, models.StepStatusCompleted, matchedResult, nil)
			stepResults[step.Name] = matchedResult
			lastResult = matchedResult

			continue
		}

		handler, err := e.registry.CreateHandler(step.Type, step.Config)
		if err != nil {
			finishStep(record, models.StepStatusFailed, nil, err)

			return fmt.Errorf("step '%s': %w", step.Name, err)
		}

		result, err := handler.Execute(ctx, registry.Input{
			Event:       event,
			ExecutionID: execution.ID,
			StepResults: stepResults,
		}, stepLogger)
		if err != nil {
			stepLogger.Error("Step failed", "error", err)
			finishStep(record, models.StepStatusFailed, nil, err)

			return fmt.Errorf("step '%s' failed: %w", step.Name, err)
		}

		stepLogger.Debug("Step completed")
		finishStep(record, models.StepStatusCompleted, result, nil)
		stepResults[step.Name] = result
		lastResult = result
	}

	execution.Result = lastResult

	return nil
}

// evaluateConditionStep checks the step's conditions against the event
// payload extended with the accumulated step results under 'steps', so a
// condition can gate on an earlier step's output.
func (e *Executor) evaluateConditionStep(
	step models.WorkflowStep,
	event *models.DomainEvent,
	stepResults map[string]any,
) (bool, error) {
	conds, err := parseConditions(step.Config)
	if err != nil {
		return false, err
	}

	scope := make(map[string]any, len(event.Payload)+1)
	for key, value := range event.Payload {
		scope[key] = value
	}

	scope["steps"] = stepResults

	return e.evaluator.Evaluate(conds, scope), nil
}

// parseConditions decodes the 'conditions' config entry through JSON so both
// typed and map-shaped configs are accepted.
func parseConditions(config map[string]any) ([]models.Condition, error) {
	raw, ok := config["conditions"]
	if !ok {
		return nil, fmt.Errorf("condition step config missing 'conditions'")
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions config: %w", err)
	}

	var conds []models.Condition
	if err := json.Unmarshal(encoded, &conds); err != nil {
		return nil, fmt.Errorf("invalid conditions config: %w", err)
	}

	if len(conds) == 0 {
		return nil, fmt.Errorf("condition step config has no conditions")
	}

	return conds, nil
}

func startStep(record *models.StepExecution) {
	now := time.Now().UTC()
	record.Status = models.StepStatusRunning
	record.StartedAt = &now
}

func finishStep(record *models.StepExecution, status models.StepStatus, result map[string]any, err error) {
	now := time.Now().UTC()
	record.Status = status
	record.CompletedAt = &now

	if result != nil {
		record.Result = result
	}

	if err != nil {
		record.Error = err.Error()
	}
}
