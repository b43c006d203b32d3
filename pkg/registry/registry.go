// Package registry maps workflow step types to their handler factories and
// validates step configurations against each factory's JSON schema.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/clinicore/automation/pkg/models"
)

// Input carries the data a step handler sees at execution time.
type Input struct {
	Event       *models.DomainEvent
	ExecutionID string
	StepResults map[string]any
}

// Handler executes a single configured workflow step.
type Handler interface {
	Execute(ctx context.Context, input Input, logger *slog.Logger) (map[string]any, error)
}

// HandlerFactory builds handlers for one step type from raw configuration.
type HandlerFactory interface {
	Type() models.StepType
	Create(config map[string]any) (Handler, error)
	Schema() map[string]any
}

type Registry struct {
	logger    *slog.Logger
	factories map[models.StepType]HandlerFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		factories: make(map[models.StepType]HandlerFactory),
	}
}

func (r *Registry) Register(factory HandlerFactory) {
	r.factories[factory.Type()] = factory
}

// StepTypes returns the registered step types, condition included since the
// executor evaluates condition steps without a handler.
func (r *Registry) StepTypes() []models.StepType {
	types := make([]models.StepType, 0, len(r.factories)+1)
	types = append(types, models.StepTypeCondition)

	for stepType := range r.factories {
		types = append(types, stepType)
	}

	return types
}

// CreateHandler validates the configuration against the factory schema and
// builds a handler for the step type.
func (r *Registry) CreateHandler(stepType models.StepType, config map[string]any) (Handler, error) {
	factory, ok := r.factories[stepType]
	if !ok {
		return nil, fmt.Errorf("step type '%s' not registered", stepType)
	}

	if err := validateConfig(factory.Schema(), config); err != nil {
		return nil, fmt.Errorf("invalid config for step type '%s': %w", stepType, err)
	}

	return factory.Create(config)
}

// ValidateStep checks a step definition without executing it. Used when
// workflows are saved so bad configurations are rejected up front.
func (r *Registry) ValidateStep(step models.WorkflowStep) error {
	if step.Type == models.StepTypeCondition {
		return validateConfig(conditionStepSchema, step.Config)
	}

	factory, ok := r.factories[step.Type]
	if !ok {
		return fmt.Errorf("step type '%s' not registered", step.Type)
	}

	return validateConfig(factory.Schema(), step.Config)
}

// ValidateWorkflow validates every step of a workflow definition.
func (r *Registry) ValidateWorkflow(workflow *models.Workflow) error {
	for i, step := range workflow.Steps {
		if err := r.ValidateStep(step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Name, err)
		}
	}

	return nil
}

func validateConfig(schema map[string]any, config map[string]any) error {
	if config == nil {
		config = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}
