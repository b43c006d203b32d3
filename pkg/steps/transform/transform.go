// Package transform implements the function step type. It reshapes event data
// through a template expression and exposes the result to downstream steps.
package transform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/registry"
	"github.com/clinicore/automation/pkg/template"
)

func NewFactory() *Factory {
	return &Factory{}
}

type Factory struct{}

func (f *Factory) Type() models.StepType {
	return models.StepTypeFunction
}

func (f *Factory) Create(config map[string]any) (registry.Handler, error) {
	return NewStep(config)
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"expression"},
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"format":      "code",
				"description": "Template expression applied to the event scope. JSON output becomes structured data.",
				"examples": []string{
					"{{.payload.lead.email}}",
					`{"name": "{{.payload.patient.name}}", "at": "{{now}}"}`,
				},
			},
		},
	}
}

type Step struct {
	Expression string
}

func NewStep(config map[string]any) (*Step, error) {
	expression, ok := config["expression"].(string)
	if !ok || expression == "" {
		return nil, fmt.Errorf("transform step requires a string 'expression'")
	}

	return &Step{Expression: expression}, nil
}

func (s *Step) Execute(
	ctx context.Context,
	input registry.Input,
	logger *slog.Logger,
) (map[string]any, error) {
	logger = logger.With("step_type", "function")

	value, err := template.RenderWithEvent(s.Expression, input.Event, input.StepResults)
	if err != nil {
		logger.Error("Transform expression failed", "error", err)

		return nil, fmt.Errorf("failed to evaluate expression: %w", err)
	}

	if object, ok := value.(map[string]any); ok {
		return object, nil
	}

	return map[string]any{"result": value}, nil
}
