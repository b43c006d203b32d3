// Package httprequest implements the remote step types. Webhook, AI and
// integration steps share one handler that delegates to the dispatch runner.
package httprequest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/registry"
	"github.com/clinicore/automation/pkg/runner"
	"github.com/clinicore/automation/pkg/template"
)

// NewFactory builds a factory for one of the remote step types backed by the
// given runner.
func NewFactory(stepType models.StepType, r runner.Runner) *Factory {
	return &Factory{stepType: stepType, runner: r}
}

type Factory struct {
	stepType models.StepType
	runner   runner.Runner
}

func (f *Factory) Type() models.StepType {
	return f.stepType
}

func (f *Factory) Create(config map[string]any) (registry.Handler, error) {
	return NewStep(f.stepType, f.runner, config)
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"ref"},
		"properties": map[string]any{
			"ref": map[string]any{
				"type":        "string",
				"description": "Remote target reference, a URL for webhook steps or a named route for AI and integration steps.",
				"examples": []string{
					"https://hooks.example.com/crm/lead-sync",
					"ai/summarize-consultation",
				},
			},
			"payload": map[string]any{
				"type":        "object",
				"description": "Payload fields sent to the target. String values support templating.",
			},
			"timeout_seconds": map[string]any{
				"type":    "number",
				"minimum": 1,
				"maximum": 300,
			},
		},
	}
}

type Step struct {
	stepType models.StepType
	runner   runner.Runner
	ref      string
	payload  map[string]any
	timeout  time.Duration
}

func NewStep(stepType models.StepType, r runner.Runner, config map[string]any) (*Step, error) {
	ref, ok := config["ref"].(string)
	if !ok || ref == "" {
		return nil, fmt.Errorf("%s step requires a string 'ref'", stepType)
	}

	payload, _ := config["payload"].(map[string]any)

	timeout := runner.DefaultTimeout
	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	return &Step{
		stepType: stepType,
		runner:   r,
		ref:      ref,
		payload:  payload,
		timeout:  timeout,
	}, nil
}

func (s *Step) Execute(
	ctx context.Context,
	input registry.Input,
	logger *slog.Logger,
) (map[string]any, error) {
	logger = logger.With("step_type", string(s.stepType), "ref", s.ref)

	ref, err := template.RenderWithEvent(s.ref, input.Event, input.StepResults)
	if err != nil {
		return nil, fmt.Errorf("failed to render ref: %w", err)
	}

	payload, err := s.renderPayload(input)
	if err != nil {
		return nil, err
	}

	logger.Debug("Calling remote step target", "timeout", s.timeout)

	result, err := s.runner.RunRemote(ctx, fmt.Sprintf("%v", ref), payload, s.timeout)
	if err != nil {
		logger.Error("Remote step target failed", "error", err)

		return nil, fmt.Errorf("remote call failed: %w", err)
	}

	return result, nil
}

// renderPayload templates every string value of the configured payload. Other
// value types pass through untouched.
func (s *Step) renderPayload(input registry.Input) (map[string]any, error) {
	payload := map[string]any{
		"event_id":     input.Event.ID,
		"event_type":   string(input.Event.EventType),
		"tenant_id":    input.Event.TenantID,
		"execution_id": input.ExecutionID,
	}

	for key, value := range s.payload {
		str, ok := value.(string)
		if !ok {
			payload[key] = value

			continue
		}

		rendered, err := template.RenderWithEvent(str, input.Event, input.StepResults)
		if err != nil {
			return nil, fmt.Errorf("failed to render payload field '%s': %w", key, err)
		}

		payload[key] = rendered
	}

	return payload, nil
}
