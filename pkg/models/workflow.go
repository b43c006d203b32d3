package models

import "time"

// StepType enumerates the kinds of steps a workflow may contain.
type StepType string

const (
	StepTypeWebhook      StepType = "webhook"
	StepTypeFunction     StepType = "function"
	StepTypeCondition    StepType = "condition"
	StepTypeNotification StepType = "notification"
	StepTypeAI           StepType = "ai"
	StepTypeIntegration  StepType = "integration"
)

// Remote reports whether the step type is delegated to the external workflow
// runner rather than executed in-process.
func (t StepType) Remote() bool {
	return t == StepTypeWebhook || t == StepTypeAI || t == StepTypeIntegration
}

// StepTypes lists every step type a workflow may use.
func StepTypes() []StepType {
	return []StepType{
		StepTypeWebhook,
		StepTypeFunction,
		StepTypeCondition,
		StepTypeNotification,
		StepTypeAI,
		StepTypeIntegration,
	}
}

// WorkflowStep is one ordered step of a workflow. Config is validated against
// the registered handler schema when the workflow is saved.
type WorkflowStep struct {
	Order  int            `json:"order"`
	Type   StepType       `json:"type"   validate:"required,oneof=webhook function condition notification ai integration"`
	Name   string         `json:"name"   validate:"required"`
	Config map[string]any `json:"config"`
}

// Workflow is an ordered sequence of steps executed as a unit.
type Workflow struct {
	ID                     string         `json:"id"`
	TenantID               string         `json:"tenant_id" validate:"required"`
	Name                   string         `json:"name"      validate:"required,min=3"`
	Steps                  []WorkflowStep `json:"steps"     validate:"dive"`
	Active                 bool           `json:"active"`
	ExecutionCount         int            `json:"execution_count"`
	SuccessRate            float64        `json:"success_rate"`
	AverageExecutionTimeMs float64        `json:"average_execution_time_ms"`
	LastExecutedAt         *time.Time     `json:"last_executed_at,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}
