package models

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// StepStatus is the lifecycle state of a single step within an execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepExecution records the outcome of one step. Every step of the workflow
// is present in the execution record regardless of how far execution got, so
// a reader can always reconstruct exactly where a run stopped.
type StepExecution struct {
	StepOrder   int        `json:"step_order"`
	StepName    string     `json:"step_name"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// WorkflowExecution is the durable audit record of one workflow run. One
// execution is created per (event, matched trigger) pair, never shared across
// triggers even when they reference the same workflow.
type WorkflowExecution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	TenantID    string          `json:"tenant_id"`
	TriggerID   string          `json:"trigger_id,omitempty"`
	EventID     string          `json:"event_id,omitempty"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      any             `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Steps       []StepExecution `json:"steps"`
}

// DurationMs reports the wall-clock duration of a finished execution.
func (e *WorkflowExecution) DurationMs() int64 {
	if e.CompletedAt == nil {
		return 0
	}

	return e.CompletedAt.Sub(e.StartedAt).Milliseconds()
}
