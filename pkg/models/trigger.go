package models

import "time"

// ConditionOperator enumerates the comparison operators a trigger condition
// may use against an event payload field.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
	OperatorIn          ConditionOperator = "in"
	OperatorNotIn       ConditionOperator = "not_in"
)

// LogicalOperator joins a condition with the accumulated result of the
// conditions before it.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Condition is a single field/operator/value check. Conditions combine
// left-to-right using each condition's own logical operator (AND when empty);
// the combination is a left-fold, not a balanced boolean tree. Existing
// trigger definitions depend on that exact ordering.
type Condition struct {
	Field           string            `json:"field"            validate:"required"`
	Operator        ConditionOperator `json:"operator"         validate:"required,oneof=equals not_equals contains greater_than less_than in not_in"`
	Value           any               `json:"value"`
	LogicalOperator LogicalOperator   `json:"logical_operator,omitempty" validate:"omitempty,oneof=AND OR"`
}

// Trigger is a standing rule: when EventType occurs for the tenant and the
// conditions hold, run the referenced workflow.
type Trigger struct {
	ID             string      `json:"id"`
	TenantID       string      `json:"tenant_id"  validate:"required"`
	Name           string      `json:"name"       validate:"required,min=3"`
	EventType      string      `json:"event_type" validate:"required"`
	Conditions     []Condition `json:"conditions" validate:"dive"`
	WorkflowID     string      `json:"workflow_id"`
	Active         bool        `json:"active"`
	ExecutionCount int         `json:"execution_count"`
	LastExecutedAt *time.Time  `json:"last_executed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}
