// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrEventAlreadyExists indicates the ledger already holds this event ID.
	ErrEventAlreadyExists = errors.New("event already exists")

	// ErrEventNotFound indicates an event was not found by the given identifier.
	ErrEventNotFound = errors.New("event not found")

	// ErrTriggerNotFound indicates a trigger was not found by the given identifier.
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates a workflow execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrChargeNotFound indicates a payment charge was not found.
	ErrChargeNotFound = errors.New("charge not found")

	// ErrChargeConflict indicates a charge status compare-and-swap lost to a
	// concurrent update.
	ErrChargeConflict = errors.New("charge status conflict")

	// ErrDuplicateWebhookEvent indicates the gateway event ID was already
	// marked processed.
	ErrDuplicateWebhookEvent = errors.New("duplicate webhook event")
)

// OpError wraps a persistence failure with the operation and record involved.
type OpError struct {
	Op     string // Operation being performed (e.g. "SaveEvent", "TriggerByID")
	Entity string // Record kind (e.g. "event", "trigger")
	ID     string // Record identifier if applicable
	Err    error  // Underlying error
}

func (e *OpError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.Entity, e.Err)
	}

	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func (e *OpError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewOpError creates a new operation error with context.
func NewOpError(op, entity, id string, err error) *OpError {
	return &OpError{Op: op, Entity: entity, ID: id, Err: err}
}

// IsNotFound checks if an error indicates any record was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrTriggerNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrChargeNotFound)
}

// IsDuplicateEvent checks if an error indicates an event ID replay.
func IsDuplicateEvent(err error) bool {
	return errors.Is(err, ErrEventAlreadyExists)
}

// IsDuplicateWebhookEvent checks if an error indicates a webhook redelivery.
func IsDuplicateWebhookEvent(err error) bool {
	return errors.Is(err, ErrDuplicateWebhookEvent)
}
