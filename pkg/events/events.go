// Package events defines the messages exchanged on the event bus between
// collaborator services and the automation core.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/automation/pkg/models"
)

type EventType string

// Bus topics.
const (
	DomainTopic     = "clinicore.domain.events"     // collaborators publish domain events here
	AutomationTopic = "clinicore.automation.events" // dispatch and execution lifecycle notifications
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound: a collaborator observed a domain fact.
	DomainEventReceivedType EventType = "domain.event.received"

	// Outbound lifecycle notifications.
	EventDispatchedType         EventType = "automation.event.dispatched"
	WorkflowExecutionDoneType   EventType = "automation.execution.completed"
	WorkflowExecutionFailedType EventType = "automation.execution.failed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TenantID  string         `json:"tenant_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, tenantID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
		Metadata:  make(map[string]any),
	}
}

// DomainEventReceived wraps a domain event for bus transport. The worker
// unwraps it and hands the event to the dispatcher.
type DomainEventReceived struct {
	BaseEvent

	Event *models.DomainEvent `json:"event"`
}

func (d DomainEventReceived) GetType() EventType {
	return DomainEventReceivedType
}

// EventDispatched reports dispatch completion for one ledger event.
type EventDispatched struct {
	BaseEvent

	EventID           string   `json:"event_id"`
	EventType         string   `json:"event_type"`
	TriggersMatched   int      `json:"triggers_matched"`
	WorkflowsExecuted int      `json:"workflows_executed"`
	ExecutionIDs      []string `json:"execution_ids,omitempty"`
}

func (e EventDispatched) GetType() EventType {
	return EventDispatchedType
}

// WorkflowExecutionDone reports a finished workflow run.
type WorkflowExecutionDone struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	WorkflowID  string        `json:"workflow_id"`
	TriggerID   string        `json:"trigger_id,omitempty"`
	Duration    time.Duration `json:"duration"`
}

func (w WorkflowExecutionDone) GetType() EventType {
	return WorkflowExecutionDoneType
}

// WorkflowExecutionFailed reports a failed workflow run.
type WorkflowExecutionFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	WorkflowID  string        `json:"workflow_id"`
	TriggerID   string        `json:"trigger_id,omitempty"`
	Error       string        `json:"error"`
	Duration    time.Duration `json:"duration"`
}

func (w WorkflowExecutionFailed) GetType() EventType {
	return WorkflowExecutionFailedType
}
