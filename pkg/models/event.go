// Package models defines the core domain models for the automation engine.
package models

import "time"

// Well-known domain event types produced by collaborator services.
const (
	EventLeadCreated          = "lead.created"
	EventLeadUpdated          = "lead.updated"
	EventLeadStageChanged     = "lead.stage_changed"
	EventAppointmentCreated   = "appointment.created"
	EventAppointmentConfirmed = "appointment.confirmed"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAppointmentCompleted = "appointment.completed"
	EventPaymentConfirmed     = "payment.confirmed"
	EventPaymentFailed        = "payment.failed"
	EventPaymentOverdue       = "payment.overdue"
	EventPaymentRefunded      = "payment.refunded"
	EventWhatsAppMessage      = "whatsapp.message_received"
	EventUserLogin            = "user.login"
)

// DomainEvent is an immutable fact about something that happened in the
// business domain. Once persisted, only the two execution counters change,
// and each exactly once per dispatch.
type DomainEvent struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"   validate:"required"`
	EventType         string         `json:"event_type"  validate:"required"`
	EntityType        string         `json:"entity_type"`
	EntityID          string         `json:"entity_id"`
	Payload           map[string]any `json:"payload"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	TriggersExecuted  int            `json:"triggers_executed"`
	WorkflowsExecuted int            `json:"workflows_executed"`
	ProcessedAt       *time.Time     `json:"processed_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// EventFilter narrows event-ledger queries.
type EventFilter struct {
	EventType  string
	EntityType string
	EntityID   string
	StartDate  *time.Time
	EndDate    *time.Time
	Limit      int
	Offset     int
}

// EventStats aggregates the ledger for the stats endpoint.
type EventStats struct {
	TotalEvents       int            `json:"total_events"`
	EventsByType      map[string]int `json:"events_by_type"`
	EventsByEntity    map[string]int `json:"events_by_entity"`
	TriggersExecuted  int            `json:"triggers_executed"`
	WorkflowsExecuted int            `json:"workflows_executed"`
	SuccessRate       float64        `json:"success_rate"`
	Period            string         `json:"period"`
}
