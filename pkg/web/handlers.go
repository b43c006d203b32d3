// Package web provides the HTTP surface of the automation core: event
// dispatch, trigger and workflow administration, the execution ledger and the
// payment webhook endpoint.
package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/clinicore/automation/pkg/dispatcher"
	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence"
	"github.com/clinicore/automation/pkg/registry"
	"github.com/clinicore/automation/pkg/webhook"
)

// TenantHeader identifies the tenant on administrative calls. Webhook
// deliveries carry no tenant; the charge record resolves it.
const TenantHeader = "X-Tenant-ID"

const maxWebhookBody = 1024 * 1024

type APIHandlers struct {
	persistence persistence.Persistence
	dispatcher  *dispatcher.Dispatcher
	ingest      *webhook.Service
	registry    *registry.Registry
	validator   *validator.Validate
}

func NewAPIHandlers(
	p persistence.Persistence,
	d *dispatcher.Dispatcher,
	ingest *webhook.Service,
	reg *registry.Registry,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		persistence: p,
		dispatcher:  d,
		ingest:      ingest,
		registry:    reg,
		validator:   validate,
	}
}

func (h *APIHandlers) tenantID(c fiber.Ctx) (string, error) {
	tenantID := c.Get(TenantHeader)
	if tenantID == "" {
		return "", errors.New(TenantHeader + " header is required")
	}

	return tenantID, nil
}

// DispatchEvent accepts a domain event from a collaborator service and
// dispatches it synchronously, returning the dispatch summary.
func (h *APIHandlers) DispatchEvent(c fiber.Ctx) error {
	tenantID, err := h.tenantID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var event models.DomainEvent
	if err := c.Bind().Body(&event); err != nil {
		return badRequest(c, "Invalid event payload: "+err.Error())
	}

	event.TenantID = tenantID

	if err := h.validator.Struct(&event); err != nil {
		return badRequest(c, "Invalid event: "+err.Error())
	}

	result, err := h.dispatcher.Dispatch(c.Context(), &event)
	if err != nil && result == nil {
		return internalError(c, err)
	}

	status := fiber.StatusCreated
	if result.AlreadyProcessed {
		status = fiber.StatusOK
	}

	return c.Status(status).JSON(result)
}

func (h *APIHandlers) GetEvents(c fiber.Ctx) error {
	tenantID, err := h.tenantID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	filter := models.EventFilter{
		EventType:  c.Query("event_type"),
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		Limit:      queryInt(c, "limit", 50),
		Offset:     queryInt(c, "offset", 0),
	}

	if filter.StartDate, err = queryTime(c, "start_date"); err != nil {
		return badRequest(c, "start_date must be RFC 3339")
	}

	if filter.EndDate, err = queryTime(c, "end_date"); err != nil {
		return badRequest(c, "end_date must be RFC 3339")
	}

	events, err := h.persistence.Events().ListEvents(c.Context(), tenantID, filter)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"events": events,
		"pagination": fiber.Map{
			"limit":  filter.Limit,
			"offset": filter.Offset,
		},
	})
}

func (h *APIHandlers) GetEvent(c fiber.Ctx) error {
	event, err := h.persistence.Events().EventByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err, "Event not found")
	}

	return c.JSON(event)
}

func (h *APIHandlers) GetEventStats(c fiber.Ctx) error {
	tenantID, err := h.tenantID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	days := queryInt(c, "days", 30)
	if days <= 0 || days > 365 {
		return badRequest(c, "days must be between 1 and 365")
	}

	since := time.Now().UTC().AddDate(0, 0, -days)

	stats, err := h.persistence.Events().EventStats(c.Context(), tenantID, since)
	if err != nil {
		return internalError(c, err)
	}

	stats.Period = strconv.Itoa(days) + "d"

	return c.JSON(stats)
}

func (h *APIHandlers) GetTriggers(c fiber.Ctx) error {
	tenantID, err := h.tenantID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	triggers, err := h.persistence.Triggers().ListTriggers(c.Context(), tenantID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"triggers": triggers})
}

func (h *APIHandlers) GetTrigger(c fiber.Ctx) error {
	trigger, err := h.persistence.Triggers().TriggerByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err, "Trigger not found")
	}

	return c.JSON(trigger)
}

func (h *APIHandlers) CreateTrigger(c fiber.Ctx) error {
	tenantID, err := h.tenantID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var trigger models.Trigger
	if err := c.Bind().Body(&trigger); err != nil {
		return badRequest(c, "Invalid trigger payload: "+err.Error())
	}

	trigger.ID = uuid.New().String()
	trigger.TenantID = tenantID
	trigger.CreatedAt = time.Now().UTC()
	trigger.UpdatedAt = trigger.CreatedAt

	if err := h.validator.Struct(&trigger); err != nil {
		return badRequest(c, "Invalid trigger: "+err.Error())
	}

	if err := h.persistence.Triggers().SaveTrigger(c.Context(), &trigger); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(trigger)
}

func (h *APIHandlers) UpdateTrigger(c fiber.Ctx) error {
	existing, err := h.persistence.Triggers().TriggerByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err, "Trigger not found")
	}

	var trigger models.Trigger
	if err := c.Bind().Body(&trigger); err != nil {
		return badRequest(c, "Invalid trigger payload: "+err.Error())
	}

	trigger.ID = existing.ID
	trigger.TenantID = existing.TenantID
	trigger.CreatedAt = existing.CreatedAt
	trigger.UpdatedAt = time.Now().UTC()

	if err := h.validator.Struct(&trigger); err != nil {
		return badRequest(c, "Invalid trigger: "+err.Error())
	}

	if err := h.persistence.Triggers().SaveTrigger(c.Context(), &trigger); err != nil {
		return internalError(c, err)
	}

	return c.JSON(trigger)
}

func (h *APIHandlers) DeleteTrigger(c fiber.Ctx) error {
	if err := h.persistence.Triggers().DeleteTrigger(c.Context(), c.Params("id")); err != nil {
		return handleRepositoryError(c, err, "Trigger not found")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	tenantID, err := h.tenantID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	workflows, err := h.persistence.Workflows().ListWorkflows(c.Context(), tenantID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.persistence.Workflows().WorkflowByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err, "Workflow not found")
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	tenantID, err := h.tenantID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var workflow models.Workflow
	if err := c.Bind().Body(&workflow); err != nil {
		return badRequest(c, "Invalid workflow payload: "+err.Error())
	}

	workflow.ID = uuid.New().String()
	workflow.TenantID = tenantID
	workflow.CreatedAt = time.Now().UTC()
	workflow.UpdatedAt = workflow.CreatedAt

	if err := h.validator.Struct(&workflow); err != nil {
		return badRequest(c, "Invalid workflow: "+err.Error())
	}

	if err := h.registry.ValidateWorkflow(&workflow); err != nil {
		return badRequest(c, "Invalid workflow steps: "+err.Error())
	}

	if err := h.persistence.Workflows().SaveWorkflow(c.Context(), &workflow); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	existing, err := h.persistence.Workflows().WorkflowByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err, "Workflow not found")
	}

	var workflow models.Workflow
	if err := c.Bind().Body(&workflow); err != nil {
		return badRequest(c, "Invalid workflow payload: "+err.Error())
	}

	workflow.ID = existing.ID
	workflow.TenantID = existing.TenantID
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()

	if err := h.validator.Struct(&workflow); err != nil {
		return badRequest(c, "Invalid workflow: "+err.Error())
	}

	if err := h.registry.ValidateWorkflow(&workflow); err != nil {
		return badRequest(c, "Invalid workflow steps: "+err.Error())
	}

	if err := h.persistence.Workflows().SaveWorkflow(c.Context(), &workflow); err != nil {
		return internalError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.persistence.Workflows().DeleteWorkflow(c.Context(), c.Params("id")); err != nil {
		return handleRepositoryError(c, err, "Workflow not found")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	tenantID, err := h.tenantID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	executions, err := h.persistence.Executions().ListExecutions(
		c.Context(), tenantID, c.Query("workflow_id"), limit, offset)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions": executions,
		"pagination": fiber.Map{"limit": limit, "offset": offset},
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.persistence.Executions().ExecutionByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err, "Execution not found")
	}

	return c.JSON(execution)
}

// IngestWebhook receives a payment gateway delivery. Any successfully
// authenticated delivery is acknowledged with 200 regardless of outcome;
// gateways retry-storm on error statuses.
func (h *APIHandlers) IngestWebhook(c fiber.Ctx) error {
	body := c.Body()
	if len(body) > maxWebhookBody {
		return badRequest(c, "Payload too large")
	}

	result, err := h.ingest.Ingest(c.Context(), c.Params("gateway"), body, webhookHeaders(c))
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrAuthentication):
			return unauthorized(c, "Webhook authentication failed")
		case errors.Is(err, webhook.ErrUnknownGateway), errors.Is(err, webhook.ErrMalformedPayload):
			return badRequest(c, err.Error())
		default:
			return internalError(c, err)
		}
	}

	return c.JSON(result)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}

func webhookHeaders(c fiber.Ctx) http.Header {
	headers := make(http.Header)
	for key, values := range c.GetReqHeaders() {
		headers[http.CanonicalHeaderKey(key)] = values
	}

	return headers
}

// queryInt parses an integer query parameter, falling back to the default on
// absence or garbage.
func queryInt(c fiber.Ctx, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return value
}

// queryTime parses an optional RFC 3339 query parameter. Unlike queryInt,
// garbage is an error; silently ignoring a date filter would return rows the
// caller asked to exclude.
func queryTime(c fiber.Ctx, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}

	return &parsed, nil
}
