package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/automation/pkg/dispatcher"
	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence/memory"
	"github.com/clinicore/automation/pkg/registry"
	"github.com/clinicore/automation/pkg/steps/notify"
	"github.com/clinicore/automation/pkg/webhook"
	"github.com/clinicore/automation/pkg/webhook/dedup"
	"github.com/clinicore/automation/pkg/webhook/gateways/asaas"
	"github.com/clinicore/automation/pkg/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T) (*fiber.App, *memory.Persistence) {
	t.Helper()

	p := memory.NewPersistence()
	logger := testLogger()

	reg := registry.NewRegistry(logger)
	reg.Register(notify.NewFactory())

	executor := workflow.NewExecutor(p, reg, logger)
	dispatch := dispatcher.NewDispatcher(p, executor, nil, logger)

	gateway, err := asaas.NewGateway("tok_test_123")
	require.NoError(t, err)

	gatewayRegistry, err := webhook.NewGatewayRegistry(gateway)
	require.NoError(t, err)

	ingest, err := webhook.NewService(
		gatewayRegistry, p, dedup.NewLedgerStore(p.WebhookEvents()), dispatch, logger)
	require.NoError(t, err)

	validate := validator.New(validator.WithRequiredStructEnabled())
	handlers := NewAPIHandlers(p, dispatch, ingest, reg, validate)

	return NewApp(handlers), p
}

func request(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func tenantHeaders() map[string]string {
	return map[string]string{TenantHeader: "clinic-1"}
}

func TestDispatchEvent(t *testing.T) {
	app, p := newTestApp(t)

	body := map[string]any{
		"event_type": models.EventLeadCreated,
		"payload":    map[string]any{"lead": map[string]any{"name": "Ana"}},
	}

	resp := request(t, app, fiber.MethodPost, "/events/", body, tenantHeaders())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var result dispatcher.Result
	decode(t, resp, &result)
	assert.NotEmpty(t, result.EventID)
	assert.False(t, result.AlreadyProcessed)

	// The event landed in the ledger under the header tenant.
	event, err := p.Events().EventByID(context.Background(), result.EventID)
	require.NoError(t, err)
	assert.Equal(t, "clinic-1", event.TenantID)
}

func TestDispatchEvent_RequiresTenantHeader(t *testing.T) {
	app, _ := newTestApp(t)

	body := map[string]any{"event_type": models.EventLeadCreated}

	resp := request(t, app, fiber.MethodPost, "/events/", body, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestDispatchEvent_DuplicateReturns200(t *testing.T) {
	app, _ := newTestApp(t)

	body := map[string]any{
		"id":         "evt-dup",
		"event_type": models.EventLeadCreated,
		"payload":    map[string]any{},
	}

	resp := request(t, app, fiber.MethodPost, "/events/", body, tenantHeaders())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = request(t, app, fiber.MethodPost, "/events/", body, tenantHeaders())
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result dispatcher.Result
	decode(t, resp, &result)
	assert.True(t, result.AlreadyProcessed)
}

func TestDispatchEvent_MissingEventType(t *testing.T) {
	app, _ := newTestApp(t)

	resp := request(t, app, fiber.MethodPost, "/events/", map[string]any{"payload": map[string]any{}}, tenantHeaders())
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGetEventStats_ValidatesDays(t *testing.T) {
	app, _ := newTestApp(t)

	resp := request(t, app, fiber.MethodGet, "/events/stats?days=0", nil, tenantHeaders())
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = request(t, app, fiber.MethodGet, "/events/stats?days=7", nil, tenantHeaders())
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var stats models.EventStats
	decode(t, resp, &stats)
	assert.Equal(t, "7d", stats.Period)
}

func TestGetEvents_DateFilters(t *testing.T) {
	app, p := newTestApp(t)

	seed := func(id string, createdAt time.Time) {
		require.NoError(t, p.Events().SaveEvent(context.Background(), &models.DomainEvent{
			ID:        id,
			TenantID:  "clinic-1",
			EventType: models.EventLeadCreated,
			Payload:   map[string]any{},
			CreatedAt: createdAt,
		}))
	}

	seed("evt-jan", time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	seed("evt-feb", time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC))
	seed("evt-mar", time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	resp := request(t, app, fiber.MethodGet,
		"/events/?start_date=2026-02-01T00:00:00Z&end_date=2026-02-28T00:00:00Z", nil, tenantHeaders())
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var listing struct {
		Events []models.DomainEvent `json:"events"`
	}
	decode(t, resp, &listing)
	require.Len(t, listing.Events, 1)
	assert.Equal(t, "evt-feb", listing.Events[0].ID)
}

func TestGetEvents_RejectsMalformedDates(t *testing.T) {
	app, _ := newTestApp(t)

	resp := request(t, app, fiber.MethodGet, "/events/?start_date=yesterday", nil, tenantHeaders())
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = request(t, app, fiber.MethodGet, "/events/?end_date=2026-13-99", nil, tenantHeaders())
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCreateTrigger(t *testing.T) {
	app, p := newTestApp(t)

	body := map[string]any{
		"name":       "qualified lead followup",
		"event_type": models.EventLeadStageChanged,
		"active":     true,
		"conditions": []map[string]any{
			{"field": "lead.stage", "operator": "equals", "value": "qualified"},
		},
	}

	resp := request(t, app, fiber.MethodPost, "/triggers/", body, tenantHeaders())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var trigger models.Trigger
	decode(t, resp, &trigger)
	assert.NotEmpty(t, trigger.ID)
	assert.Equal(t, "clinic-1", trigger.TenantID)

	stored, err := p.Triggers().TriggerByID(context.Background(), trigger.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventLeadStageChanged, stored.EventType)
}

func TestCreateTrigger_RejectsBadCondition(t *testing.T) {
	app, _ := newTestApp(t)

	body := map[string]any{
		"name":       "broken trigger",
		"event_type": models.EventLeadCreated,
		"conditions": []map[string]any{
			{"field": "lead.stage", "operator": "matches_regex", "value": "x"},
		},
	}

	resp := request(t, app, fiber.MethodPost, "/triggers/", body, tenantHeaders())
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGetTrigger_NotFound(t *testing.T) {
	app, _ := newTestApp(t)

	resp := request(t, app, fiber.MethodGet, "/triggers/nope", nil, tenantHeaders())
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestCreateWorkflow_ValidatesStepConfig(t *testing.T) {
	app, _ := newTestApp(t)

	valid := map[string]any{
		"name":   "welcome message",
		"active": true,
		"steps": []map[string]any{
			{
				"order": 1, "type": "notification", "name": "greet",
				"config": map[string]any{"channel": "whatsapp", "message": "Welcome!"},
			},
		},
	}

	resp := request(t, app, fiber.MethodPost, "/workflows/", valid, tenantHeaders())
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Same workflow with the required message field missing.
	invalid := map[string]any{
		"name":   "broken workflow",
		"active": true,
		"steps": []map[string]any{
			{
				"order": 1, "type": "notification", "name": "greet",
				"config": map[string]any{"channel": "whatsapp"},
			},
		},
	}

	resp = request(t, app, fiber.MethodPost, "/workflows/", invalid, tenantHeaders())
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCreateWorkflow_UnknownStepType(t *testing.T) {
	app, _ := newTestApp(t)

	body := map[string]any{
		"name": "bad step type",
		"steps": []map[string]any{
			{"order": 1, "type": "teleport", "name": "zap", "config": map[string]any{}},
		},
	}

	resp := request(t, app, fiber.MethodPost, "/workflows/", body, tenantHeaders())
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGetExecutions_Empty(t *testing.T) {
	app, _ := newTestApp(t)

	resp := request(t, app, fiber.MethodGet, "/executions/", nil, tenantHeaders())
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Executions []models.WorkflowExecution `json:"executions"`
	}
	decode(t, resp, &payload)
	assert.Empty(t, payload.Executions)
}

func TestIngestWebhook_AuthFailureReturns401(t *testing.T) {
	app, _ := newTestApp(t)

	body := map[string]any{
		"id":    "evt_1",
		"event": "PAYMENT_CONFIRMED",
		"payment": map[string]any{
			"id": "pay_1", "value": 100.0,
		},
	}

	resp := request(t, app, fiber.MethodPost, "/webhooks/asaas", body, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestIngestWebhook_OrphanAcknowledgedWith200(t *testing.T) {
	app, _ := newTestApp(t)

	body := map[string]any{
		"id":    "evt_1",
		"event": "PAYMENT_CONFIRMED",
		"payment": map[string]any{
			"id": "pay_unknown", "value": 100.0,
		},
	}

	resp := request(t, app, fiber.MethodPost, "/webhooks/asaas", body, map[string]string{
		"Asaas-Access-Token": "tok_test_123",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result webhook.IngestResult
	decode(t, resp, &result)
	assert.True(t, result.Orphaned)
}

func TestIngestWebhook_ConfirmsChargeAndDispatches(t *testing.T) {
	app, p := newTestApp(t)

	charge := &models.PaymentCharge{
		ID:                "chg-1",
		TenantID:          "clinic-1",
		Gateway:           "asaas",
		Status:            models.ChargePending,
		ExternalReference: "pay_1",
		AmountCents:       10000,
	}
	require.NoError(t, p.Charges().SaveCharge(context.Background(), charge))

	body := map[string]any{
		"id":    "evt_1",
		"event": "PAYMENT_CONFIRMED",
		"payment": map[string]any{
			"id": "pay_1", "value": 100.0, "paymentDate": "2026-03-15",
		},
	}

	resp := request(t, app, fiber.MethodPost, "/webhooks/asaas", body, map[string]string{
		"Asaas-Access-Token": "tok_test_123",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result webhook.IngestResult
	decode(t, resp, &result)
	assert.Equal(t, models.ChargeConfirmed, result.ToStatus)
	assert.True(t, result.EventEmitted)

	// The confirmation flowed through the dispatcher into the event ledger.
	events, err := p.Events().ListEvents(context.Background(), "clinic-1", models.EventFilter{
		EventType: models.EventPaymentConfirmed,
	})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestIngestWebhook_UnknownGatewayReturns400(t *testing.T) {
	app, _ := newTestApp(t)

	resp := request(t, app, fiber.MethodPost, "/webhooks/pagseguro", map[string]any{}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	app, _ := newTestApp(t)

	resp := request(t, app, fiber.MethodGet, "/health", nil, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
