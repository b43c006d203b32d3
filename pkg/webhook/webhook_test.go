package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence"
	"github.com/clinicore/automation/pkg/persistence/memory"
	"github.com/clinicore/automation/pkg/webhook/dedup"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway trusts any delivery carrying the magic header and parses bodies
// of the form "eventID|externalRef|canonicalEvent".
type fakeGateway struct {
	notification *Notification
	parseErr     error
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Verify(_ []byte, headers http.Header) error {
	if headers.Get("X-Fake-Token") != "sekret" {
		return errors.New("missing or wrong token")
	}

	return nil
}

func (g *fakeGateway) Parse(_ []byte) (*Notification, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}

	return g.notification, nil
}

type captureEmitter struct {
	events []*models.DomainEvent
	err    error
}

func (e *captureEmitter) Emit(_ context.Context, event *models.DomainEvent) error {
	if e.err != nil {
		return e.err
	}

	e.events = append(e.events, event)

	return nil
}

func notification(eventID, ref string, event CanonicalEvent) *Notification {
	paidAt := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	return &Notification{
		GatewayEventID:    eventID,
		ExternalReference: ref,
		Event:             event,
		PaidAt:            &paidAt,
		AmountCents:       25000,
	}
}

func newTestService(t *testing.T, gateway Gateway) (*Service, *memory.Persistence, *captureEmitter) {
	t.Helper()

	registry, err := NewGatewayRegistry(gateway)
	require.NoError(t, err)

	p := memory.NewPersistence()
	emitter := &captureEmitter{}

	service, err := NewService(registry, p, dedup.NewLedgerStore(p.WebhookEvents()), emitter, testLogger())
	require.NoError(t, err)

	return service, p, emitter
}

func seedCharge(t *testing.T, p *memory.Persistence, status models.ChargeStatus) *models.PaymentCharge {
	t.Helper()

	charge := &models.PaymentCharge{
		ID:                "chg-1",
		TenantID:          "clinic-1",
		Gateway:           "fake",
		BillingType:       "PIX",
		Status:            status,
		ExternalReference: "pay_123",
		AmountCents:       25000,
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, p.Charges().SaveCharge(context.Background(), charge))

	return charge
}

func authHeaders() http.Header {
	headers := http.Header{}
	headers.Set("X-Fake-Token", "sekret")

	return headers
}

func TestIngest_ConfirmedTransitionsAndEmits(t *testing.T) {
	gateway := &fakeGateway{notification: notification("evt_1", "pay_123", EventConfirmed)}
	service, p, emitter := newTestService(t, gateway)
	seedCharge(t, p, models.ChargePending)

	result, err := service.Ingest(context.Background(), "fake", []byte(`{}`), authHeaders())
	require.NoError(t, err)

	assert.Equal(t, "chg-1", result.ChargeID)
	assert.Equal(t, models.ChargePending, result.FromStatus)
	assert.Equal(t, models.ChargeConfirmed, result.ToStatus)
	assert.True(t, result.EventEmitted)
	assert.False(t, result.Duplicate)

	charge, err := p.Charges().ChargeByID(context.Background(), "chg-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChargeConfirmed, charge.Status)

	require.Len(t, emitter.events, 1)
	emitted := emitter.events[0]
	assert.Equal(t, models.EventPaymentConfirmed, emitted.EventType)
	assert.Equal(t, "clinic-1", emitted.TenantID)
	assert.Equal(t, "chg-1", emitted.EntityID)
	assert.Equal(t, "2026-03-15T10:00:00Z", emitted.Payload["paid_at"])
}

func TestIngest_DeterministicEventID(t *testing.T) {
	gateway := &fakeGateway{notification: notification("evt_1", "pay_123", EventConfirmed)}
	service, p, emitter := newTestService(t, gateway)
	seedCharge(t, p, models.ChargePending)

	_, err := service.Ingest(context.Background(), "fake", []byte(`{}`), authHeaders())
	require.NoError(t, err)

	other, otherP, otherEmitter := newTestService(t, &fakeGateway{notification: notification("evt_1", "pay_123", EventConfirmed)})
	seedCharge(t, otherP, models.ChargePending)

	_, err = other.Ingest(context.Background(), "fake", []byte(`{}`), authHeaders())
	require.NoError(t, err)

	// Same gateway delivery always maps to the same event ID, so the
	// dispatcher ledger rejects accidental re-emission.
	require.Len(t, emitter.events, 1)
	require.Len(t, otherEmitter.events, 1)
	assert.Equal(t, emitter.events[0].ID, otherEmitter.events[0].ID)
}

func TestIngest_DuplicateDeliveryAcknowledged(t *testing.T) {
	gateway := &fakeGateway{notification: notification("evt_1", "pay_123", EventConfirmed)}
	service, p, emitter := newTestService(t, gateway)
	seedCharge(t, p, models.ChargePending)

	first, err := service.Ingest(context.Background(), "fake", []byte(`{}`), authHeaders())
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := service.Ingest(context.Background(), "fake", []byte(`{}`), authHeaders())
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Empty(t, second.ChargeID)

	// The charge moved once and the event was emitted once.
	charge, err := p.Charges().ChargeByID(context.Background(), "chg-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChargeConfirmed, charge.Status)
	assert.Len(t, emitter.events, 1)
}

func TestIngest_ConfirmedAfterReceivedDoesNotReEmit(t *testing.T) {
	service, p, emitter := newTestService(t, &fakeGateway{notification: notification("evt_1", "pay_123", EventReceived)})
	seedCharge(t, p, models.ChargePending)

	first, err := service.Ingest(context.Background(), "fake", []byte(`{}`), authHeaders())
	require.NoError(t, err)
	assert.Equal(t, models.ChargeReceived, first.ToStatus)
	require.Len(t, emitter.events, 1)

	// A later confirmation refines an already paid charge; no second event.
	confirm, confirmP, confirmEmitter := newTestService(t, &fakeGateway{notification: notification("evt_2", "pay_456", EventConfirmed)})
	charge := seedCharge(t, confirmP, models.ChargeReceived)
	charge.ExternalReference = "pay_456"
	require.NoError(t, confirmP.Charges().SaveCharge(context.Background(), charge))

	second, err := confirm.Ingest(context.Background(), "fake", []byte(`{}`), authHeaders())
	require.NoError(t, err)
	assert.Equal(t, models.ChargeConfirmed, second.ToStatus)
	assert.False(t, second.EventEmitted)
	assert.Empty(t, confirmEmitter.events)
}

func TestIngest_OrphanedDeliveryAcknowledged(t *testing.T) {
	gateway := &fakeGateway{notification: notification("evt_1", "pay_unknown", EventConfirmed)}
	service, _, emitter := newTestService(t, gateway)

	result, err := service.Ingest(context.Background(), "fake", []byte(`{}`), authHeaders())
	require.NoError(t, err)

	assert.True(t, result.Orphaned)
	assert.Empty(t, result.ChargeID)
	assert.Empty(t, emitter.events)
}

func TestIngest_InvalidTransitionIgnored(t *testing.T) {
	gateway := &fakeGateway{notification: notification("evt_1", "pay_123", EventConfirmed)}
	service, p, emitter := newTestService(t, gateway)
	seedCharge(t, p, models.ChargeRefunded)

	result, err := service.Ingest(context.Background(), "fake", []byte(`{}`), authHeaders())
	require.NoError(t, err)

	assert.True(t, result.Ignored)
	assert.Empty(t, emitter.events)

	charge, err := p.Charges().ChargeByID(context.Background(), "chg-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChargeRefunded, charge.Status)
}

func TestIngest_SameStatusIsNoOp(t *testing.T) {
	gateway := &fakeGateway{notification: notification("evt_1", "pay_123", EventConfirmed)}
	service, p, emitter := newTestService(t, gateway)
	seedCharge(t, p, models.ChargeConfirmed)

	result, err := service.Ingest(context.Background(), "fake", []byte(`{}`), authHeaders())
	require.NoError(t, err)

	assert.True(t, result.Ignored)
	assert.Empty(t, emitter.events)
}

// flakyCharges fails a configured number of status updates before
// delegating, standing in for a transient database outage.
type flakyCharges struct {
	persistence.ChargeRepository
	failures int
}

func (r *flakyCharges) UpdateChargeStatus(ctx context.Context, id string, from, to models.ChargeStatus) error {
	if r.failures > 0 {
		r.failures--

		return errors.New("connection reset by peer")
	}

	return r.ChargeRepository.UpdateChargeStatus(ctx, id, from, to)
}

type flakyPersistence struct {
	*memory.Persistence
	charges *flakyCharges
}

func (p *flakyPersistence) Charges() persistence.ChargeRepository { return p.charges }

func TestIngest_TransientChargeFailureAllowsRetry(t *testing.T) {
	gateway := &fakeGateway{notification: notification("evt_retry", "pay_123", EventConfirmed)}

	registry, err := NewGatewayRegistry(gateway)
	require.NoError(t, err)

	mem := memory.NewPersistence()
	p := &flakyPersistence{
		Persistence: mem,
		charges:     &flakyCharges{ChargeRepository: mem.Charges(), failures: 1},
	}
	emitter := &captureEmitter{}

	service, err := NewService(registry, p, dedup.NewLedgerStore(mem.WebhookEvents()), emitter, testLogger())
	require.NoError(t, err)
	seedCharge(t, mem, models.ChargePending)

	_, err = service.Ingest(context.Background(), "fake", []byte("{}"), authHeaders())
	require.Error(t, err)

	// The failed delivery was unmarked, so the gateway retry is processed as
	// a fresh delivery rather than swallowed as a duplicate.
	result, err := service.Ingest(context.Background(), "fake", []byte("{}"), authHeaders())
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, models.ChargeConfirmed, result.ToStatus)
	assert.True(t, result.EventEmitted)

	charge, err := mem.Charges().ChargeByID(context.Background(), "chg-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChargeConfirmed, charge.Status)
	require.Len(t, emitter.events, 1)
}

func TestIngest_AuthenticationFailurePersistsNothing(t *testing.T) {
	gateway := &fakeGateway{notification: notification("evt_1", "pay_123", EventConfirmed)}
	service, p, emitter := newTestService(t, gateway)
	seedCharge(t, p, models.ChargePending)

	_, err := service.Ingest(context.Background(), "fake", []byte(`{}`), http.Header{})
	require.ErrorIs(t, err, ErrAuthentication)

	// The delivery was never marked processed, so a correct retry succeeds.
	result, err := service.Ingest(context.Background(), "fake", []byte(`{}`), authHeaders())
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, models.ChargeConfirmed, result.ToStatus)
	assert.Len(t, emitter.events, 1)
}

func TestIngest_IgnoredGatewayEvent(t *testing.T) {
	gateway := &fakeGateway{parseErr: ErrEventIgnored}
	service, _, emitter := newTestService(t, gateway)

	result, err := service.Ingest(context.Background(), "fake", []byte(`{}`), authHeaders())
	require.NoError(t, err)

	assert.True(t, result.Ignored)
	assert.Empty(t, emitter.events)
}

func TestIngest_MalformedPayload(t *testing.T) {
	gateway := &fakeGateway{parseErr: errors.New("unexpected end of JSON input")}
	service, _, _ := newTestService(t, gateway)

	_, err := service.Ingest(context.Background(), "fake", []byte(`{`), authHeaders())
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestIngest_UnknownGateway(t *testing.T) {
	service, _, _ := newTestService(t, &fakeGateway{})

	_, err := service.Ingest(context.Background(), "pagseguro", []byte(`{}`), http.Header{})
	require.ErrorIs(t, err, ErrUnknownGateway)
}

func TestIngest_CreatedEventOnlyAcknowledges(t *testing.T) {
	gateway := &fakeGateway{notification: notification("evt_1", "pay_123", EventCreated)}
	service, p, emitter := newTestService(t, gateway)
	seedCharge(t, p, models.ChargePending)

	result, err := service.Ingest(context.Background(), "fake", []byte(`{}`), authHeaders())
	require.NoError(t, err)

	assert.True(t, result.Ignored)
	assert.Empty(t, emitter.events)

	charge, err := p.Charges().ChargeByID(context.Background(), "chg-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChargePending, charge.Status)
}

func TestNewGatewayRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewGatewayRegistry(&fakeGateway{}, &fakeGateway{})
	require.Error(t, err)
}
