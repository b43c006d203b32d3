package sweeper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence/memory"
)

var fixedNow = time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureEmitter struct {
	events []*models.DomainEvent
}

func (e *captureEmitter) Emit(_ context.Context, event *models.DomainEvent) error {
	e.events = append(e.events, event)

	return nil
}

func newTestSweeper(t *testing.T) (*Sweeper, *memory.Persistence, *captureEmitter) {
	t.Helper()

	p := memory.NewPersistence()
	emitter := &captureEmitter{}

	sweep, err := NewSweeper(p, emitter, DefaultSchedule, testLogger())
	require.NoError(t, err)

	sweep.now = func() time.Time { return fixedNow }

	return sweep, p, emitter
}

func seedCharge(t *testing.T, p *memory.Persistence, id string, status models.ChargeStatus, due time.Time) {
	t.Helper()

	charge := &models.PaymentCharge{
		ID:                id,
		TenantID:          "clinic-1",
		Gateway:           "asaas",
		BillingType:       "BOLETO",
		Status:            status,
		ExternalReference: "pay_" + id,
		AmountCents:       15000,
		DueDate:           &due,
	}
	require.NoError(t, p.Charges().SaveCharge(context.Background(), charge))
}

func TestNewSweeper_RejectsBadSchedule(t *testing.T) {
	_, err := NewSweeper(memory.NewPersistence(), nil, "every full moon", testLogger())
	require.Error(t, err)
}

func TestNewSweeper_DefaultsSchedule(t *testing.T) {
	sweep, err := NewSweeper(memory.NewPersistence(), nil, "", testLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule, sweep.schedule)
}

func TestSweep_MarksPastDuePendingCharges(t *testing.T) {
	sweep, p, emitter := newTestSweeper(t)

	pastDue := fixedNow.AddDate(0, 0, -5)
	seedCharge(t, p, "late", models.ChargePending, pastDue)
	seedCharge(t, p, "paid", models.ChargeConfirmed, pastDue)
	seedCharge(t, p, "current", models.ChargePending, fixedNow.AddDate(0, 0, 3))

	require.NoError(t, sweep.Sweep(context.Background()))

	late, err := p.Charges().ChargeByID(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, models.ChargeOverdue, late.Status)

	current, err := p.Charges().ChargeByID(context.Background(), "current")
	require.NoError(t, err)
	assert.Equal(t, models.ChargePending, current.Status)

	paid, err := p.Charges().ChargeByID(context.Background(), "paid")
	require.NoError(t, err)
	assert.Equal(t, models.ChargeConfirmed, paid.Status)

	require.Len(t, emitter.events, 1)
	event := emitter.events[0]
	assert.Equal(t, models.EventPaymentOverdue, event.EventType)
	assert.Equal(t, "late", event.EntityID)
	assert.Equal(t, "clinic-1", event.TenantID)
	assert.Equal(t, pastDue.Format(time.RFC3339), event.Payload["due_date"])
}

func TestSweep_DueTodayIsNotOverdue(t *testing.T) {
	sweep, p, emitter := newTestSweeper(t)

	// Due date falls on the sweep day; the grace period runs to midnight.
	today := fixedNow.Truncate(24 * time.Hour).Add(2 * time.Hour)
	seedCharge(t, p, "today", models.ChargePending, today)

	require.NoError(t, sweep.Sweep(context.Background()))

	charge, err := p.Charges().ChargeByID(context.Background(), "today")
	require.NoError(t, err)
	assert.Equal(t, models.ChargePending, charge.Status)
	assert.Empty(t, emitter.events)
}

func TestSweep_EmptyLedgerIsNoOp(t *testing.T) {
	sweep, _, emitter := newTestSweeper(t)

	require.NoError(t, sweep.Sweep(context.Background()))
	assert.Empty(t, emitter.events)
}

func TestSweep_SecondPassIsIdempotent(t *testing.T) {
	sweep, p, emitter := newTestSweeper(t)

	seedCharge(t, p, "late", models.ChargePending, fixedNow.AddDate(0, 0, -5))

	require.NoError(t, sweep.Sweep(context.Background()))
	require.NoError(t, sweep.Sweep(context.Background()))

	charge, err := p.Charges().ChargeByID(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, models.ChargeOverdue, charge.Status)
	assert.Len(t, emitter.events, 1)
}
