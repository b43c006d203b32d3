// Package sweeper marks past-due pending charges OVERDUE on a schedule and
// emits payment.overdue events for each transition it wins.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence"
	"github.com/clinicore/automation/pkg/webhook"
)

// DefaultSchedule runs hourly on the hour.
const DefaultSchedule = "0 * * * *"

type Sweeper struct {
	persistence persistence.Persistence
	emitter     webhook.EventEmitter
	schedule    string
	cron        *cron.Cron
	logger      *slog.Logger
	now         func() time.Time
}

func NewSweeper(
	p persistence.Persistence,
	emitter webhook.EventEmitter,
	schedule string,
	logger *slog.Logger,
) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule '%s': %w", schedule, err)
	}

	return &Sweeper{
		persistence: p,
		emitter:     emitter,
		schedule:    schedule,
		logger:      logger.With("module", "sweeper"),
		now:         time.Now,
	}, nil
}

// Start schedules sweeps until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()

	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.Sweep(ctx); err != nil {
			s.logger.Error("Sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Sweeper started", "schedule", s.schedule)

	<-ctx.Done()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	return nil
}

// Sweep runs one pass. Each candidate moves PENDING to OVERDUE through the
// same compare-and-swap the webhook path uses, so a payment landing mid-sweep
// wins and the charge is left alone.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.now().UTC().Truncate(24 * time.Hour)

	candidates, err := s.persistence.Charges().OverdueCandidates(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list overdue candidates: %w", err)
	}

	if len(candidates) == 0 {
		s.logger.Debug("No overdue candidates")

		return nil
	}

	s.logger.Info("Sweeping overdue charges", "candidates", len(candidates))

	var swept, lost int

	for _, charge := range candidates {
		err := s.persistence.Charges().UpdateChargeStatus(ctx, charge.ID, models.ChargePending, models.ChargeOverdue)
		if err != nil {
			if errors.Is(err, persistence.ErrChargeConflict) {
				lost++

				continue
			}

			s.logger.Error("Failed to mark charge overdue", "charge_id", charge.ID, "error", err)

			continue
		}

		swept++

		s.emitOverdue(ctx, charge)
	}

	s.logger.Info("Sweep finished", "swept", swept, "conflicts", lost)

	return nil
}

func (s *Sweeper) emitOverdue(ctx context.Context, charge *models.PaymentCharge) {
	if s.emitter == nil {
		return
	}

	event := &models.DomainEvent{
		ID:         uuid.New().String(),
		TenantID:   charge.TenantID,
		EventType:  models.EventPaymentOverdue,
		EntityType: "payment_charge",
		EntityID:   charge.ID,
		Payload: map[string]any{
			"charge": map[string]any{
				"id":                 charge.ID,
				"gateway":            charge.Gateway,
				"billing_type":       charge.BillingType,
				"external_reference": charge.ExternalReference,
				"amount_cents":       charge.AmountCents,
			},
		},
		CreatedAt: time.Now().UTC(),
	}

	if charge.DueDate != nil {
		event.Payload["due_date"] = charge.DueDate.UTC().Format(time.RFC3339)
	}

	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.Error("Failed to emit overdue event", "charge_id", charge.ID, "error", err)
	}
}
