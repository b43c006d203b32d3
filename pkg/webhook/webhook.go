// Package webhook turns at-least-once, unordered payment gateway deliveries
// into single charge state transitions and, on the first entry into a paid
// status, exactly one payment.confirmed domain event.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/otelhelper"
	"github.com/clinicore/automation/pkg/persistence"
	"github.com/clinicore/automation/pkg/webhook/dedup"
)

// EventEmitter hands the canonical domain event to the automation core. The
// dispatcher satisfies this.
type EventEmitter interface {
	Emit(ctx context.Context, event *models.DomainEvent) error
}

// IngestResult reports what one delivery did. The handler returns 200 for
// every outcome except authentication failure; gateways retry-storm on
// anything else.
type IngestResult struct {
	Gateway        string              `json:"gateway"`
	GatewayEventID string              `json:"gateway_event_id"`
	ChargeID       string              `json:"charge_id,omitempty"`
	FromStatus     models.ChargeStatus `json:"from_status,omitempty"`
	ToStatus       models.ChargeStatus `json:"to_status,omitempty"`
	Duplicate      bool                `json:"duplicate,omitempty"`
	Orphaned       bool                `json:"orphaned,omitempty"`
	Ignored        bool                `json:"ignored,omitempty"`
	EventEmitted   bool                `json:"event_emitted,omitempty"`
}

type eventHandler func(ctx context.Context, s *Service, charge *models.PaymentCharge, n *Notification, result *IngestResult, logger *slog.Logger) error

// Service ingests gateway webhooks. The handler table maps every canonical
// event to its effect; NewService refuses tables that do not cover the whole
// vocabulary so a missing mapping fails at startup, not on a live delivery.
type Service struct {
	registry    *Registry
	persistence persistence.Persistence
	dedup       dedup.Store
	emitter     EventEmitter
	handlers    map[CanonicalEvent]eventHandler
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewService(
	registry *Registry,
	p persistence.Persistence,
	store dedup.Store,
	emitter EventEmitter,
	logger *slog.Logger,
) (*Service, error) {
	s := &Service{
		registry:    registry,
		persistence: p,
		dedup:       store,
		emitter:     emitter,
		logger:      logger.With("module", "webhook"),
		tracer:      otel.Tracer("webhook"),
	}

	s.handlers = map[CanonicalEvent]eventHandler{
		EventCreated:             acknowledge,
		EventUpdated:             acknowledge,
		EventReceived:            transitionTo(models.ChargeReceived),
		EventConfirmed:           transitionTo(models.ChargeConfirmed),
		EventOverdue:             transitionTo(models.ChargeOverdue),
		EventRefunded:            transitionTo(models.ChargeRefunded),
		EventRefundRequested:     transitionTo(models.ChargeRefundRequested),
		EventChargebackRequested: transitionTo(models.ChargeChargebackRequested),
	}

	for _, event := range CanonicalEvents() {
		if _, ok := s.handlers[event]; !ok {
			return nil, fmt.Errorf("no handler registered for canonical event '%s'", event)
		}
	}

	return s, nil
}

// Ingest processes one gateway delivery end to end: authenticate, parse,
// deduplicate, transition the charge and emit the downstream event. Nothing
// is persisted when authentication fails.
func (s *Service) Ingest(
	ctx context.Context,
	gatewayName string,
	payload []byte,
	headers http.Header,
) (*IngestResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "ingest",
		otelhelper.GatewayKey.String(gatewayName),
	)
	defer span.End()

	gateway, err := s.registry.Get(gatewayName)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if err := gateway.Verify(payload, headers); err != nil {
		s.logger.Warn("Webhook authentication failed", "gateway", gatewayName, "error", err)
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("%w: %s", ErrAuthentication, err)
	}

	notification, err := gateway.Parse(payload)
	if err != nil {
		if errors.Is(err, ErrEventIgnored) {
			return &IngestResult{Gateway: gateway.Name(), Ignored: true}, nil
		}

		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}

	result := &IngestResult{
		Gateway:        gateway.Name(),
		GatewayEventID: notification.GatewayEventID,
	}

	logger := s.logger.With(
		"gateway", gateway.Name(),
		"gateway_event_id", notification.GatewayEventID,
		"canonical_event", notification.Event,
	)

	err = s.dedup.MarkProcessed(ctx, gateway.Name(), notification.GatewayEventID, string(notification.Event))
	if err != nil {
		if persistence.IsDuplicateWebhookEvent(err) {
			logger.Info("Duplicate webhook delivery, acknowledging without reprocessing")
			result.Duplicate = true

			return result, nil
		}

		otelhelper.SetError(span, err)

		return nil, persistence.NewOpError("ingest", "webhook_event", notification.GatewayEventID, err)
	}

	charge, err := s.persistence.Charges().ChargeByExternalReference(ctx, gateway.Name(), notification.ExternalReference)
	if err != nil {
		if persistence.IsNotFound(err) {
			logger.Warn("Webhook references unknown charge, acknowledging as orphaned",
				"external_reference", notification.ExternalReference)
			result.Orphaned = true

			return result, nil
		}

		s.unmark(ctx, gateway.Name(), notification.GatewayEventID, logger)
		otelhelper.SetError(span, err)

		return nil, persistence.NewOpError("ingest", "charge", notification.ExternalReference, err)
	}

	result.ChargeID = charge.ID
	result.FromStatus = charge.Status
	logger = logger.With("charge_id", charge.ID, "tenant_id", charge.TenantID)

	handler := s.handlers[notification.Event]
	if err := handler(ctx, s, charge, notification, result, logger); err != nil {
		s.unmark(ctx, gateway.Name(), notification.GatewayEventID, logger)
		otelhelper.SetError(span, err)

		return nil, err
	}

	return result, nil
}

// unmark rolls the dedup mark back after a delivery whose effects did not
// persist, so the gateway's retry is processed rather than acknowledged as a
// duplicate. Best effort; a failed rollback only costs one lost retry.
func (s *Service) unmark(ctx context.Context, gateway, gatewayEventID string, logger *slog.Logger) {
	if err := s.dedup.Unmark(ctx, gateway, gatewayEventID); err != nil {
		logger.Error("Failed to roll back webhook dedup mark", "error", err)
	}
}

// acknowledge handles canonical events that carry no status change.
func acknowledge(_ context.Context, _ *Service, _ *models.PaymentCharge, _ *Notification, result *IngestResult, _ *slog.Logger) error {
	result.Ignored = true

	return nil
}

// transitionTo builds a handler that moves the charge into the target status
// through a compare-and-swap, emitting payment.confirmed on the first entry
// into a paid status.
func transitionTo(target models.ChargeStatus) eventHandler {
	return func(ctx context.Context, s *Service, charge *models.PaymentCharge, n *Notification, result *IngestResult, logger *slog.Logger) error {
		if charge.Status == target {
			logger.Info("Charge already in target status, nothing to do", "status", target)
			result.ToStatus = target
			result.Ignored = true

			return nil
		}

		if !charge.Status.CanTransition(target) {
			logger.Warn("Rejected invalid charge transition",
				"from", charge.Status, "to", target)
			result.Ignored = true

			return nil
		}

		err := s.persistence.Charges().UpdateChargeStatus(ctx, charge.ID, charge.Status, target)
		if err != nil {
			if errors.Is(err, persistence.ErrChargeConflict) {
				logger.Warn("Concurrent delivery already transitioned the charge", "to", target)
				result.Ignored = true

				return nil
			}

			return persistence.NewOpError("ingest", "charge", charge.ID, err)
		}

		result.ToStatus = target
		logger.Info("Applied charge transition", "from", charge.Status, "to", target)

		wasPaid := charge.Status.Paid()
		if target.Paid() && !wasPaid {
			return s.emitPaymentConfirmed(ctx, charge, n, result, logger)
		}

		return nil
	}
}

// emitPaymentConfirmed produces the single downstream domain event for a
// newly paid charge. The event ID derives from the gateway delivery, so even
// if dedup state were lost the dispatcher's ledger would reject a second
// emission for the same delivery.
func (s *Service) emitPaymentConfirmed(
	ctx context.Context,
	charge *models.PaymentCharge,
	n *Notification,
	result *IngestResult,
	logger *slog.Logger,
) error {
	if s.emitter == nil {
		return nil
	}

	payload := map[string]any{
		"charge": map[string]any{
			"id":                 charge.ID,
			"gateway":            charge.Gateway,
			"billing_type":       charge.BillingType,
			"external_reference": charge.ExternalReference,
			"amount_cents":       charge.AmountCents,
		},
	}

	if n.PaidAt != nil {
		payload["paid_at"] = n.PaidAt.UTC().Format(time.RFC3339)
	}

	event := &models.DomainEvent{
		ID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte(charge.Gateway+"/"+n.GatewayEventID)).String(),
		TenantID:   charge.TenantID,
		EventType:  models.EventPaymentConfirmed,
		EntityType: "payment_charge",
		EntityID:   charge.ID,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.emitter.Emit(ctx, event); err != nil {
		logger.Error("Failed to emit payment confirmation event", "error", err)

		return fmt.Errorf("failed to emit payment event: %w", err)
	}

	result.EventEmitted = true
	logger.Info("Emitted payment confirmation event", "event_id", event.ID)

	return nil
}
