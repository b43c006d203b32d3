// Package dedup provides delivery idempotency for payment webhooks. A
// delivery is identified by (gateway, gateway event ID); marking the same
// pair twice reports a duplicate.
package dedup

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence"
)

// Store marks deliveries as processed. Implementations must make the
// check-and-mark atomic; returning persistence.ErrDuplicateWebhookEvent
// signals the delivery was already handled. Unmark compensates a mark whose
// downstream effects failed, so the gateway's retry is processed instead of
// swallowed as a duplicate.
type Store interface {
	MarkProcessed(ctx context.Context, gateway, gatewayEventID, outcome string) error
	Unmark(ctx context.Context, gateway, gatewayEventID string) error
}

// LedgerStore backs deduplication with the webhook_events table, relying on
// its unique (gateway, gateway_event_id) index.
type LedgerStore struct {
	events persistence.WebhookEventRepository
}

func NewLedgerStore(events persistence.WebhookEventRepository) *LedgerStore {
	return &LedgerStore{events: events}
}

func (s *LedgerStore) MarkProcessed(ctx context.Context, gateway, gatewayEventID, outcome string) error {
	return s.events.MarkProcessed(ctx, &models.WebhookEvent{
		ID:             uuid.New().String(),
		Gateway:        gateway,
		GatewayEventID: gatewayEventID,
		Outcome:        outcome,
		ReceivedAt:     time.Now().UTC(),
	})
}

func (s *LedgerStore) Unmark(ctx context.Context, gateway, gatewayEventID string) error {
	return s.events.DeleteWebhookEvent(ctx, gateway, gatewayEventID)
}
