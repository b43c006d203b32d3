package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/persistence"
)

// ChargeRepository exposes the payment charge contract the webhook adapter
// and the overdue sweeper consume.
type ChargeRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const selectChargeColumns = `
	SELECT
		id
	  , tenant_id
	  , gateway
	  , billing_type
	  , status
	  , external_reference
	  , amount_cents
	  , due_date
	  , metadata
	  , created_at
	  , updated_at
	FROM payment_charges
`

func (r *ChargeRepository) SaveCharge(ctx context.Context, charge *models.PaymentCharge) error {
	metadata, err := json.Marshal(charge.Metadata)
	if err != nil {
		return persistence.NewOpError("SaveCharge", "charge", charge.ID, err)
	}

	now := time.Now().UTC()
	if charge.CreatedAt.IsZero() {
		charge.CreatedAt = now
	}

	charge.UpdatedAt = now

	query := `
		INSERT INTO payment_charges (
			id, tenant_id, gateway, billing_type, status, external_reference,
			amount_cents, due_date, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			billing_type = EXCLUDED.billing_type
		  , status = EXCLUDED.status
		  , amount_cents = EXCLUDED.amount_cents
		  , due_date = EXCLUDED.due_date
		  , metadata = EXCLUDED.metadata
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		charge.ID, charge.TenantID, charge.Gateway, charge.BillingType, charge.Status,
		charge.ExternalReference, charge.AmountCents, charge.DueDate, metadata,
		charge.CreatedAt, charge.UpdatedAt,
	)
	if err != nil {
		return persistence.NewOpError("SaveCharge", "charge", charge.ID, err)
	}

	return nil
}

func (r *ChargeRepository) ChargeByID(ctx context.Context, id string) (*models.PaymentCharge, error) {
	query := selectChargeColumns + ` WHERE id = $1`

	charge, err := scanCharge(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewOpError("ChargeByID", "charge", id, persistence.ErrChargeNotFound)
		}

		return nil, persistence.NewOpError("ChargeByID", "charge", id, err)
	}

	return charge, nil
}

func (r *ChargeRepository) ChargeByExternalReference(ctx context.Context, gateway, externalReference string) (*models.PaymentCharge, error) {
	query := selectChargeColumns + ` WHERE gateway = $1 AND external_reference = $2`

	charge, err := scanCharge(r.db.QueryRowContext(ctx, query, gateway, externalReference))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewOpError("ChargeByExternalReference", "charge", externalReference, persistence.ErrChargeNotFound)
		}

		return nil, persistence.NewOpError("ChargeByExternalReference", "charge", externalReference, err)
	}

	return charge, nil
}

func (r *ChargeRepository) UpdateChargeStatus(ctx context.Context, id string, from, to models.ChargeStatus) error {
	// Compare-and-swap: the WHERE clause makes two concurrent deliveries of
	// the same transition race safely, with the loser seeing a conflict.
	query := `
		UPDATE payment_charges
		SET status = $3
		  , updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return persistence.NewOpError("UpdateChargeStatus", "charge", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewOpError("UpdateChargeStatus", "charge", id, err)
	}

	if affected == 0 {
		return persistence.NewOpError("UpdateChargeStatus", "charge", id, persistence.ErrChargeConflict)
	}

	return nil
}

func (r *ChargeRepository) OverdueCandidates(ctx context.Context, cutoff time.Time) ([]*models.PaymentCharge, error) {
	query := selectChargeColumns + `
		WHERE status = $1 AND due_date IS NOT NULL AND due_date < $2
		ORDER BY due_date
	`

	rows, err := r.db.QueryContext(ctx, query, models.ChargePending, cutoff)
	if err != nil {
		return nil, persistence.NewOpError("OverdueCandidates", "charge", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	charges := make([]*models.PaymentCharge, 0)

	for rows.Next() {
		charge, err := scanCharge(rows)
		if err != nil {
			return nil, persistence.NewOpError("OverdueCandidates", "charge", "", err)
		}

		charges = append(charges, charge)
	}

	if err = rows.Err(); err != nil {
		return nil, persistence.NewOpError("OverdueCandidates", "charge", "", err)
	}

	return charges, nil
}

func scanCharge(row rowScanner) (*models.PaymentCharge, error) {
	var (
		charge      models.PaymentCharge
		billingType sql.NullString
		dueDate     sql.NullTime
		metadata    []byte
	)

	err := row.Scan(
		&charge.ID, &charge.TenantID, &charge.Gateway, &billingType, &charge.Status,
		&charge.ExternalReference, &charge.AmountCents, &dueDate, &metadata,
		&charge.CreatedAt, &charge.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	charge.BillingType = billingType.String

	if dueDate.Valid {
		charge.DueDate = &dueDate.Time
	}

	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &charge.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal charge metadata: %w", err)
		}
	}

	return &charge, nil
}

// WebhookEventRepository is the gateway-delivery idempotency ledger.
type WebhookEventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, event *models.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (id, gateway, gateway_event_id, outcome, received_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.Gateway, event.GatewayEventID, event.Outcome, event.ReceivedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return persistence.NewOpError("MarkProcessed", "webhook_event", event.GatewayEventID, persistence.ErrDuplicateWebhookEvent)
		}

		return persistence.NewOpError("MarkProcessed", "webhook_event", event.GatewayEventID, err)
	}

	return nil
}

func (r *WebhookEventRepository) DeleteWebhookEvent(ctx context.Context, gateway, gatewayEventID string) error {
	query := `DELETE FROM webhook_events WHERE gateway = $1 AND gateway_event_id = $2`

	if _, err := r.db.ExecContext(ctx, query, gateway, gatewayEventID); err != nil {
		return persistence.NewOpError("DeleteWebhookEvent", "webhook_event", gatewayEventID, err)
	}

	return nil
}
