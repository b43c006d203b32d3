package models

import "time"

// ChargeStatus is the gateway-agnostic status of a payment charge.
type ChargeStatus string

const (
	ChargePending                    ChargeStatus = "PENDING"
	ChargeReceived                   ChargeStatus = "RECEIVED"
	ChargeConfirmed                  ChargeStatus = "CONFIRMED"
	ChargeOverdue                    ChargeStatus = "OVERDUE"
	ChargeRefunded                   ChargeStatus = "REFUNDED"
	ChargeReceivedInCash             ChargeStatus = "RECEIVED_IN_CASH"
	ChargeRefundRequested            ChargeStatus = "REFUND_REQUESTED"
	ChargeChargebackRequested        ChargeStatus = "CHARGEBACK_REQUESTED"
	ChargeChargebackDispute          ChargeStatus = "CHARGEBACK_DISPUTE"
	ChargeAwaitingChargebackReversal ChargeStatus = "AWAITING_CHARGEBACK_REVERSAL"
	ChargeDunningRequested           ChargeStatus = "DUNNING_REQUESTED"
	ChargeDunningReceived            ChargeStatus = "DUNNING_RECEIVED"
	ChargeAwaitingRiskAnalysis       ChargeStatus = "AWAITING_RISK_ANALYSIS"
)

// chargeTransitions is the allowed state diagram. A status absent from the
// map is terminal. Same-status transitions are treated as no-ops by callers,
// not listed here.
var chargeTransitions = map[ChargeStatus][]ChargeStatus{
	ChargePending:                    {ChargeReceived, ChargeConfirmed, ChargeOverdue, ChargeAwaitingRiskAnalysis, ChargeReceivedInCash},
	ChargeAwaitingRiskAnalysis:       {ChargePending, ChargeConfirmed, ChargeReceived},
	ChargeOverdue:                    {ChargeReceived, ChargeConfirmed, ChargeReceivedInCash, ChargeDunningRequested},
	ChargeReceived:                   {ChargeConfirmed, ChargeRefundRequested, ChargeRefunded, ChargeChargebackRequested},
	ChargeConfirmed:                  {ChargeReceived, ChargeRefundRequested, ChargeRefunded, ChargeChargebackRequested},
	ChargeRefundRequested:            {ChargeRefunded, ChargeConfirmed},
	ChargeChargebackRequested:        {ChargeChargebackDispute, ChargeAwaitingChargebackReversal, ChargeRefunded},
	ChargeChargebackDispute:          {ChargeAwaitingChargebackReversal, ChargeConfirmed},
	ChargeAwaitingChargebackReversal: {ChargeConfirmed, ChargeRefunded},
	ChargeDunningRequested:           {ChargeDunningReceived, ChargeReceived, ChargeConfirmed},
}

// CanTransition reports whether a charge may move from one status to another.
func (s ChargeStatus) CanTransition(to ChargeStatus) bool {
	if s == to {
		return true
	}

	for _, allowed := range chargeTransitions[s] {
		if allowed == to {
			return true
		}
	}

	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s ChargeStatus) Terminal() bool {
	return len(chargeTransitions[s]) == 0
}

// Paid reports whether the status represents money actually collected.
func (s ChargeStatus) Paid() bool {
	return s == ChargeConfirmed || s == ChargeReceived
}

// PaymentCharge is the billing record a gateway webhook acts on. The
// automation core consumes it through the persistence contract; it is created
// and owned by the billing module.
type PaymentCharge struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	Gateway           string         `json:"gateway"`
	BillingType       string         `json:"billing_type"`
	Status            ChargeStatus   `json:"status"`
	ExternalReference string         `json:"external_reference"`
	AmountCents       int64          `json:"amount_cents"`
	DueDate           *time.Time     `json:"due_date,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// WebhookEvent is the idempotency ledger row for one gateway delivery.
type WebhookEvent struct {
	ID             string    `json:"id"`
	Gateway        string    `json:"gateway"`
	GatewayEventID string    `json:"gateway_event_id"`
	Outcome        string    `json:"outcome"`
	ReceivedAt     time.Time `json:"received_at"`
}
