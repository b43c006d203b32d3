// Package asaas adapts Asaas payment webhooks. Asaas authenticates with a
// shared access token header and names events PAYMENT_*.
package asaas

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/clinicore/automation/pkg/webhook"
)

const accessTokenHeader = "Asaas-Access-Token"

var eventNames = map[string]webhook.CanonicalEvent{
	"PAYMENT_CREATED":              webhook.EventCreated,
	"PAYMENT_UPDATED":              webhook.EventUpdated,
	"PAYMENT_RECEIVED":             webhook.EventReceived,
	"PAYMENT_CONFIRMED":            webhook.EventConfirmed,
	"PAYMENT_OVERDUE":              webhook.EventOverdue,
	"PAYMENT_REFUNDED":             webhook.EventRefunded,
	"PAYMENT_REFUND_IN_PROGRESS":   webhook.EventRefundRequested,
	"PAYMENT_CHARGEBACK_REQUESTED": webhook.EventChargebackRequested,
}

type Gateway struct {
	accessToken string
}

func NewGateway(accessToken string) (*Gateway, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("asaas gateway requires an access token")
	}

	return &Gateway{accessToken: accessToken}, nil
}

func (g *Gateway) Name() string {
	return "asaas"
}

func (g *Gateway) Verify(_ []byte, headers http.Header) error {
	token := headers.Get(accessTokenHeader)
	if token == "" {
		return fmt.Errorf("missing %s header", accessTokenHeader)
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(g.accessToken)) != 1 {
		return fmt.Errorf("access token mismatch")
	}

	return nil
}

type payload struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payment struct {
		ID          string  `json:"id"`
		Value       float64 `json:"value"`
		PaymentDate string  `json:"paymentDate"`
	} `json:"payment"`
}

func (g *Gateway) Parse(body []byte) (*webhook.Notification, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("invalid asaas payload: %w", err)
	}

	if p.ID == "" || p.Payment.ID == "" {
		return nil, fmt.Errorf("asaas payload missing event or payment id")
	}

	event, ok := eventNames[p.Event]
	if !ok {
		return nil, webhook.ErrEventIgnored
	}

	notification := &webhook.Notification{
		GatewayEventID:    p.ID,
		ExternalReference: p.Payment.ID,
		Event:             event,
		AmountCents:       int64(math.Round(p.Payment.Value * 100)),
	}

	// Asaas sends payment dates as bare calendar days.
	if p.Payment.PaymentDate != "" {
		if paidAt, err := time.Parse("2006-01-02", p.Payment.PaymentDate); err == nil {
			notification.PaidAt = &paidAt
		}
	}

	return notification, nil
}
