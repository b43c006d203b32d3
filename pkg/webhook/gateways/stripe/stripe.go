// Package stripe adapts Stripe payment webhooks. Stripe signs deliveries
// with an HMAC-SHA256 over "{timestamp}.{body}" carried in the
// Stripe-Signature header.
package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clinicore/automation/pkg/webhook"
)

const (
	signatureHeader = "Stripe-Signature"

	// defaultTolerance bounds how stale a signed timestamp may be, limiting
	// replay of captured deliveries.
	defaultTolerance = 5 * time.Minute
)

var eventNames = map[string]webhook.CanonicalEvent{
	"payment_intent.created":    webhook.EventCreated,
	"payment_intent.processing": webhook.EventReceived,
	"payment_intent.succeeded":  webhook.EventConfirmed,
	"charge.refund.updated":     webhook.EventRefundRequested,
	"charge.refunded":           webhook.EventRefunded,
	"charge.dispute.created":    webhook.EventChargebackRequested,
}

type Gateway struct {
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

func NewGateway(webhookSecret string) (*Gateway, error) {
	if strings.TrimSpace(webhookSecret) == "" {
		return nil, fmt.Errorf("stripe gateway requires a webhook secret")
	}

	return &Gateway{
		webhookSecret: webhookSecret,
		tolerance:     defaultTolerance,
		now:           time.Now,
	}, nil
}

func (g *Gateway) Name() string {
	return "stripe"
}

func (g *Gateway) Verify(payload []byte, headers http.Header) error {
	header := strings.TrimSpace(headers.Get(signatureHeader))
	if header == "" {
		return fmt.Errorf("missing %s header", signatureHeader)
	}

	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	issued := time.Unix(timestamp, 0)
	if g.now().Sub(issued) > g.tolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return fmt.Errorf("no matching v1 signature")
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var (
		timestamp  int64
		signatures []string
	)

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}

		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid signature timestamp: %w", err)
			}

			timestamp = parsed
		case "v1":
			signatures = append(signatures, value)
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("signature header missing t or v1 parts")
	}

	return timestamp, signatures, nil
}

type event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID      string `json:"id"`
			Amount  int64  `json:"amount"`
			Created int64  `json:"created"`
		} `json:"object"`
	} `json:"data"`
}

func (g *Gateway) Parse(body []byte) (*webhook.Notification, error) {
	var e event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("invalid stripe payload: %w", err)
	}

	if e.ID == "" || e.Data.Object.ID == "" {
		return nil, fmt.Errorf("stripe payload missing event or object id")
	}

	canonical, ok := eventNames[e.Type]
	if !ok {
		return nil, webhook.ErrEventIgnored
	}

	notification := &webhook.Notification{
		GatewayEventID:    e.ID,
		ExternalReference: e.Data.Object.ID,
		Event:             canonical,
		AmountCents:       e.Data.Object.Amount,
	}

	if canonical == webhook.EventConfirmed && e.Data.Object.Created > 0 {
		paidAt := time.Unix(e.Data.Object.Created, 0).UTC()
		notification.PaidAt = &paidAt
	}

	return notification, nil
}
