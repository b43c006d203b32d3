package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/automation/pkg/webhook"
)

const testSecret = "whsec_test_123"

var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newGateway(t *testing.T) *Gateway {
	t.Helper()

	gateway, err := NewGateway(testSecret)
	require.NoError(t, err)

	gateway.now = func() time.Time { return fixedNow }

	return gateway
}

func sign(t *testing.T, secret string, timestamp int64, payload []byte) string {
	t.Helper()

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)

	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func signedHeaders(t *testing.T, payload []byte) http.Header {
	t.Helper()

	headers := http.Header{}
	headers.Set("Stripe-Signature", sign(t, testSecret, fixedNow.Unix(), payload))

	return headers
}

func TestNewGateway_RequiresSecret(t *testing.T) {
	_, err := NewGateway("")
	require.Error(t, err)
}

func TestVerify_ValidSignature(t *testing.T) {
	payload := []byte(`{"id": "evt_1"}`)

	err := newGateway(t).Verify(payload, signedHeaders(t, payload))
	assert.NoError(t, err)
}

func TestVerify_WrongSecret(t *testing.T) {
	payload := []byte(`{"id": "evt_1"}`)

	headers := http.Header{}
	headers.Set("Stripe-Signature", sign(t, "whsec_other", fixedNow.Unix(), payload))

	err := newGateway(t).Verify(payload, headers)
	assert.Error(t, err)
}

func TestVerify_TamperedPayload(t *testing.T) {
	payload := []byte(`{"id": "evt_1"}`)
	headers := signedHeaders(t, payload)

	err := newGateway(t).Verify([]byte(`{"id": "evt_2"}`), headers)
	assert.Error(t, err)
}

func TestVerify_StaleTimestamp(t *testing.T) {
	payload := []byte(`{"id": "evt_1"}`)
	stale := fixedNow.Add(-10 * time.Minute).Unix()

	headers := http.Header{}
	headers.Set("Stripe-Signature", sign(t, testSecret, stale, payload))

	err := newGateway(t).Verify(payload, headers)
	assert.ErrorContains(t, err, "tolerance")
}

func TestVerify_MultipleSignatures(t *testing.T) {
	// During secret rotation Stripe sends one v1 per active secret; any
	// match passes.
	payload := []byte(`{"id": "evt_1"}`)
	timestamp := fixedNow.Unix()

	valid := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(valid, "%d.%s", timestamp, payload)

	rotated := hmac.New(sha256.New, []byte("whsec_old"))
	fmt.Fprintf(rotated, "%d.%s", timestamp, payload)

	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s,v1=%s",
		timestamp, hex.EncodeToString(rotated.Sum(nil)), hex.EncodeToString(valid.Sum(nil))))

	err := newGateway(t).Verify(payload, headers)
	assert.NoError(t, err)
}

func TestVerify_MissingOrBrokenHeader(t *testing.T) {
	gateway := newGateway(t)
	payload := []byte(`{}`)

	assert.Error(t, gateway.Verify(payload, http.Header{}))

	headers := http.Header{}
	headers.Set("Stripe-Signature", "v1=deadbeef")
	assert.Error(t, gateway.Verify(payload, headers))

	headers.Set("Stripe-Signature", "t=notanumber,v1=deadbeef")
	assert.Error(t, gateway.Verify(payload, headers))
}

func TestParse_PaymentIntentSucceeded(t *testing.T) {
	body := []byte(`{
		"id": "evt_3MqqhKLt4dXK03v5",
		"type": "payment_intent.succeeded",
		"data": {
			"object": {
				"id": "pi_3MqqhKLt4dXK03v5",
				"amount": 14990,
				"created": 1773576000
			}
		}
	}`)

	notification, err := newGateway(t).Parse(body)
	require.NoError(t, err)

	assert.Equal(t, "evt_3MqqhKLt4dXK03v5", notification.GatewayEventID)
	assert.Equal(t, "pi_3MqqhKLt4dXK03v5", notification.ExternalReference)
	assert.Equal(t, webhook.EventConfirmed, notification.Event)
	assert.Equal(t, int64(14990), notification.AmountCents)
	require.NotNil(t, notification.PaidAt)
	assert.Equal(t, time.Unix(1773576000, 0).UTC(), *notification.PaidAt)
}

func TestParse_EventTypeMapping(t *testing.T) {
	tests := []struct {
		eventType string
		want      webhook.CanonicalEvent
	}{
		{"payment_intent.created", webhook.EventCreated},
		{"payment_intent.processing", webhook.EventReceived},
		{"payment_intent.succeeded", webhook.EventConfirmed},
		{"charge.refund.updated", webhook.EventRefundRequested},
		{"charge.refunded", webhook.EventRefunded},
		{"charge.dispute.created", webhook.EventChargebackRequested},
	}

	gateway := newGateway(t)

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			body := []byte(`{"id": "evt_1", "type": "` + tt.eventType + `", "data": {"object": {"id": "pi_1"}}}`)

			notification, err := gateway.Parse(body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, notification.Event)
		})
	}
}

func TestParse_NoPaidAtBeforeConfirmation(t *testing.T) {
	body := []byte(`{"id": "evt_1", "type": "payment_intent.processing", "data": {"object": {"id": "pi_1", "created": 1773576000}}}`)

	notification, err := newGateway(t).Parse(body)
	require.NoError(t, err)
	assert.Nil(t, notification.PaidAt)
}

func TestParse_UnmappedEventIgnored(t *testing.T) {
	body := []byte(`{"id": "evt_1", "type": "customer.created", "data": {"object": {"id": "cus_1"}}}`)

	_, err := newGateway(t).Parse(body)
	require.ErrorIs(t, err, webhook.ErrEventIgnored)
}

func TestParse_Malformed(t *testing.T) {
	gateway := newGateway(t)

	_, err := gateway.Parse([]byte(`not json`))
	assert.Error(t, err)

	_, err = gateway.Parse([]byte(`{"type": "payment_intent.succeeded"}`))
	assert.Error(t, err)
}
