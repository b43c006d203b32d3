package webhook

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrAuthentication means the delivery failed gateway authentication.
	// Handlers map it to 401 so the gateway retries with correct credentials.
	ErrAuthentication = errors.New("webhook authentication failed")

	// ErrMalformedPayload means the body could not be parsed as a payment
	// notification for this gateway.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrEventIgnored means the gateway event type carries no charge status
	// change and is acknowledged without further processing.
	ErrEventIgnored = errors.New("webhook event ignored")

	// ErrUnknownGateway means no adapter is registered under the name.
	ErrUnknownGateway = errors.New("unknown payment gateway")
)

// CanonicalEvent is the gateway-agnostic payment event vocabulary. Adapters
// translate their provider's event names into these.
type CanonicalEvent string

const (
	EventCreated             CanonicalEvent = "created"
	EventUpdated             CanonicalEvent = "updated"
	EventReceived            CanonicalEvent = "received"
	EventConfirmed           CanonicalEvent = "confirmed"
	EventOverdue             CanonicalEvent = "overdue"
	EventRefunded            CanonicalEvent = "refunded"
	EventRefundRequested     CanonicalEvent = "refund_requested"
	EventChargebackRequested CanonicalEvent = "chargeback_requested"
)

// CanonicalEvents enumerates the full vocabulary. The ingest service checks
// its handler table against this list at startup.
func CanonicalEvents() []CanonicalEvent {
	return []CanonicalEvent{
		EventCreated, EventUpdated, EventReceived, EventConfirmed,
		EventOverdue, EventRefunded, EventRefundRequested, EventChargebackRequested,
	}
}

// Notification is the gateway-agnostic content of one payment delivery.
type Notification struct {
	GatewayEventID    string
	ExternalReference string
	Event             CanonicalEvent
	PaidAt            *time.Time
	AmountCents       int64
}

// Gateway adapts one payment provider's webhook dialect: its authentication
// scheme and its payload shape.
type Gateway interface {
	Name() string

	// Verify authenticates the delivery before the body is trusted.
	Verify(payload []byte, headers http.Header) error

	// Parse maps the provider payload to a Notification. Event types that
	// carry no charge status change return ErrEventIgnored.
	Parse(payload []byte) (*Notification, error)
}

// Registry holds the configured gateway adapters, keyed by lowercase name.
type Registry struct {
	gateways map[string]Gateway
}

// NewGatewayRegistry validates and indexes the adapters. Duplicate or empty
// names fail construction so misconfiguration surfaces at startup.
func NewGatewayRegistry(gateways ...Gateway) (*Registry, error) {
	registry := &Registry{gateways: make(map[string]Gateway, len(gateways))}

	for _, gateway := range gateways {
		name := strings.ToLower(strings.TrimSpace(gateway.Name()))
		if name == "" {
			return nil, fmt.Errorf("gateway adapter with empty name")
		}

		if _, exists := registry.gateways[name]; exists {
			return nil, fmt.Errorf("duplicate gateway adapter '%s'", name)
		}

		registry.gateways[name] = gateway
	}

	return registry, nil
}

func (r *Registry) Get(name string) (Gateway, error) {
	gateway, ok := r.gateways[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownGateway, name)
	}

	return gateway, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}

	return names
}
