package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/clinicore/automation/pkg/channels/gochannel"
	"github.com/clinicore/automation/pkg/channels/kafka"
	"github.com/clinicore/automation/pkg/eventbus"
)

// NewEventBus creates an event bus bound to one topic. Domain events flow on
// events.DomainTopic; dispatch lifecycle notifications on
// events.AutomationTopic.
func NewEventBus(provider, serviceName, topic string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, topic), nil
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gochannel pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, topic), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider '%s'", provider)
	}
}
