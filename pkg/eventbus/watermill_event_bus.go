package eventbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/clinicore/automation/pkg/events"
)

// WatermillEventBus routes typed events over any watermill publisher and
// subscriber pair (kafka in production, gochannel in tests).
type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	topic         string
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, topic string) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		topic:         topic,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(_ context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(eb.topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, eb.topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			handler, exists := eb.subscriptions[eventType]
			if !exists {
				msg.Ack()

				continue
			}

			event := newEventEnvelope(eventType)
			if event == nil {
				msg.Nack()

				continue
			}

			if err := json.Unmarshal(msg.Payload, event); err != nil {
				msg.Nack()

				continue
			}

			if err := handler(ctx, event); err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	if err := eb.publisher.Close(); err != nil {
		return err
	}

	return eb.subscriber.Close()
}

// newEventEnvelope maps an event type to an empty struct for unmarshaling.
func newEventEnvelope(eventType events.EventType) any {
	switch eventType {
	case events.DomainEventReceivedType:
		return &events.DomainEventReceived{}
	case events.EventDispatchedType:
		return &events.EventDispatched{}
	case events.WorkflowExecutionDoneType:
		return &events.WorkflowExecutionDone{}
	case events.WorkflowExecutionFailedType:
		return &events.WorkflowExecutionFailed{}
	default:
		return nil
	}
}
