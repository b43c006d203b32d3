// Package kafka provides the Kafka channel implementation for the event bus.
package kafka

import (
	"errors"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
)

// BrokersFromEnv reads the broker list from KAFKA_BROKERS. An empty or unset
// variable is an error; a misconfigured worker must fail at startup, not sit
// connected to nothing.
func BrokersFromEnv() ([]string, error) {
	raw := strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))
	if raw == "" {
		return nil, errors.New("KAFKA_BROKERS environment variable is not set or empty")
	}

	brokers := strings.Split(raw, ",")
	for i, b := range brokers {
		brokers[i] = strings.TrimSpace(b)
	}

	return brokers, nil
}

// CreateChannel builds an OTEL-instrumented Kafka publisher and subscriber
// pair. Each service gets its own consumer group so automation services can
// scale horizontally without stealing each other's partitions.
func CreateChannel(logger watermill.LoggerAdapter, serviceName string) (*kafka.Publisher, *kafka.Subscriber, error) {
	brokers, err := BrokersFromEnv()
	if err != nil {
		return nil, nil, err
	}

	subscriberConfig := kafka.DefaultSaramaSubscriberConfig()
	// New consumer groups start from the oldest offset so a freshly deployed
	// worker picks up domain events published before it joined.
	subscriberConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: subscriberConfig,
			ConsumerGroup:         "automation-" + serviceName,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	publisherConfig := sarama.NewConfig()
	publisherConfig.Producer.Return.Successes = true

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: publisherConfig,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	return publisher, subscriber, nil
}
