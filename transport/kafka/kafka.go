// Package kafka provides a Kafka source for the bridge.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/drblury/funcflow/transport"
)

const (
	// TransportName is the name used to register this transport.
	TransportName = "kafka"
	// DefaultConsumerGroup is used when BRIDGE_KAFKA_CONSUMER_GROUP is empty.
	DefaultConsumerGroup = "funcflow-bridge"
	// ClientID identifies the bridge in broker logs and quotas.
	ClientID = "funcflow-bridge"
	// NackResendSleep spaces out redeliveries of triggers the local server
	// could not resolve, typically while it shuts down.
	NackResendSleep = 500 * time.Millisecond
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	transport.Register(TransportName, Build)
}

// PartitionKey keys replies by correlation id so every reply for one trigger
// lands on the same partition. Messages without one fall back to their UUID.
func PartitionKey(_ string, msg *message.Message) (string, error) {
	if id := middleware.MessageCorrelationID(msg); id != "" {
		return id, nil
	}
	return msg.UUID, nil
}

func publisherSaramaConfig() *sarama.Config {
	cfg := kafka.DefaultSaramaSyncPublisherConfig()
	cfg.ClientID = ClientID
	return cfg
}

func subscriberSaramaConfig() *sarama.Config {
	cfg := kafka.DefaultSaramaSubscriberConfig()
	cfg.ClientID = ClientID
	// A new consumer group starts at the oldest offset so triggers produced
	// before the local server came up are still invoked.
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	return cfg
}

// Build creates a Kafka transport. Both halves share the partitioning
// marshaler so correlation metadata survives the round trip.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, fmt.Errorf("kafka: at least one broker is required")
	}
	consumerGroup := cfg.GetKafkaConsumerGroup()
	if consumerGroup == "" {
		consumerGroup = DefaultConsumerGroup
	}
	marshaler := kafka.NewWithPartitioningMarshaler(PartitionKey)

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             marshaler,
			OverwriteSaramaConfig: publisherSaramaConfig(),
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           marshaler,
			ConsumerGroup:         consumerGroup,
			OverwriteSaramaConfig: subscriberSaramaConfig(),
			NackResendSleep:       NackResendSleep,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	logger.Info("Kafka bridge transport ready", watermill.LogFields{
		"brokers":        brokers,
		"consumer_group": consumerGroup,
	})

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}
