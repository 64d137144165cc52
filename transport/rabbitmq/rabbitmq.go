// Package rabbitmq provides a RabbitMQ/AMQP source for the bridge.
package rabbitmq

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/funcflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// QueueSuffix is appended to the topic to name the bridge's durable queue.
const QueueSuffix = "funcflow"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	transport.Register(TransportName, Build)
}

// Marshaler carries watermill metadata in headers like the default one and
// also fills the native AMQP properties, so consumers outside watermill can
// match a reply to its trigger by CorrelationId.
func Marshaler() amqp.Marshaler {
	return amqp.DefaultMarshaler{PostprocessPublishing: stampProperties}
}

func stampProperties(p amqp091.Publishing) amqp091.Publishing {
	if id, ok := p.Headers[middleware.CorrelationIDMetadataKey].(string); ok {
		p.CorrelationId = id
	}
	if p.ContentType == "" {
		p.ContentType = "application/octet-stream"
	}
	return p
}

// Build creates a new RabbitMQ transport sharing one reconnecting connection.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, fmt.Errorf("rabbitmq: URL is required")
	}

	amqpConfig := amqp.NewDurablePubSubConfig(
		url,
		amqp.GenerateQueueNameTopicNameWithSuffix(QueueSuffix),
	)
	amqpConfig.Marshaler = Marshaler()

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	logger.Info("RabbitMQ bridge transport ready", watermill.LogFields{
		"queue_suffix": QueueSuffix,
	})

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}
