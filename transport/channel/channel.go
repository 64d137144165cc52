// Package channel provides an in-memory Go channel transport for the bridge.
// It lets tests and single-process demos publish triggers without a broker.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/funcflow/transport"
)

const (
	// TransportName is the name used to register this transport.
	TransportName = "channel"
	// OutputBuffer absorbs bursts from in-process producers while the bridge
	// works through one invocation at a time.
	OutputBuffer = 64
)

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	transport.Register(TransportName, Build)
}

// Build creates a new Go channel transport. It is persistent: the bridge
// subscribes from its own goroutine, and triggers published before that are
// replayed to it instead of being dropped.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{
		OutputChannelBuffer: OutputBuffer,
		Persistent:          true,
	}, logger)
	logger.Debug("Channel bridge transport ready", watermill.LogFields{"buffer": OutputBuffer})
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}
