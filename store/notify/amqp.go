package notify

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// NewAMQPPubSub builds the amqp-backed publisher/subscriber pair for the
// actor_state_changes channel. Each replica gets its own queue bound to the
// shared fan-out exchange, so every replica observes every notification.
func NewAMQPPubSub(url, replicaSuffix string, logger *slog.Logger) (message.Publisher, message.Subscriber, error) {
	wmLogger := watermill.NewSlogLogger(logger)
	cfg := amqp.NewDurablePubSubConfig(url,
		amqp.GenerateQueueNameTopicNameWithSuffix(replicaSuffix))

	pub, err := amqp.NewPublisher(cfg, wmLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("actorbridge: notify: amqp publisher: %w", err)
	}
	sub, err := amqp.NewSubscriber(cfg, wmLogger)
	if err != nil {
		pub.Close()
		return nil, nil, fmt.Errorf("actorbridge: notify: amqp subscriber: %w", err)
	}
	return pub, sub, nil
}

// NewInProcessPubSub builds the gochannel-backed pair used by
// single-replica deployments and tests: notifications still flow through
// the same Topic, just without a broker.
func NewInProcessPubSub(logger *slog.Logger) (message.Publisher, message.Subscriber) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(logger))
	return ps, ps
}
