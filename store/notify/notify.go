// Package notify implements the store contract's cross-replica
// notification primitive: a watermill-backed publish/
// subscribe channel named "actor_state_changes" that fans a replica's
// successful write out to every other replica, each of which reloads the
// changed actor's state and re-broadcasts to its own local stream
// subscribers. Notifier is a thin interface over a message.Publisher so
// any watermill backend can carry the channel.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/webitel/actorbridge/wire"
)

// Topic is the channel name shared by every replica and backend.
const Topic = "actor_state_changes"

// Notification announces one successful state write to the other replicas.
type Notification struct {
	ActorID          wire.ActorID `json:"actorId"`
	Sequence         uint64       `json:"sequence"`
	TimestampSeconds int64        `json:"timestampSeconds"`
}

// Notifier publishes a state-change notification after a successful write.
type Notifier interface {
	Publish(ctx context.Context, n Notification) error
}

type notifier struct {
	publisher message.Publisher
}

// NewNotifier wraps any watermill message.Publisher (amqp, gochannel, ...)
// as a Notifier bound to Topic.
func NewNotifier(publisher message.Publisher) Notifier {
	return &notifier{publisher: publisher}
}

func (n *notifier) Publish(ctx context.Context, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("actorbridge: notify: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := n.publisher.Publish(Topic, msg); err != nil {
		return fmt.Errorf("actorbridge: notify: publish to %s: %w", Topic, err)
	}
	return nil
}

// Handler reacts to a notification originating from another replica,
// typically by reloading the changed actor's state and re-broadcasting it
// to local stream subscribers.
type Handler func(Notification)

// Listener owns a long-lived subscription to Topic and fans out decoded
// notifications to handler, one dedicated goroutine per Listener.
type Listener struct {
	subscriber message.Subscriber
	handler    Handler
	logger     *slog.Logger
}

func NewListener(subscriber message.Subscriber, handler Handler, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{subscriber: subscriber, handler: handler, logger: logger}
}

// Run subscribes to Topic and blocks, fanning out notifications until ctx
// is cancelled or the subscription fails.
func (l *Listener) Run(ctx context.Context) error {
	messages, err := l.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("actorbridge: notify: subscribe to %s: %w", Topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			l.deliver(msg)
		}
	}
}

func (l *Listener) deliver(msg *message.Message) {
	var n Notification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		l.logger.Warn("NOTIFY_DECODE_FAILED", slog.Any("err", err))
		msg.Ack()
		return
	}
	l.handler(n)
	msg.Ack()
}
