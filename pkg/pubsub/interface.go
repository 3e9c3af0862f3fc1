package pubsub

import (
	"context"
	"errors"
)

// ErrClosed is returned when publishing or subscribing on a closed bus.
var ErrClosed = errors.New("pubsub: closed")

// Subscription is a single subscriber attached to one channel. Each editing
// session owns exactly one.
type Subscription interface {
	// Messages yields raw payloads in bus delivery order. The channel is
	// closed when the subscription ends, either through Close or because the
	// underlying connection went away.
	Messages() <-chan []byte

	// Close unsubscribes and releases the underlying connection.
	Close() error
}

// Publisher publishes payloads to a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber opens subscriptions. Subscribe returns once the subscription
// is active on the bus, so anything published afterwards is delivered.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// SequencedPublisher is implemented by buses that can increment a counter and
// publish in a single atomic step. The payload must be a JSON object without a
// "seq" member; the new counter value is inserted as "seq".
type SequencedPublisher interface {
	PublishSequenced(ctx context.Context, channel, counterKey string, payload []byte) (int64, error)
}

// PubSub combines Publisher and Subscriber interfaces.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
