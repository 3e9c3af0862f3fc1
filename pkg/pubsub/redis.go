package pubsub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	applog "github.com/ICShapy/shapy/pkg/log"
)

// sequencedPublish increments KEYS[1] and publishes ARGV[1] to KEYS[2] with
// the new value spliced in as the leading "seq" member. Running both in one
// script makes publish order equal counter order.
var sequencedPublish = redis.NewScript(`
local seq = redis.call('INCR', KEYS[1])
local body = ARGV[1]
local msg
if body == '{}' then
  msg = '{"seq":' .. seq .. '}'
else
  msg = '{"seq":' .. seq .. ',' .. string.sub(body, 2)
end
redis.call('PUBLISH', KEYS[2], msg)
return seq
`)

// redisReceiveTimeout is how long a subscription may stay silent before it
// pings the server.
const redisReceiveTimeout = 30 * time.Second

// RedisPubSub implements PubSub and SequencedPublisher on top of Redis
// channels. The client is shared and owned by the caller.
type RedisPubSub struct {
	client        *redis.Client
	subscriptions map[*redisSubscription]struct{}
	closed        bool
	mu            sync.Mutex
}

// NewRedisPubSub creates a new Redis-based PubSub instance.
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{
		client:        client,
		subscriptions: make(map[*redisSubscription]struct{}),
	}
}

// Publish publishes a payload to the specified channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

// PublishSequenced increments counterKey and publishes the stamped payload
// to channel atomically.
func (r *RedisPubSub) PublishSequenced(ctx context.Context, channel, counterKey string, payload []byte) (int64, error) {
	body, err := normalizeObject(payload)
	if err != nil {
		return 0, err
	}

	seq, err := sequencedPublish.Run(ctx, r.client, []string{counterKey, channel}, body).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to publish sequenced message: %w", err)
	}
	return seq, nil
}

// Subscribe subscribes to a channel and waits for Redis to confirm it. The
// ctx only bounds the confirmation; the subscription lives until Close.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		owner:  r,
		ps:     ps,
		out:    make(chan []byte, 100),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		_ = ps.Close()
		return nil, ErrClosed
	}
	r.subscriptions[sub] = struct{}{}
	r.mu.Unlock()

	go sub.processMessages(subCtx, channel)

	return sub, nil
}

// Close closes all live subscriptions. The shared client is left open.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	r.closed = true
	subs := make([]*redisSubscription, 0, len(r.subscriptions))
	for sub := range r.subscriptions {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func (r *RedisPubSub) forget(sub *redisSubscription) {
	r.mu.Lock()
	delete(r.subscriptions, sub)
	r.mu.Unlock()
}

type redisSubscription struct {
	owner  *RedisPubSub
	ps     *redis.PubSub
	out    chan []byte
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.ps.Close()
		<-s.done
		s.owner.forget(s)
	})
	return s.err
}

// processMessages forwards payloads in delivery order. It blocks rather than
// drops when the consumer is behind, since a gap would break sequencing.
// Any connection error ends the subscription: go-redis resubscribes behind a
// dropped connection, and messages published in between are gone.
func (s *redisSubscription) processMessages(ctx context.Context, channel string) {
	defer close(s.done)
	defer close(s.out)

	l := applog.L()
	for {
		msg, err := s.ps.ReceiveTimeout(ctx, redisReceiveTimeout)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if err := s.ps.Ping(ctx); err == nil {
					continue
				}
			}
			l.Warn().Err(err).Str("channel", channel).Msg("redis subscription lost")
			return
		}

		switch m := msg.(type) {
		case *redis.Message:
			select {
			case s.out <- []byte(m.Payload):
			case <-ctx.Done():
				return
			}
		case *redis.Subscription:
			if m.Kind == "unsubscribe" && m.Count == 0 {
				l.Debug().Str("channel", channel).Msg("redis subscription ended")
				return
			}
		}
	}
}

// normalizeObject checks that payload is a JSON object and returns it trimmed.
func normalizeObject(payload []byte) ([]byte, error) {
	body := bytes.TrimSpace(payload)
	if len(body) < 2 || body[0] != '{' || body[len(body)-1] != '}' {
		return nil, ErrNotObject
	}
	if len(bytes.TrimSpace(body[1:len(body)-1])) == 0 {
		return []byte("{}"), nil
	}
	return body, nil
}
