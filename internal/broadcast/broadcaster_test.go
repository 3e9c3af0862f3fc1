package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ICShapy/shapy/internal/domain"
	"github.com/ICShapy/shapy/internal/store"
	"github.com/ICShapy/shapy/pkg/pubsub"
)

type frame struct {
	Seq     int64    `json:"seq"`
	Type    string   `json:"type"`
	User    string   `json:"user"`
	Objects []string `json:"objects"`
}

func next(t *testing.T, sub pubsub.Subscription) frame {
	t.Helper()
	select {
	case raw, ok := <-sub.Messages():
		require.True(t, ok)
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return frame{}
	}
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// plainBus hides the sequenced publish path of a Redis bus.
type plainBus struct {
	pubsub.PubSub
}

func TestPublishStampsSequence(t *testing.T) {
	for name, wrap := range map[string]func(pubsub.PubSub) pubsub.PubSub{
		"sequenced": func(b pubsub.PubSub) pubsub.PubSub { return b },
		"plain":     func(b pubsub.PubSub) pubsub.PubSub { return plainBus{b} },
	} {
		t.Run(name, func(t *testing.T) {
			client := newRedisClient(t)
			bus := pubsub.NewRedisPubSub(client)
			defer bus.Close()
			scenes := store.NewRedisStore(client, nil, store.Options{})
			b := New(wrap(bus), scenes)
			ctx := context.Background()

			sub, err := b.Subscribe(ctx, "7")
			require.NoError(t, err)
			defer sub.Close()

			seq, err := b.Publish(ctx, "7", domain.NewJoinMessage("b"))
			require.NoError(t, err)
			assert.Equal(t, int64(1), seq)

			seq, err = b.Publish(ctx, "7", domain.NewLockMessage([]string{"obj_1"}, "b"))
			require.NoError(t, err)
			assert.Equal(t, int64(2), seq)

			assert.Equal(t, frame{Seq: 1, Type: "join", User: "b"}, next(t, sub))
			assert.Equal(t, frame{Seq: 2, Type: "lock", User: "b", Objects: []string{"obj_1"}}, next(t, sub))

			scene, err := scenes.Get(ctx, "7")
			require.NoError(t, err)
			assert.Equal(t, int64(2), scene.Sequence)
		})
	}
}

func TestPublishRawReplacesClientSeq(t *testing.T) {
	client := newRedisClient(t)
	bus := pubsub.NewRedisPubSub(client)
	defer bus.Close()
	b := New(bus, store.NewRedisStore(client, nil, store.Options{}))
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "7")
	require.NoError(t, err)
	defer sub.Close()

	in, err := domain.ParseInbound([]byte(`{"type":"move","seq":1000,"dx":1}`))
	require.NoError(t, err)
	_, err = b.Publish(ctx, "7", domain.NewRawMessage(in.(domain.Passthrough)))
	require.NoError(t, err)

	select {
	case raw := <-sub.Messages():
		assert.JSONEq(t, `{"seq":1,"type":"move","dx":1}`, string(raw))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestConcurrentPublishersSeeIncreasingSeq(t *testing.T) {
	client := newRedisClient(t)
	bus := pubsub.NewRedisPubSub(client)
	defer bus.Close()
	b := New(bus, store.NewRedisStore(client, nil, store.Options{}))
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "7")
	require.NoError(t, err)
	defer sub.Close()

	const publishers = 4
	const each = 25
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				_, err := b.Publish(ctx, "7", domain.NewJoinMessage("x"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	var last int64
	for i := 0; i < publishers*each; i++ {
		f := next(t, sub)
		assert.Greater(t, f.Seq, last)
		last = f.Seq
	}
	assert.Equal(t, int64(publishers*each), last)
}
