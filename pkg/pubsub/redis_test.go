package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisPubSub(t *testing.T) (*RedisPubSub, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ps := NewRedisPubSub(client)
	t.Cleanup(func() { _ = ps.Close() })
	return ps, mr
}

func receive(t *testing.T, sub Subscription) []byte {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestRedisPubSub_PublishSubscribe(t *testing.T) {
	ps, _ := newTestRedisPubSub(t)
	ctx := context.Background()

	sub, err := ps.Subscribe(ctx, SceneChannel("1"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, ps.Publish(ctx, SceneChannel("1"), []byte(`{"type":"raw"}`)))
	assert.JSONEq(t, `{"type":"raw"}`, string(receive(t, sub)))
}

func TestRedisPubSub_ChannelsAreIsolated(t *testing.T) {
	ps, _ := newTestRedisPubSub(t)
	ctx := context.Background()

	subA, err := ps.Subscribe(ctx, SceneChannel("a"))
	require.NoError(t, err)
	defer subA.Close()
	subB, err := ps.Subscribe(ctx, SceneChannel("b"))
	require.NoError(t, err)
	defer subB.Close()

	require.NoError(t, ps.Publish(ctx, SceneChannel("b"), []byte(`{"n":1}`)))
	require.NoError(t, ps.Publish(ctx, SceneChannel("a"), []byte(`{"n":2}`)))

	assert.JSONEq(t, `{"n":2}`, string(receive(t, subA)))
	assert.JSONEq(t, `{"n":1}`, string(receive(t, subB)))
}

func TestRedisPubSub_PublishSequenced(t *testing.T) {
	ps, mr := newTestRedisPubSub(t)
	ctx := context.Background()

	sub, err := ps.Subscribe(ctx, SceneChannel("7"))
	require.NoError(t, err)
	defer sub.Close()

	for i := 1; i <= 3; i++ {
		seq, err := ps.PublishSequenced(ctx, SceneChannel("7"), "scene:7:seq", []byte(`{"type":"lock","user":5}`))
		require.NoError(t, err)
		assert.Equal(t, int64(i), seq)
	}

	for i := 1; i <= 3; i++ {
		var msg struct {
			Seq  int64  `json:"seq"`
			Type string `json:"type"`
			User int    `json:"user"`
		}
		require.NoError(t, json.Unmarshal(receive(t, sub), &msg))
		assert.Equal(t, int64(i), msg.Seq)
		assert.Equal(t, "lock", msg.Type)
		assert.Equal(t, 5, msg.User)
	}

	counter, err := mr.Get("scene:7:seq")
	require.NoError(t, err)
	assert.Equal(t, "3", counter)
}

func TestRedisPubSub_PublishSequencedEmptyObject(t *testing.T) {
	ps, _ := newTestRedisPubSub(t)
	ctx := context.Background()

	sub, err := ps.Subscribe(ctx, SceneChannel("e"))
	require.NoError(t, err)
	defer sub.Close()

	_, err = ps.PublishSequenced(ctx, SceneChannel("e"), "scene:e:seq", []byte(`{ }`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":1}`, string(receive(t, sub)))
}

func TestRedisPubSub_PublishSequencedRejectsNonObject(t *testing.T) {
	ps, _ := newTestRedisPubSub(t)

	_, err := ps.PublishSequenced(context.Background(), SceneChannel("x"), "scene:x:seq", []byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrNotObject)
}

func TestRedisPubSub_CloseEndsMessages(t *testing.T) {
	ps, _ := newTestRedisPubSub(t)

	sub, err := ps.Subscribe(context.Background(), SceneChannel("1"))
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("messages channel not closed")
	}
}

func TestRedisPubSub_ConnectionLossEndsSubscription(t *testing.T) {
	ps, mr := newTestRedisPubSub(t)
	ctx := context.Background()

	sub, err := ps.Subscribe(ctx, SceneChannel("1"))
	require.NoError(t, err)
	defer sub.Close()

	mr.Close()
	require.NoError(t, mr.Restart())

	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok, "no message expected across the outage")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription survived a dropped connection")
	}
}

func TestRedisPubSub_SubscribeAfterClose(t *testing.T) {
	ps, _ := newTestRedisPubSub(t)
	require.NoError(t, ps.Close())

	_, err := ps.Subscribe(context.Background(), SceneChannel("1"))
	assert.ErrorIs(t, err, ErrClosed)
}
