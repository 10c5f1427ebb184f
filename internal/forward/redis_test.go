// ABOUTME: Tests for the Redis pub/sub forwarder and subscriber
// ABOUTME: Uses miniredis so no external Redis is required

package forward

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func startSubscriber(t *testing.T, client *redis.Client, origin string) <-chan events.Envelope {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())

	received := make(chan events.Envelope, 16)
	ready := make(chan struct{})
	done := make(chan struct{})
	sub := NewRedisSubscriber(client, "", origin, nil)
	go func() {
		defer close(done)
		_ = sub.Run(ctx, ready, func(env events.Envelope) {
			received <- env
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never became ready")
	}
	return received
}

func TestRedisForwarder_DeliversToOtherInstance(t *testing.T) {
	client := newRedisClient(t)
	received := startSubscriber(t, client, "instance-b")

	fwd := NewRedisForwarder(client, "", "instance-a")
	assert.Equal(t, "redis", fwd.Name())
	require.NoError(t, fwd.Forward(t.Context(), sampleMessage()))

	select {
	case env := <-received:
		msg, ok := env.(events.NewMessage)
		require.True(t, ok, "expected NewMessage, got %T", env)
		assert.Equal(t, "m1", msg.MessageID)
		assert.Equal(t, "agent-1", msg.AgentID)
		assert.Equal(t, "hello", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded event")
	}
}

func TestRedisSubscriber_IgnoresOwnOrigin(t *testing.T) {
	client := newRedisClient(t)
	received := startSubscriber(t, client, "instance-a")

	own := NewRedisForwarder(client, "", "instance-a")
	other := NewRedisForwarder(client, "", "instance-b")

	require.NoError(t, own.Forward(t.Context(), sampleMessage()))
	second := sampleMessage()
	second.MessageID = "m2"
	require.NoError(t, other.Forward(t.Context(), second))

	select {
	case env := <-received:
		assert.Equal(t, "m2", env.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded event")
	}

	select {
	case env := <-received:
		t.Fatalf("unexpected extra event %s", env.ID())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisSubscriber_DropsGarbage(t *testing.T) {
	client := newRedisClient(t)
	received := startSubscriber(t, client, "instance-a")

	require.NoError(t, client.Publish(t.Context(), DefaultRedisChannel, "not json").Err())
	require.NoError(t, client.Publish(t.Context(), DefaultRedisChannel, `{"origin":"x","event":{"type":"mystery"}}`).Err())
	require.NoError(t, NewRedisForwarder(client, "", "instance-b").Forward(t.Context(), sampleMessage()))

	select {
	case env := <-received:
		assert.Equal(t, "m1", env.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded event")
	}
}
