// ABOUTME: Redis pub/sub transport for sharing committed events between processes
// ABOUTME: RedisForwarder publishes envelopes; RedisSubscriber feeds them to a local handler

package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
)

// DefaultRedisChannel is the pub/sub channel used when none is configured.
const DefaultRedisChannel = "sure:events"

var _ Forwarder = (*RedisForwarder)(nil)

// redisMessage wraps an envelope with the publishing instance so a process
// can ignore its own events.
type redisMessage struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// RedisForwarder publishes envelopes on a Redis channel.
type RedisForwarder struct {
	client  redis.Cmdable
	channel string
	origin  string
}

// NewRedisForwarder creates a forwarder publishing on channel as origin.
func NewRedisForwarder(client redis.Cmdable, channel, origin string) *RedisForwarder {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisForwarder{client: client, channel: channel, origin: origin}
}

// Name identifies the forwarder in logs and metrics.
func (f *RedisForwarder) Name() string {
	return "redis"
}

// Forward publishes env. Connected envelopes are never published.
func (f *RedisForwarder) Forward(ctx context.Context, env events.Envelope) error {
	if PathFor(env.Type()) == "" {
		return nil
	}

	data, err := events.Encode(env)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	payload, err := json.Marshal(redisMessage{Origin: f.origin, Event: data})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return f.client.Publish(ctx, f.channel, payload).Err()
}

// RedisSubscriber receives envelopes published by other processes.
type RedisSubscriber struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

// NewRedisSubscriber creates a subscriber that skips messages from origin.
func NewRedisSubscriber(client *redis.Client, channel, origin string, logger *slog.Logger) *RedisSubscriber {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSubscriber{
		client:  client,
		channel: channel,
		origin:  origin,
		logger:  logger.With("component", "redis-subscriber"),
	}
}

// Run subscribes and calls handle for each foreign envelope until ctx is
// done. The subscription is confirmed before ready is closed, so events
// published after ready are not missed. ready may be nil.
func (s *RedisSubscriber) Run(ctx context.Context, ready chan<- struct{}, handle func(events.Envelope)) error {
	pubSub := s.client.Subscribe(ctx, s.channel)
	defer func() {
		if err := pubSub.Close(); err != nil {
			s.logger.Error("failed to close pubsub", "error", err)
		}
	}()

	if _, err := pubSub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	s.logger.Info("subscribed", "channel", s.channel)

	msgs := pubSub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			s.dispatch(msg.Payload, handle)
		}
	}
}

func (s *RedisSubscriber) dispatch(payload string, handle func(events.Envelope)) {
	var m redisMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		s.logger.Error("failed to unmarshal event", "error", err)
		return
	}
	if m.Origin == s.origin {
		return
	}

	env, err := events.Decode(m.Event)
	if err != nil {
		s.logger.Warn("dropping undecodable event", "origin", m.Origin, "error", err)
		return
	}
	handle(env)
}
