// ABOUTME: In-memory topic registry fanning encoded event frames out to subscriber channels
// ABOUTME: Prunes channels whose write fails so dead clients never block live ones

package registry

import (
	"io"
	"log/slog"
	"sync"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/metrics"
)

// GlobalTopic is the topic unscoped subscribers register under.
const GlobalTopic = "*"

// Registry maps topics (agent ids) to sets of subscriber channels.
//
// A single mutex guards the whole map. Broadcast holds it for the full
// fan-out, which serializes broadcasts and gives each channel frames in the
// order the broadcasts were issued. Sends are non-blocking so the critical
// section stays short.
type Registry struct {
	name    string
	mu      sync.Mutex
	topics  map[string]map[Channel]struct{}
	closed  bool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics records subscriber counts, broadcasts, and prunes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// New creates an empty registry. The name labels logs and metrics
// ("conversations", "messages"). Pass nil logger for default.
func New(name string, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		name:   name,
		topics: make(map[string]map[Channel]struct{}),
		logger: logger.With("component", "registry", "registry", name),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the registry label.
func (r *Registry) Name() string {
	return r.name
}

// Subscribe adds ch to the topic's set, creating the topic if needed.
// Subscribing an already-present channel is a no-op. After Close, the
// channel is closed immediately if it supports it.
func (r *Registry) Subscribe(topic string, ch Channel) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		closeChannel(ch)
		return
	}

	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[Channel]struct{})
		r.topics[topic] = subs
	}
	subs[ch] = struct{}{}
	count := r.countLocked()
	r.mu.Unlock()

	r.metrics.SetSubscribers(r.name, count)
	r.logger.Debug("subscriber added", "topic", topic, "subscribers", len(subs))
}

// Unsubscribe removes ch from the topic. Removing an absent channel or
// topic is a no-op. Empty topics are deleted.
func (r *Registry) Unsubscribe(topic string, ch Channel) {
	r.mu.Lock()
	subs, ok := r.topics[topic]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, exists := subs[ch]; !exists {
		r.mu.Unlock()
		return
	}
	delete(subs, ch)
	if len(subs) == 0 {
		delete(r.topics, topic)
	}
	count := r.countLocked()
	r.mu.Unlock()

	r.metrics.SetSubscribers(r.name, count)
	r.logger.Debug("subscriber removed", "topic", topic)
}

// Broadcast delivers env to every channel subscribed to topic and returns
// how many channels accepted it. Channels whose Send fails are removed.
// Zero subscribers is not an error.
func (r *Registry) Broadcast(topic string, env events.Envelope) int {
	frame, err := events.Frame(env)
	if err != nil {
		r.logger.Error("failed to encode event", "type", env.Type(), "error", err)
		return 0
	}

	r.mu.Lock()
	delivered, pruned := r.sendLocked(topic, frame)
	count := r.countLocked()
	r.mu.Unlock()

	r.observe(env, delivered, pruned, count)
	return delivered
}

// BroadcastAll delivers env to every channel on every topic.
func (r *Registry) BroadcastAll(env events.Envelope) int {
	frame, err := events.Frame(env)
	if err != nil {
		r.logger.Error("failed to encode event", "type", env.Type(), "error", err)
		return 0
	}

	r.mu.Lock()
	var delivered, pruned int
	for topic := range r.topics {
		d, p := r.sendLocked(topic, frame)
		delivered += d
		pruned += p
	}
	count := r.countLocked()
	r.mu.Unlock()

	r.observe(env, delivered, pruned, count)
	return delivered
}

// sendLocked writes frame to the topic's channels and prunes failures.
// Must be called with mu held.
func (r *Registry) sendLocked(topic string, frame []byte) (delivered, pruned int) {
	subs, ok := r.topics[topic]
	if !ok {
		return 0, 0
	}

	for ch := range subs {
		if err := ch.Send(frame); err != nil {
			// Deleting during range is safe for Go maps.
			delete(subs, ch)
			pruned++
			r.logger.Warn("pruned dead subscriber", "topic", topic, "error", err)
			closeChannel(ch)
			continue
		}
		delivered++
	}
	if len(subs) == 0 {
		delete(r.topics, topic)
	}
	return delivered, pruned
}

func (r *Registry) observe(env events.Envelope, delivered, pruned, count int) {
	r.metrics.ObserveBroadcast(r.name, string(env.Type()), delivered)
	r.metrics.ObservePrune(r.name, pruned)
	if pruned > 0 {
		r.metrics.SetSubscribers(r.name, count)
	}
}

// countLocked returns the total number of subscribed channels.
// Must be called with mu held.
func (r *Registry) countLocked() int {
	n := 0
	for _, subs := range r.topics {
		n += len(subs)
	}
	return n
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Topics      int `json:"topics"`
	Subscribers int `json:"subscribers"`
}

// Stats returns the current topic and subscriber counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Topics: len(r.topics), Subscribers: r.countLocked()}
}

// Subscribers returns the number of channels subscribed to topic.
func (r *Registry) Subscribers(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics[topic])
}

// Close removes every subscription and closes channels that support it.
// Streams reading those channels observe the close and end.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for topic, subs := range r.topics {
		for ch := range subs {
			closeChannel(ch)
		}
		delete(r.topics, topic)
	}
	r.metrics.SetSubscribers(r.name, 0)
	r.logger.Debug("registry closed")
}

type closer interface {
	Close()
}

// closeChannel closes ch when it exposes Close() or io.Closer.
func closeChannel(ch Channel) {
	switch c := ch.(type) {
	case closer:
		c.Close()
	case io.Closer:
		_ = c.Close()
	}
}
