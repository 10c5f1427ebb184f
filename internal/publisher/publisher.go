// ABOUTME: Turns committed conversations and messages into broadcast events
// ABOUTME: Resolves agent topics, fans out locally, then forwards to companions

package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/forward"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/metrics"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/registry"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/store"
)

// DefaultForwardTimeout bounds a single forward attempt.
const DefaultForwardTimeout = 3 * time.Second

// AgentResolver looks up the conversation a message belongs to.
type AgentResolver interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithForwarders adds forwarders invoked after every local broadcast.
func WithForwarders(fwds ...forward.Forwarder) Option {
	return func(p *Publisher) {
		p.forwarders = append(p.forwarders, fwds...)
	}
}

// WithForwardTimeout overrides DefaultForwardTimeout.
func WithForwardTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMetrics records forward latency and ingest counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// Publisher is called after a store write succeeds. Publishing never fails
// the caller: delivery problems are logged and counted.
type Publisher struct {
	conversations *registry.Registry
	messages      *registry.Registry
	resolver      AgentResolver
	forwarders    []forward.Forwarder
	timeout       time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates a publisher over the two registries.
func New(conversations, messages *registry.Registry, resolver AgentResolver, logger *slog.Logger, opts ...Option) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		conversations: conversations,
		messages:      messages,
		resolver:      resolver,
		timeout:       DefaultForwardTimeout,
		logger:        logger.With("component", "publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ConversationCreated announces a committed conversation to its agent's
// subscribers and forwards it. Returns the local delivery count.
func (p *Publisher) ConversationCreated(ctx context.Context, conv *store.Conversation) int {
	env := events.NewConversation{
		ConversationID:   conv.ID,
		AgentID:          conv.AgentID,
		ContactSessionID: conv.ContactSessionID,
		Status:           conv.Status,
		CreatedAt:        conv.CreatedAt,
	}
	delivered := p.broadcast(ctx, env)
	p.forward(ctx, env)
	return delivered
}

// MessageCreated announces a committed message and forwards it.
func (p *Publisher) MessageCreated(ctx context.Context, msg *store.Message) int {
	env := events.NewMessage{
		MessageID:        msg.ID,
		ConversationID:   msg.ConversationID,
		ContactSessionID: msg.ContactSessionID,
		AgentID:          msg.AgentID,
		Role:             msg.Role,
		Content:          msg.Content,
		CreatedAt:        msg.CreatedAt,
	}
	delivered := p.broadcast(ctx, env)
	p.forward(ctx, env)
	return delivered
}

// Ingest broadcasts an event that was committed elsewhere. It never
// forwards, so two processes forwarding to each other cannot loop.
func (p *Publisher) Ingest(ctx context.Context, source string, env events.Envelope) int {
	p.metrics.ObserveIngest(source, string(env.Type()))
	return p.broadcast(ctx, env)
}

func (p *Publisher) broadcast(ctx context.Context, env events.Envelope) int {
	switch e := env.(type) {
	case events.NewConversation:
		return p.conversations.Broadcast(e.AgentID, e)
	case events.NewMessage:
		return p.broadcastMessage(ctx, e)
	default:
		p.logger.Debug("ignoring event with no topic", "type", env.Type())
		return 0
	}
}

func (p *Publisher) broadcastMessage(ctx context.Context, msg events.NewMessage) int {
	agentID := msg.AgentID
	if agentID == "" && p.resolver != nil {
		conv, err := p.resolver.GetConversation(ctx, msg.ConversationID)
		if err != nil {
			p.logger.Warn("agent lookup failed, broadcasting to all message topics",
				"conversation_id", msg.ConversationID,
				"message_id", msg.MessageID,
				"error", err,
			)
			return p.messages.BroadcastAll(msg)
		}
		agentID = conv.AgentID
	}
	if agentID == "" {
		p.logger.Warn("message has no agent, broadcasting to all message topics",
			"conversation_id", msg.ConversationID,
			"message_id", msg.MessageID,
		)
		return p.messages.BroadcastAll(msg)
	}

	msg.AgentID = agentID
	return p.messages.Broadcast(agentID, msg) + p.messages.Broadcast(registry.GlobalTopic, msg)
}

func (p *Publisher) forward(ctx context.Context, env events.Envelope) {
	if len(p.forwarders) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	detached := context.WithoutCancel(ctx)
	for _, fwd := range p.forwarders {
		p.inflight.Add(1)
		go func() {
			defer p.inflight.Done()
			p.forwardOne(detached, fwd, env)
		}()
	}
}

func (p *Publisher) forwardOne(ctx context.Context, fwd forward.Forwarder, env events.Envelope) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := fwd.Forward(ctx, env)
	p.metrics.ObserveForward(fwd.Name(), time.Since(start).Seconds(), err != nil)
	if err != nil {
		p.logger.Warn("forward failed",
			"forwarder", fwd.Name(),
			"type", env.Type(),
			"id", env.ID(),
			"error", err,
		)
	}
}

// Close stops new forwards and waits for in-flight ones, each of which is
// bounded by the forward timeout.
func (p *Publisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.inflight.Wait()
}
