// ABOUTME: Conversation write path for widget visitors and dashboard operators
// ABOUTME: Every record is committed to the store before its event is published

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/llm"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/metrics"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/store"
)

// Greeting is the first assistant message of every conversation.
const Greeting = "Hi there! How can I assist you today?"

// DefaultReplyTimeout bounds one assistant reply.
const DefaultReplyTimeout = 60 * time.Second

// historyLimit is how many prior messages are sent to the backend.
const historyLimit = 50

// replySaveTimeout bounds the write of a generated reply. It is separate
// from the reply budget so a late answer can still be stored.
const replySaveTimeout = 5 * time.Second

var (
	// ErrUnauthorized is returned when a session does not own the resource.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned for unknown conversations or agents.
	ErrNotFound = errors.New("not found")
	// ErrInvalidStatus is returned for an unknown conversation status.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrEmptyContent is returned for blank messages.
	ErrEmptyContent = errors.New("message content is required")
)

// Store is what the service needs from storage.
type Store interface {
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListConversations(ctx context.Context, agentID string, limit int) ([]*store.Conversation, error)
	UpdateConversationStatus(ctx context.Context, id, status string) error
	CreateMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*store.Message, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// SessionValidator checks a contact session is live.
type SessionValidator interface {
	Validate(ctx context.Context, contactSessionID string) (*store.ContactSession, error)
}

// Publisher announces committed records.
type Publisher interface {
	ConversationCreated(ctx context.Context, conv *store.Conversation) int
	MessageCreated(ctx context.Context, msg *store.Message) int
}

// Option configures a Service.
type Option func(*Service)

// WithBackend enables assistant replies.
func WithBackend(b llm.Backend) Option {
	return func(s *Service) {
		s.backend = b
	}
}

// WithReplyTimeout overrides DefaultReplyTimeout.
func WithReplyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.replyTimeout = d
		}
	}
}

// WithMetrics counts assistant reply outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service owns conversation and message writes.
type Service struct {
	store        Store
	sessions     SessionValidator
	publisher    Publisher
	backend      llm.Backend
	replyTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger

	replies sync.WaitGroup
}

// New creates a Service.
func New(s Store, sessions SessionValidator, pub Publisher, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{
		store:        s,
		sessions:     sessions,
		publisher:    pub,
		replyTimeout: DefaultReplyTimeout,
		logger:       logger.With("component", "conversation"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// CreateConversation opens a conversation for a visitor and posts the
// greeting. The conversation is returned even if the greeting fails.
func (s *Service) CreateConversation(ctx context.Context, contactSessionID, agentID string) (*store.Conversation, error) {
	session, err := s.sessions.Validate(ctx, contactSessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if session.AgentID != agentID {
		return nil, fmt.Errorf("%w: session belongs to another agent", ErrUnauthorized)
	}
	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return nil, mapStoreError("loading agent", err)
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:               uuid.New().String(),
		AgentID:          agentID,
		ContactSessionID: contactSessionID,
		Status:           store.StatusNotEscalated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.publisher.ConversationCreated(ctx, conv)

	greeting := &store.Message{
		ID:               uuid.New().String(),
		ConversationID:   conv.ID,
		ContactSessionID: contactSessionID,
		AgentID:          agentID,
		Role:             store.RoleAssistant,
		Content:          Greeting,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, greeting); err != nil {
		s.logger.Error("failed to save greeting", "conversation_id", conv.ID, "error", err)
		return conv, nil
	}
	s.publisher.MessageCreated(ctx, greeting)

	s.logger.Info("conversation created", "conversation_id", conv.ID, "agent_id", agentID)
	return conv, nil
}

// VisitorMessage is a message typed into the widget.
type VisitorMessage struct {
	ConversationID   string
	ContactSessionID string
	Content          string
}

// SendVisitorMessage records the visitor's message and, unless a human has
// taken over, starts an assistant reply in the background.
func (s *Service) SendVisitorMessage(ctx context.Context, req VisitorMessage) (*store.Message, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}
	if _, err := s.sessions.Validate(ctx, req.ContactSessionID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, mapStoreError("loading conversation", err)
	}
	if conv.ContactSessionID != req.ContactSessionID {
		return nil, fmt.Errorf("%w: conversation belongs to another session", ErrUnauthorized)
	}

	msg, err := s.record(ctx, conv, store.RoleUser, req.Content)
	if err != nil {
		return nil, err
	}

	if conv.Status == store.StatusNotEscalated && s.backend != nil {
		s.replies.Add(1)
		go func() {
			defer s.replies.Done()
			s.reply(context.WithoutCancel(ctx), conv, msg)
		}()
	}
	return msg, nil
}

// SendOperatorMessage records a reply typed by a human in the dashboard.
func (s *Service) SendOperatorMessage(ctx context.Context, conversationID, content string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, mapStoreError("loading conversation", err)
	}
	return s.record(ctx, conv, store.RoleHumanAgent, content)
}

// UpdateStatus escalates or resolves a conversation. Status changes are
// not broadcast.
func (s *Service) UpdateStatus(ctx context.Context, conversationID, status string) (*store.Conversation, error) {
	if !store.ValidStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if err := s.store.UpdateConversationStatus(ctx, conversationID, status); err != nil {
		return nil, mapStoreError("updating status", err)
	}
	s.logger.Info("conversation status updated", "conversation_id", conversationID, "status", status)
	return s.GetConversation(ctx, conversationID)
}

// GetConversation returns one conversation.
func (s *Service) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, mapStoreError("loading conversation", err)
	}
	return conv, nil
}

// ListConversations returns an agent's conversations, newest first.
func (s *Service) ListConversations(ctx context.Context, agentID string, limit int) ([]*store.Conversation, error) {
	return s.store.ListConversations(ctx, agentID, limit)
}

// ListMessages returns a page of a conversation's messages, oldest first.
func (s *Service) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*store.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = store.DefaultMessageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListMessages(ctx, conversationID, offset, limit)
}

// Wait blocks until background replies finish.
func (s *Service) Wait() {
	s.replies.Wait()
}

// record persists a message and publishes it once the write succeeded.
func (s *Service) record(ctx context.Context, conv *store.Conversation, role, content string) (*store.Message, error) {
	msg := &store.Message{
		ID:               uuid.New().String(),
		ConversationID:   conv.ID,
		ContactSessionID: conv.ContactSessionID,
		AgentID:          conv.AgentID,
		Role:             role,
		Content:          content,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}
	s.publisher.MessageCreated(ctx, msg)

	s.logger.Debug("message recorded",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"role", role)
	return msg, nil
}

func (s *Service) reply(parent context.Context, conv *store.Conversation, prompt *store.Message) {
	ctx, cancel := context.WithTimeout(parent, s.replyTimeout)
	defer cancel()

	req := llm.Request{AgentID: conv.AgentID, Prompt: prompt.Content}
	if agent, err := s.store.GetAgent(ctx, conv.AgentID); err == nil {
		req.CalEnabled = agent.CalEnabled
		req.StripeEnabled = agent.StripeEnabled
		req.SlackEnabled = agent.SlackEnabled
		req.CalURL = agent.CalURL
	}

	// The prompt itself is among the newest rows and is skipped below.
	history, err := s.store.RecentMessages(ctx, conv.ID, historyLimit+1)
	if err != nil {
		s.logger.Warn("failed to load history for reply", "conversation_id", conv.ID, "error", err)
	}
	for _, m := range history {
		if m.ID == prompt.ID {
			continue
		}
		req.History = append(req.History, llm.Turn{Role: m.Role, Content: m.Content})
	}
	if len(req.History) > historyLimit {
		req.History = req.History[len(req.History)-historyLimit:]
	}

	text, err := llm.ReplyOrFallback(ctx, s.backend, req)
	if err != nil {
		s.metrics.ObserveAssistantReply("error")
		s.logger.Error("assistant reply failed", "conversation_id", conv.ID, "error", err)
		return
	}
	outcome := "ok"
	if text == llm.FallbackReply {
		outcome = "fallback"
	}

	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(parent), replySaveTimeout)
	defer cancelSave()
	if _, err := s.record(saveCtx, conv, store.RoleAssistant, text); err != nil {
		s.metrics.ObserveAssistantReply("error")
		s.logger.Error("failed to save assistant reply", "conversation_id", conv.ID, "error", err)
		return
	}
	s.metrics.ObserveAssistantReply(outcome)
}

func mapStoreError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
