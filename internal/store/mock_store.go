// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject write failures

package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	agents        map[string]*Agent
	sessions      map[string]*ContactSession
	conversations map[string]*Conversation
	messages      map[string][]*Message // keyed by conversation ID

	// FailCreateMessage, when set, is returned by CreateMessage without storing.
	FailCreateMessage error
	// FailCreateConversation, when set, is returned by CreateConversation without storing.
	FailCreateConversation error
	// OnCommit is called after each successful Create with the entity kind
	// ("agent", "session", "conversation", "message") and ID.
	OnCommit func(kind, id string)
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		agents:        make(map[string]*Agent),
		sessions:      make(map[string]*ContactSession),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
	}
}

func (m *MockStore) committed(kind, id string) {
	if m.OnCommit != nil {
		m.OnCommit(kind, id)
	}
}

// CreateAgent stores a new agent.
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	if _, exists := m.agents[agent.ID]; exists {
		m.mu.Unlock()
		return ErrDuplicate
	}
	a := *agent
	m.agents[a.ID] = &a
	m.mu.Unlock()

	m.committed("agent", a.ID)
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// ListAgents returns agents owned by ownerID, oldest first.
func (m *MockStore) ListAgents(ctx context.Context, ownerID string) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Agent
	for _, a := range m.agents {
		if a.OwnerID == ownerID {
			cp := *a
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// CreateContactSession stores a new session.
func (m *MockStore) CreateContactSession(ctx context.Context, session *ContactSession) error {
	m.mu.Lock()
	if _, exists := m.sessions[session.ID]; exists {
		m.mu.Unlock()
		return ErrDuplicate
	}
	if _, ok := m.agents[session.AgentID]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	s := *session
	s.Metadata = maps.Clone(session.Metadata)
	m.sessions[s.ID] = &s
	m.mu.Unlock()

	m.committed("session", s.ID)
	return nil
}

// GetContactSession retrieves a session by ID.
func (m *MockStore) GetContactSession(ctx context.Context, id string) (*ContactSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *s
	result.Metadata = maps.Clone(s.Metadata)
	return &result, nil
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	if m.FailCreateConversation != nil {
		err := m.FailCreateConversation
		m.mu.Unlock()
		return err
	}
	if _, exists := m.conversations[conv.ID]; exists {
		m.mu.Unlock()
		return ErrDuplicate
	}
	c := *conv
	m.conversations[c.ID] = &c
	m.mu.Unlock()

	m.committed("conversation", c.ID)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// ListConversations returns an agent's conversations, newest first.
func (m *MockStore) ListConversations(ctx context.Context, agentID string, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	var result []*Conversation
	for _, c := range m.conversations {
		if c.AgentID == agentID {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateConversationStatus changes a conversation's status.
func (m *MockStore) UpdateConversationStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

// CreateMessage stores a message.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.FailCreateMessage != nil {
		err := m.FailCreateMessage
		m.mu.Unlock()
		return err
	}
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	for _, existing := range m.messages[msg.ConversationID] {
		if existing.ID == msg.ID {
			m.mu.Unlock()
			return ErrDuplicate
		}
	}
	cp := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &cp)
	m.mu.Unlock()

	m.committed("message", cp.ID)
	return nil
}

// ListMessages returns a page of messages in insertion order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if offset < 0 {
		offset = 0
	}

	all := m.messages[conversationID]
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))

	result := make([]*Message, 0, end-offset)
	for _, msg := range all[offset:end] {
		cp := *msg
		result = append(result, &cp)
	}
	return result, nil
}

// RecentMessages returns the last limit messages in insertion order.
func (m *MockStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	all := m.messages[conversationID]
	start := max(len(all)-limit, 0)

	result := make([]*Message, 0, len(all)-start)
	for _, msg := range all[start:] {
		cp := *msg
		result = append(result, &cp)
	}
	return result, nil
}

// HasMessage reports whether a message with id is stored. Used by tests
// that assert a row is readable at the moment an event is observed.
func (m *MockStore) HasMessage(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msgs := range m.messages {
		for _, msg := range msgs {
			if msg.ID == id {
				return true
			}
		}
	}
	return false
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
