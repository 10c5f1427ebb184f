// ABOUTME: Store interface and data types for agent inbox persistence
// ABOUTME: Defines Agent, ContactSession, Conversation, Message and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when inserting an entity whose ID already exists
var ErrDuplicate = errors.New("already exists")

// Conversation status values
const (
	StatusNotEscalated = "notEscalated"
	StatusEscalated    = "escalated"
	StatusResolved     = "resolved"
)

// Message roles
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleHumanAgent = "humanAgent"
)

// DefaultMessageLimit is the page size used when callers pass limit <= 0.
const DefaultMessageLimit = 50

// Agent is a configured AI agent owned by an operator account.
type Agent struct {
	ID            string
	Name          string
	OwnerID       string
	CalEnabled    bool
	StripeEnabled bool
	SlackEnabled  bool
	CalURL        string
	CreatedAt     time.Time
}

// ContactSession identifies an anonymous website visitor talking to an agent.
type ContactSession struct {
	ID        string
	AgentID   string
	Name      string
	Email     string
	Metadata  map[string]any
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (c *ContactSession) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Conversation is one visitor thread with an agent.
type Conversation struct {
	ID               string
	AgentID          string
	ContactSessionID string
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Message is a single entry in a conversation.
type Message struct {
	ID               string
	ConversationID   string
	ContactSessionID string
	AgentID          string
	Role             string // "user", "assistant", "humanAgent"
	Content          string
	CreatedAt        time.Time
}

// ValidStatus reports whether s is a known conversation status.
func ValidStatus(s string) bool {
	switch s {
	case StatusNotEscalated, StatusEscalated, StatusResolved:
		return true
	}
	return false
}

// Store defines the interface for inbox persistence.
// A nil error from a Create method means the row is committed and readable.
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context, ownerID string) ([]*Agent, error)

	// Contact sessions
	CreateContactSession(ctx context.Context, session *ContactSession) error
	GetContactSession(ctx context.Context, id string) (*ContactSession, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, agentID string, limit int) ([]*Conversation, error)
	UpdateConversationStatus(ctx context.Context, id, status string) error

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*Message, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	Close() error
}
