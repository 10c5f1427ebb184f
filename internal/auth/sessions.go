// ABOUTME: Contact session issuance and validation for widget visitors
// ABOUTME: Persists sessions with a fixed lifetime and checks expiry on every use

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/store"
)

// DefaultSessionTTL matches the lifetime of a widget visitor session.
const DefaultSessionTTL = 24 * time.Hour

var (
	// ErrInvalidSession is returned when a session is unknown or has expired.
	ErrInvalidSession = errors.New("invalid session")
	// ErrUnknownAgent is returned when issuing a session for a missing agent.
	ErrUnknownAgent = errors.New("unknown agent")
)

// SessionStore is the subset of store.Store the session service needs.
type SessionStore interface {
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	CreateContactSession(ctx context.Context, session *store.ContactSession) error
	GetContactSession(ctx context.Context, id string) (*store.ContactSession, error)
}

// NewContact describes the visitor a session is issued for.
type NewContact struct {
	AgentID  string
	Name     string
	Email    string
	Metadata map[string]any
}

// IssuedSession is the stored session plus its bearer token.
type IssuedSession struct {
	Session *store.ContactSession
	Token   string
}

// ContactSessions issues and validates visitor sessions.
type ContactSessions struct {
	store  SessionStore
	signer *TokenSigner
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewContactSessions creates the service. A ttl of zero uses DefaultSessionTTL.
func NewContactSessions(s SessionStore, signer *TokenSigner, ttl time.Duration, logger *slog.Logger) *ContactSessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContactSessions{
		store:  s,
		signer: signer,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "contact-sessions"),
	}
}

// Issue creates a session for the contact and returns it with a signed token.
func (c *ContactSessions) Issue(ctx context.Context, contact NewContact) (*IssuedSession, error) {
	if _, err := c.store.GetAgent(ctx, contact.AgentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownAgent
		}
		return nil, fmt.Errorf("loading agent: %w", err)
	}

	now := c.now()
	session := &store.ContactSession{
		ID:        uuid.New().String(),
		AgentID:   contact.AgentID,
		Name:      contact.Name,
		Email:     contact.Email,
		Metadata:  contact.Metadata,
		ExpiresAt: now.Add(c.ttl),
		CreatedAt: now,
	}
	if err := c.store.CreateContactSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating contact session: %w", err)
	}

	token, err := c.signer.Generate(Claims{ContactSessionID: session.ID, AgentID: session.AgentID}, session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("signing session token: %w", err)
	}

	c.logger.Info("contact session issued", "session_id", session.ID, "agent_id", session.AgentID)
	return &IssuedSession{Session: session, Token: token}, nil
}

// Validate checks that the session exists and has not expired.
func (c *ContactSessions) Validate(ctx context.Context, contactSessionID string) (*store.ContactSession, error) {
	session, err := c.store.GetContactSession(ctx, contactSessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("loading contact session: %w", err)
	}
	if session.Expired(c.now()) {
		return nil, ErrInvalidSession
	}
	return session, nil
}

// Authenticate verifies a bearer token and the session it names.
func (c *ContactSessions) Authenticate(ctx context.Context, token string) (*Identity, error) {
	claims, err := c.signer.Verify(token)
	if err != nil {
		return nil, err
	}

	session, err := c.Validate(ctx, claims.ContactSessionID)
	if err != nil {
		return nil, err
	}
	if session.AgentID != claims.AgentID {
		return nil, fmt.Errorf("%w: agent mismatch", ErrInvalidToken)
	}
	return &Identity{ContactSessionID: session.ID, AgentID: session.AgentID}, nil
}
