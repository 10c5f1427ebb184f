// ABOUTME: Tests for contact session issuance, validation, and token authentication
// ABOUTME: Uses the in-memory mock store and a controllable clock

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/store"
)

func newTestSessions(t *testing.T) (*ContactSessions, *store.MockStore) {
	t.Helper()
	s := store.NewMockStore()
	require.NoError(t, s.CreateAgent(t.Context(), &store.Agent{ID: "agent-1", Name: "Bot", OwnerID: "owner"}))
	require.NoError(t, s.CreateAgent(t.Context(), &store.Agent{ID: "agent-2", Name: "Other", OwnerID: "owner"}))
	return NewContactSessions(s, newTestSigner(t), 0, nil), s
}

func TestContactSessions_IssueAndAuthenticate(t *testing.T) {
	sessions, _ := newTestSessions(t)
	ctx := t.Context()

	issued, err := sessions.Issue(ctx, NewContact{AgentID: "agent-1", Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.WithinDuration(t, time.Now().Add(DefaultSessionTTL), issued.Session.ExpiresAt, time.Minute)

	id, err := sessions.Authenticate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.Session.ID, id.ContactSessionID)
	assert.Equal(t, "agent-1", id.AgentID)
}

func TestContactSessions_IssueUnknownAgent(t *testing.T) {
	sessions, _ := newTestSessions(t)

	_, err := sessions.Issue(t.Context(), NewContact{AgentID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestContactSessions_ValidateExpired(t *testing.T) {
	sessions, _ := newTestSessions(t)
	ctx := t.Context()

	issued, err := sessions.Issue(ctx, NewContact{AgentID: "agent-1", Name: "Ada", Email: "a@b.c"})
	require.NoError(t, err)

	sessions.now = func() time.Time { return time.Now().Add(DefaultSessionTTL + time.Minute) }

	_, err = sessions.Validate(ctx, issued.Session.ID)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestContactSessions_ValidateUnknown(t *testing.T) {
	sessions, _ := newTestSessions(t)

	_, err := sessions.Validate(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestContactSessions_AuthenticateAgentMismatch(t *testing.T) {
	sessions, _ := newTestSessions(t)
	ctx := t.Context()

	issued, err := sessions.Issue(ctx, NewContact{AgentID: "agent-1", Name: "Ada", Email: "a@b.c"})
	require.NoError(t, err)

	forged, err := sessions.signer.Generate(Claims{ContactSessionID: issued.Session.ID, AgentID: "agent-2"}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = sessions.Authenticate(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
