// ABOUTME: Behavior suite shared by every Store implementation
// ABOUTME: Covers CRUD, not-found/duplicate sentinels, ordering, and pagination

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func seedAgentAndSession(t *testing.T, ctx context.Context, s Store, agentID, sessionID string) {
	t.Helper()
	require.NoError(t, s.CreateAgent(ctx, &Agent{
		ID:         agentID,
		Name:       "Support Bot",
		OwnerID:    "owner-1",
		CalEnabled: true,
		CalURL:     "https://cal.example/acme",
		CreatedAt:  baseTime,
	}))
	require.NoError(t, s.CreateContactSession(ctx, &ContactSession{
		ID:        sessionID,
		AgentID:   agentID,
		Name:      "Visitor",
		Email:     "visitor@example.com",
		Metadata:  map[string]any{"userAgent": "test", "timezoneOffset": float64(-330), "cookieEnabled": true},
		ExpiresAt: baseTime.Add(24 * time.Hour),
		CreatedAt: baseTime,
	}))
}

func runStoreSuite(t *testing.T, newStore storeFactory) {
	t.Run("AgentRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		seedAgentAndSession(t, ctx, s, "agent-1", "cs-1")

		agent, err := s.GetAgent(ctx, "agent-1")
		require.NoError(t, err)
		assert.Equal(t, "Support Bot", agent.Name)
		assert.True(t, agent.CalEnabled)
		assert.False(t, agent.StripeEnabled)
		assert.Equal(t, "https://cal.example/acme", agent.CalURL)
		assert.True(t, agent.CreatedAt.Equal(baseTime))

		agents, err := s.ListAgents(ctx, "owner-1")
		require.NoError(t, err)
		assert.Len(t, agents, 1)

		none, err := s.ListAgents(ctx, "owner-2")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		_, err := s.GetAgent(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetContactSession(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetConversation(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.UpdateConversationStatus(ctx, "missing", StatusEscalated), ErrNotFound)
	})

	t.Run("Duplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		seedAgentAndSession(t, ctx, s, "agent-1", "cs-1")

		err := s.CreateAgent(ctx, &Agent{ID: "agent-1", Name: "x", OwnerID: "o", CreatedAt: baseTime})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("ContactSessionMetadata", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		seedAgentAndSession(t, ctx, s, "agent-1", "cs-1")

		session, err := s.GetContactSession(ctx, "cs-1")
		require.NoError(t, err)
		assert.Equal(t, "agent-1", session.AgentID)
		assert.Equal(t, "test", session.Metadata["userAgent"])
		assert.Equal(t, float64(-330), session.Metadata["timezoneOffset"])
		assert.Equal(t, true, session.Metadata["cookieEnabled"])
		assert.True(t, session.ExpiresAt.Equal(baseTime.Add(24*time.Hour)))
		assert.False(t, session.Expired(baseTime))
		assert.True(t, session.Expired(baseTime.Add(25*time.Hour)))
	})

	t.Run("ConversationLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		seedAgentAndSession(t, ctx, s, "agent-1", "cs-1")

		for i := 0; i < 3; i++ {
			require.NoError(t, s.CreateConversation(ctx, &Conversation{
				ID:               fmt.Sprintf("conv-%d", i),
				AgentID:          "agent-1",
				ContactSessionID: "cs-1",
				Status:           StatusNotEscalated,
				CreatedAt:        baseTime.Add(time.Duration(i) * time.Minute),
				UpdatedAt:        baseTime.Add(time.Duration(i) * time.Minute),
			}))
		}

		convs, err := s.ListConversations(ctx, "agent-1", 0)
		require.NoError(t, err)
		require.Len(t, convs, 3)
		assert.Equal(t, "conv-2", convs[0].ID, "newest first")

		limited, err := s.ListConversations(ctx, "agent-1", 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		require.NoError(t, s.UpdateConversationStatus(ctx, "conv-1", StatusEscalated))
		conv, err := s.GetConversation(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, StatusEscalated, conv.Status)
	})

	t.Run("MessagesOrderedAndPaged", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		seedAgentAndSession(t, ctx, s, "agent-1", "cs-1")
		require.NoError(t, s.CreateConversation(ctx, &Conversation{
			ID: "conv-1", AgentID: "agent-1", ContactSessionID: "cs-1",
			Status: StatusNotEscalated, CreatedAt: baseTime, UpdatedAt: baseTime,
		}))

		for i := 0; i < 5; i++ {
			require.NoError(t, s.CreateMessage(ctx, &Message{
				ID:               fmt.Sprintf("m-%d", i),
				ConversationID:   "conv-1",
				ContactSessionID: "cs-1",
				AgentID:          "agent-1",
				Role:             RoleUser,
				Content:          fmt.Sprintf("message %d", i),
				CreatedAt:        baseTime.Add(time.Duration(i) * time.Millisecond),
			}))
		}

		all, err := s.ListMessages(ctx, "conv-1", 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, msg := range all {
			assert.Equal(t, fmt.Sprintf("m-%d", i), msg.ID)
		}
		assert.Equal(t, "agent-1", all[0].AgentID)

		page, err := s.ListMessages(ctx, "conv-1", 2, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "m-2", page[0].ID)
		assert.Equal(t, "m-3", page[1].ID)

		past, err := s.ListMessages(ctx, "conv-1", 10, 2)
		require.NoError(t, err)
		assert.Empty(t, past)

		recent, err := s.RecentMessages(ctx, "conv-1", 3)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.Equal(t, "m-2", recent[0].ID)
		assert.Equal(t, "m-4", recent[2].ID)

		short, err := s.RecentMessages(ctx, "conv-1", 10)
		require.NoError(t, err)
		assert.Len(t, short, 5)

		none, err := s.RecentMessages(ctx, "conv-missing", 3)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestMockStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMockStore()
	})
}

func TestMockStore_InjectedFailure(t *testing.T) {
	s := NewMockStore()
	ctx := t.Context()
	seedAgentAndSession(t, ctx, s, "agent-1", "cs-1")
	require.NoError(t, s.CreateConversation(ctx, &Conversation{ID: "conv-1", AgentID: "agent-1", ContactSessionID: "cs-1", Status: StatusNotEscalated}))

	s.FailCreateMessage = fmt.Errorf("disk full")
	err := s.CreateMessage(ctx, &Message{ID: "m-1", ConversationID: "conv-1"})
	assert.EqualError(t, err, "disk full")
	assert.False(t, s.HasMessage("m-1"))
}

func TestMockStore_CancelledContext(t *testing.T) {
	s := NewMockStore()
	ctx := t.Context()
	seedAgentAndSession(t, ctx, s, "agent-1", "cs-1")
	require.NoError(t, s.CreateConversation(ctx, &Conversation{ID: "conv-1", AgentID: "agent-1", ContactSessionID: "cs-1", Status: StatusNotEscalated}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := s.CreateMessage(cancelled, &Message{ID: "m-1", ConversationID: "conv-1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, s.HasMessage("m-1"))
}

func TestMockStore_OnCommitSeesReadableRow(t *testing.T) {
	s := NewMockStore()
	ctx := t.Context()
	seedAgentAndSession(t, ctx, s, "agent-1", "cs-1")
	require.NoError(t, s.CreateConversation(ctx, &Conversation{ID: "conv-1", AgentID: "agent-1", ContactSessionID: "cs-1", Status: StatusNotEscalated}))

	var readable bool
	s.OnCommit = func(kind, id string) {
		if kind == "message" {
			readable = s.HasMessage(id)
		}
	}
	require.NoError(t, s.CreateMessage(ctx, &Message{ID: "m-1", ConversationID: "conv-1"}))
	assert.True(t, readable)
}

func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus(StatusNotEscalated))
	assert.True(t, ValidStatus(StatusEscalated))
	assert.True(t, ValidStatus(StatusResolved))
	assert.False(t, ValidStatus("unresolved"))
}
