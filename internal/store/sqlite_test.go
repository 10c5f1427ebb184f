// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Runs the shared behavior suite plus SQLite-specific file and constraint checks

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return newTestStore(t)
	})
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	seedAgentAndSession(t, t.Context(), s, "agent-1", "cs-1")
	_, err = s.GetAgent(t.Context(), "agent-1")
	assert.NoError(t, err)
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	seedAgentAndSession(t, t.Context(), s, "agent-1", "cs-1")
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.GetContactSession(t.Context(), "cs-1")
	assert.NoError(t, err)
}

func TestSQLiteStore_RejectsUnknownStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	seedAgentAndSession(t, ctx, s, "agent-1", "cs-1")

	err := s.CreateConversation(ctx, &Conversation{
		ID: "conv-1", AgentID: "agent-1", ContactSessionID: "cs-1", Status: "unresolved",
		CreatedAt: baseTime, UpdatedAt: baseTime,
	})
	assert.Error(t, err)
}

func TestSQLiteStore_MessageRequiresConversation(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateMessage(t.Context(), &Message{
		ID: "m-1", ConversationID: "nope", ContactSessionID: "cs", Role: RoleUser, Content: "x", CreatedAt: baseTime,
	})
	assert.Error(t, err)
}
