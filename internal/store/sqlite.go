// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent, session, conversation and message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database exists per connection
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			owner_id       TEXT NOT NULL,
			cal_enabled    INTEGER NOT NULL DEFAULT 0,
			stripe_enabled INTEGER NOT NULL DEFAULT 0,
			slack_enabled  INTEGER NOT NULL DEFAULT 0,
			cal_url        TEXT,
			created_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents(owner_id);

		CREATE TABLE IF NOT EXISTS contact_sessions (
			id            TEXT PRIMARY KEY,
			agent_id      TEXT NOT NULL,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL,
			metadata_json TEXT,
			expires_at    TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id                 TEXT PRIMARY KEY,
			agent_id           TEXT NOT NULL,
			contact_session_id TEXT NOT NULL,
			status             TEXT NOT NULL,
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL,
			FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE,
			FOREIGN KEY (contact_session_id) REFERENCES contact_sessions(id) ON DELETE CASCADE,

			CHECK (status IN ('notEscalated', 'escalated', 'resolved'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_agent ON conversations(agent_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id                 TEXT PRIMARY KEY,
			conversation_id    TEXT NOT NULL,
			contact_session_id TEXT NOT NULL,
			agent_id           TEXT,
			role               TEXT NOT NULL,
			content            TEXT NOT NULL,
			created_at         TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,

			CHECK (role IN ('user', 'assistant', 'humanAgent'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "agents",
			column: "cal_url",
			apply:  `ALTER TABLE agents ADD COLUMN cal_url TEXT`,
		},
		{
			table:  "messages",
			column: "agent_id",
			apply:  `ALTER TABLE messages ADD COLUMN agent_id TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		check := fmt.Sprintf(`SELECT 1 FROM pragma_table_info('%s') WHERE name = ?`, m.table)
		err := s.db.QueryRow(check, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE/PRIMARY KEY violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// nullString returns nil for empty strings so the column stores NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateAgent inserts a new agent.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	query := `
		INSERT INTO agents (id, name, owner_id, cal_enabled, stripe_enabled, slack_enabled, cal_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		agent.ID,
		agent.Name,
		agent.OwnerID,
		agent.CalEnabled,
		agent.StripeEnabled,
		agent.SlackEnabled,
		nullString(agent.CalURL),
		formatTime(agent.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "id", agent.ID, "owner_id", agent.OwnerID)
	return nil
}

const agentColumns = `id, name, owner_id, cal_enabled, stripe_enabled, slack_enabled, cal_url, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var agent Agent
	var calURL sql.NullString
	var createdAt string

	err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.OwnerID,
		&agent.CalEnabled,
		&agent.StripeEnabled,
		&agent.SlackEnabled,
		&calURL,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	agent.CalURL = calURL.String
	agent.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing agent created_at: %w", err)
	}
	return &agent, nil
}

// GetAgent retrieves an agent by ID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns every agent owned by ownerID, oldest first.
func (s *SQLiteStore) ListAgents(ctx context.Context, ownerID string) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE owner_id = ? ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}

// CreateContactSession inserts a new visitor session.
func (s *SQLiteStore) CreateContactSession(ctx context.Context, session *ContactSession) error {
	var metadata any
	if len(session.Metadata) > 0 {
		data, err := json.Marshal(session.Metadata)
		if err != nil {
			return fmt.Errorf("encoding session metadata: %w", err)
		}
		metadata = string(data)
	}

	query := `
		INSERT INTO contact_sessions (id, agent_id, name, email, metadata_json, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.AgentID,
		session.Name,
		session.Email,
		metadata,
		formatTime(session.ExpiresAt),
		formatTime(session.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting contact session: %w", err)
	}

	s.logger.Debug("created contact session", "id", session.ID, "agent_id", session.AgentID)
	return nil
}

// GetContactSession retrieves a visitor session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetContactSession(ctx context.Context, id string) (*ContactSession, error) {
	query := `
		SELECT id, agent_id, name, email, metadata_json, expires_at, created_at
		FROM contact_sessions
		WHERE id = ?
	`

	var session ContactSession
	var metadata sql.NullString
	var expiresAt, createdAt string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.AgentID,
		&session.Name,
		&session.Email,
		&metadata,
		&expiresAt,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact session: %w", err)
	}

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &session.Metadata); err != nil {
			return nil, fmt.Errorf("decoding session metadata: %w", err)
		}
	}
	if session.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &session, nil
}

// CreateConversation inserts a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, agent_id, contact_session_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.AgentID,
		conv.ContactSessionID,
		conv.Status,
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "agent_id", conv.AgentID)
	return nil
}

const conversationColumns = `id, agent_id, contact_session_id, status, created_at, updated_at`

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAt, updatedAt string

	err := row.Scan(
		&conv.ID,
		&conv.AgentID,
		&conv.ContactSessionID,
		&conv.Status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns an agent's conversations, newest first.
// A limit of 0 or less returns DefaultMessageLimit rows.
func (s *SQLiteStore) ListConversations(ctx context.Context, agentID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE agent_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

// UpdateConversationStatus sets the status and bumps updated_at.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) UpdateConversationStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating conversation status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated conversation status", "id", id, "status", status)
	return nil
}

// CreateMessage inserts a message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, contact_session_id, agent_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.ContactSessionID,
		nullString(msg.AgentID),
		msg.Role,
		msg.Content,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "role", msg.Role)
	return nil
}

// ListMessages returns a page of a conversation's messages, oldest first.
// A limit of 0 or less returns DefaultMessageLimit rows.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, contact_session_id, agent_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ? OFFSET ?
	`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// RecentMessages returns the last limit messages of a conversation, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, contact_session_id, agent_id, role, content, created_at
		FROM (
			SELECT id, conversation_id, contact_session_id, agent_id, role, content, created_at, rowid AS seq
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, seq ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		var msg Message
		var agentID sql.NullString
		var createdAt string

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.ContactSessionID, &agentID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.AgentID = agentID.String
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}
