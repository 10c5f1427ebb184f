// ABOUTME: PostgreSQL implementation of the Store interface using go-pg
// ABOUTME: Maps domain types onto go-pg models and creates tables on open

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
)

type agentModel struct {
	tableName struct{} `pg:"agents"`

	ID            string    `pg:"id,pk"`
	Name          string    `pg:"name,notnull"`
	OwnerID       string    `pg:"owner_id,notnull"`
	CalEnabled    bool      `pg:"cal_enabled,use_zero"`
	StripeEnabled bool      `pg:"stripe_enabled,use_zero"`
	SlackEnabled  bool      `pg:"slack_enabled,use_zero"`
	CalURL        string    `pg:"cal_url"`
	CreatedAt     time.Time `pg:"created_at,notnull"`
}

type contactSessionModel struct {
	tableName struct{} `pg:"contact_sessions"`

	ID        string         `pg:"id,pk"`
	AgentID   string         `pg:"agent_id,notnull"`
	Name      string         `pg:"name,notnull"`
	Email     string         `pg:"email,notnull"`
	Metadata  map[string]any `pg:"metadata,type:jsonb"`
	ExpiresAt time.Time      `pg:"expires_at,notnull"`
	CreatedAt time.Time      `pg:"created_at,notnull"`
}

type conversationModel struct {
	tableName struct{} `pg:"conversations"`

	ID               string    `pg:"id,pk"`
	AgentID          string    `pg:"agent_id,notnull"`
	ContactSessionID string    `pg:"contact_session_id,notnull"`
	Status           string    `pg:"status,notnull"`
	CreatedAt        time.Time `pg:"created_at,notnull"`
	UpdatedAt        time.Time `pg:"updated_at,notnull"`
}

type messageModel struct {
	tableName struct{} `pg:"messages"`

	ID               string    `pg:"id,pk"`
	ConversationID   string    `pg:"conversation_id,notnull"`
	ContactSessionID string    `pg:"contact_session_id,notnull"`
	AgentID          string    `pg:"agent_id"`
	Role             string    `pg:"role,notnull"`
	Content          string    `pg:"content,notnull"`
	CreatedAt        time.Time `pg:"created_at,notnull"`
}

// PostgresOptions configures the Postgres connection.
type PostgresOptions struct {
	// URL is a postgres:// connection string. When set, the other fields are ignored.
	URL      string
	Addr     string
	User     string
	Password string
	Database string
}

// PostgresStore implements the Store interface on PostgreSQL.
type PostgresStore struct {
	db     *pg.DB
	logger *slog.Logger
}

// NewPostgresStore connects, verifies the connection, and creates any
// missing tables.
func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store", "driver", "postgres")

	var pgOpts *pg.Options
	if opts.URL != "" {
		parsed, err := pg.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing postgres url: %w", err)
		}
		pgOpts = parsed
	} else {
		pgOpts = &pg.Options{
			Addr:     opts.Addr,
			User:     opts.User,
			Password: opts.Password,
			Database: opts.Database,
		}
	}

	db := pg.Connect(pgOpts)
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping (%s): %w", pgOpts.Addr, err)
	}

	s := &PostgresStore{db: db, logger: logger}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("postgres store initialized", "addr", pgOpts.Addr, "database", pgOpts.Database)
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	models := []any{
		(*agentModel)(nil),
		(*contactSessionModel)(nil),
		(*conversationModel)(nil),
		(*messageModel)(nil),
	}
	for _, model := range models {
		err := s.db.ModelContext(ctx, model).CreateTable(&orm.CreateTableOptions{
			IfNotExists: true,
		})
		if err != nil {
			return err
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents (owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_agent ON conversations (agent_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at)`,
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing postgres store")
	return s.db.Close()
}

// mapPGError translates go-pg errors into store sentinels.
func mapPGError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pg.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr pg.Error
	if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
		return ErrDuplicate
	}
	return fmt.Errorf("%s: %w", what, err)
}

// CreateAgent inserts a new agent.
func (s *PostgresStore) CreateAgent(ctx context.Context, agent *Agent) error {
	model := &agentModel{
		ID:            agent.ID,
		Name:          agent.Name,
		OwnerID:       agent.OwnerID,
		CalEnabled:    agent.CalEnabled,
		StripeEnabled: agent.StripeEnabled,
		SlackEnabled:  agent.SlackEnabled,
		CalURL:        agent.CalURL,
		CreatedAt:     agent.CreatedAt.UTC(),
	}
	_, err := s.db.ModelContext(ctx, model).Insert()
	return mapPGError(err, "inserting agent")
}

func (m *agentModel) toAgent() *Agent {
	return &Agent{
		ID:            m.ID,
		Name:          m.Name,
		OwnerID:       m.OwnerID,
		CalEnabled:    m.CalEnabled,
		StripeEnabled: m.StripeEnabled,
		SlackEnabled:  m.SlackEnabled,
		CalURL:        m.CalURL,
		CreatedAt:     m.CreatedAt,
	}
}

// GetAgent retrieves an agent by ID.
func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	model := &agentModel{ID: id}
	if err := s.db.ModelContext(ctx, model).WherePK().Select(); err != nil {
		return nil, mapPGError(err, "querying agent")
	}
	return model.toAgent(), nil
}

// ListAgents returns every agent owned by ownerID, oldest first.
func (s *PostgresStore) ListAgents(ctx context.Context, ownerID string) ([]*Agent, error) {
	var models []agentModel
	err := s.db.ModelContext(ctx, &models).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Select()
	if err != nil {
		return nil, mapPGError(err, "querying agents")
	}

	agents := make([]*Agent, 0, len(models))
	for i := range models {
		agents = append(agents, models[i].toAgent())
	}
	return agents, nil
}

// CreateContactSession inserts a new visitor session.
func (s *PostgresStore) CreateContactSession(ctx context.Context, session *ContactSession) error {
	model := &contactSessionModel{
		ID:        session.ID,
		AgentID:   session.AgentID,
		Name:      session.Name,
		Email:     session.Email,
		Metadata:  session.Metadata,
		ExpiresAt: session.ExpiresAt.UTC(),
		CreatedAt: session.CreatedAt.UTC(),
	}
	_, err := s.db.ModelContext(ctx, model).Insert()
	return mapPGError(err, "inserting contact session")
}

// GetContactSession retrieves a visitor session by ID.
func (s *PostgresStore) GetContactSession(ctx context.Context, id string) (*ContactSession, error) {
	model := &contactSessionModel{ID: id}
	if err := s.db.ModelContext(ctx, model).WherePK().Select(); err != nil {
		return nil, mapPGError(err, "querying contact session")
	}
	return &ContactSession{
		ID:        model.ID,
		AgentID:   model.AgentID,
		Name:      model.Name,
		Email:     model.Email,
		Metadata:  model.Metadata,
		ExpiresAt: model.ExpiresAt,
		CreatedAt: model.CreatedAt,
	}, nil
}

func (m *conversationModel) toConversation() *Conversation {
	return &Conversation{
		ID:               m.ID,
		AgentID:          m.AgentID,
		ContactSessionID: m.ContactSessionID,
		Status:           m.Status,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// CreateConversation inserts a new conversation.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	model := &conversationModel{
		ID:               conv.ID,
		AgentID:          conv.AgentID,
		ContactSessionID: conv.ContactSessionID,
		Status:           conv.Status,
		CreatedAt:        conv.CreatedAt.UTC(),
		UpdatedAt:        conv.UpdatedAt.UTC(),
	}
	_, err := s.db.ModelContext(ctx, model).Insert()
	return mapPGError(err, "inserting conversation")
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	model := &conversationModel{ID: id}
	if err := s.db.ModelContext(ctx, model).WherePK().Select(); err != nil {
		return nil, mapPGError(err, "querying conversation")
	}
	return model.toConversation(), nil
}

// ListConversations returns an agent's conversations, newest first.
func (s *PostgresStore) ListConversations(ctx context.Context, agentID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	var models []conversationModel
	err := s.db.ModelContext(ctx, &models).
		Where("agent_id = ?", agentID).
		Order("created_at DESC").
		Limit(limit).
		Select()
	if err != nil {
		return nil, mapPGError(err, "querying conversations")
	}

	convs := make([]*Conversation, 0, len(models))
	for i := range models {
		convs = append(convs, models[i].toConversation())
	}
	return convs, nil
}

// UpdateConversationStatus sets the status and bumps updated_at.
func (s *PostgresStore) UpdateConversationStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ModelContext(ctx, (*conversationModel)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Update()
	if err != nil {
		return mapPGError(err, "updating conversation status")
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage inserts a message.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *Message) error {
	model := &messageModel{
		ID:               msg.ID,
		ConversationID:   msg.ConversationID,
		ContactSessionID: msg.ContactSessionID,
		AgentID:          msg.AgentID,
		Role:             msg.Role,
		Content:          msg.Content,
		CreatedAt:        msg.CreatedAt.UTC(),
	}
	_, err := s.db.ModelContext(ctx, model).Insert()
	return mapPGError(err, "inserting message")
}

// ListMessages returns a page of a conversation's messages, oldest first.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if offset < 0 {
		offset = 0
	}

	var models []messageModel
	err := s.db.ModelContext(ctx, &models).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC", "id ASC").
		Offset(offset).
		Limit(limit).
		Select()
	if err != nil {
		return nil, mapPGError(err, "querying messages")
	}

	return toMessages(models), nil
}

// RecentMessages returns the last limit messages of a conversation, oldest first.
func (s *PostgresStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	var models []messageModel
	err := s.db.ModelContext(ctx, &models).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC", "id DESC").
		Limit(limit).
		Select()
	if err != nil {
		return nil, mapPGError(err, "querying recent messages")
	}

	slices.Reverse(models)
	return toMessages(models), nil
}

func toMessages(models []messageModel) []*Message {
	messages := make([]*Message, 0, len(models))
	for _, m := range models {
		messages = append(messages, &Message{
			ID:               m.ID,
			ConversationID:   m.ConversationID,
			ContactSessionID: m.ContactSessionID,
			AgentID:          m.AgentID,
			Role:             m.Role,
			Content:          m.Content,
			CreatedAt:        m.CreatedAt,
		})
	}
	return messages
}
