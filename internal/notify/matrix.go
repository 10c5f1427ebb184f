// ABOUTME: Posts operator notifications for new conversations into a Matrix room
// ABOUTME: Implements the forwarder interface so it runs on the publisher's forward path

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
)

// MatrixConfig identifies the bot account and the room to post in.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	RoomID      string
	// Messages also posts visitor messages, not just new conversations.
	Messages bool
}

// MatrixNotifier sends a short text per event to one room.
type MatrixNotifier struct {
	client   *mautrix.Client
	room     id.RoomID
	messages bool
	logger   *slog.Logger
}

// NewMatrixNotifier creates a notifier from cfg.
func NewMatrixNotifier(cfg MatrixConfig, logger *slog.Logger) (*MatrixNotifier, error) {
	if cfg.RoomID == "" {
		return nil, errors.New("matrix room id is required")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixNotifier{
		client:   client,
		room:     id.RoomID(cfg.RoomID),
		messages: cfg.Messages,
		logger:   logger.With("component", "matrix-notifier"),
	}, nil
}

// Name identifies the notifier in logs and metrics.
func (n *MatrixNotifier) Name() string {
	return "matrix"
}

// Forward posts a notification for env when it is one operators care about.
func (n *MatrixNotifier) Forward(ctx context.Context, env events.Envelope) error {
	text := n.format(env)
	if text == "" {
		return nil
	}
	if _, err := n.client.SendText(ctx, n.room, text); err != nil {
		return fmt.Errorf("sending to %s: %w", n.room, err)
	}
	n.logger.Debug("notification sent", "type", env.Type(), "id", env.ID())
	return nil
}

func (n *MatrixNotifier) format(env events.Envelope) string {
	switch e := env.(type) {
	case events.NewConversation:
		return fmt.Sprintf("New conversation %s for agent %s (session %s)", e.ConversationID, e.AgentID, e.ContactSessionID)
	case events.NewMessage:
		if !n.messages || e.Role != events.RoleUser {
			return ""
		}
		return fmt.Sprintf("[%s] visitor: %s", e.ConversationID, truncate(e.Content, 280))
	default:
		return ""
	}
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
