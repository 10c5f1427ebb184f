// ABOUTME: Closed set of real-time event envelopes and their JSON wire form
// ABOUTME: Encodes/decodes flat {"type": ...} objects and SSE data frames

package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is the wire discriminant of an envelope.
type Type string

const (
	TypeConnected       Type = "connected"
	TypeNewConversation Type = "new_conversation"
	TypeNewMessage      Type = "new_message"
)

// Message roles carried by NewMessage.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleHumanAgent = "humanAgent"
)

// TimeFormat matches JavaScript's Date.toISOString, which browser clients parse.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	// ErrUnknownType is returned by Decode for a frame whose type is not part of the set.
	ErrUnknownType = errors.New("unknown event type")
	// ErrMalformed is returned by Decode when the payload is not a JSON object.
	ErrMalformed = errors.New("malformed event")
)

// Envelope is one of Connected, NewConversation or NewMessage.
type Envelope interface {
	Type() Type
	// ID is the deduplication key. Empty for Connected.
	ID() string
	envelope()
}

// Connected is the first frame written on every stream.
type Connected struct {
	AgentID string
}

// NewConversation announces a committed conversation.
type NewConversation struct {
	ConversationID   string
	AgentID          string
	ContactSessionID string
	Status           string
	CreatedAt        time.Time
}

// NewMessage announces a committed message. AgentID may be empty when the
// publisher could not resolve it.
type NewMessage struct {
	MessageID        string
	ConversationID   string
	ContactSessionID string
	AgentID          string
	Role             string
	Content          string
	CreatedAt        time.Time
}

func (Connected) Type() Type       { return TypeConnected }
func (NewConversation) Type() Type { return TypeNewConversation }
func (NewMessage) Type() Type      { return TypeNewMessage }

func (Connected) ID() string         { return "" }
func (e NewConversation) ID() string { return e.ConversationID }
func (e NewMessage) ID() string      { return e.MessageID }

func (Connected) envelope()       {}
func (NewConversation) envelope() {}
func (NewMessage) envelope()      {}

// wire is the flat JSON shape shared by every envelope.
type wire struct {
	Type             Type   `json:"type"`
	AgentID          string `json:"agentId,omitempty"`
	ConversationID   string `json:"conversationId,omitempty"`
	MessageID        string `json:"messageId,omitempty"`
	ContactSessionID string `json:"contactSessionId,omitempty"`
	Status           string `json:"status,omitempty"`
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	CreatedAt        string `json:"createdAt,omitempty"`
}

// Encode returns the JSON form of env.
func Encode(env Envelope) ([]byte, error) {
	var w wire
	switch e := env.(type) {
	case Connected:
		w = wire{Type: TypeConnected, AgentID: e.AgentID}
	case NewConversation:
		w = wire{
			Type:             TypeNewConversation,
			ConversationID:   e.ConversationID,
			AgentID:          e.AgentID,
			ContactSessionID: e.ContactSessionID,
			Status:           e.Status,
			CreatedAt:        formatTime(e.CreatedAt),
		}
	case NewMessage:
		w = wire{
			Type:             TypeNewMessage,
			MessageID:        e.MessageID,
			ConversationID:   e.ConversationID,
			ContactSessionID: e.ContactSessionID,
			AgentID:          e.AgentID,
			Role:             e.Role,
			Content:          e.Content,
			CreatedAt:        formatTime(e.CreatedAt),
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, env)
	}
	return json.Marshal(w)
}

// Frame returns env as a single SSE data frame.
func Frame(env Envelope) ([]byte, error) {
	data, err := Encode(env)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

// Decode parses a JSON payload produced by Encode.
func Decode(data []byte) (Envelope, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch w.Type {
	case TypeConnected:
		return Connected{AgentID: w.AgentID}, nil
	case TypeNewConversation:
		createdAt, err := parseTime(w.CreatedAt)
		if err != nil {
			return nil, err
		}
		return NewConversation{
			ConversationID:   w.ConversationID,
			AgentID:          w.AgentID,
			ContactSessionID: w.ContactSessionID,
			Status:           w.Status,
			CreatedAt:        createdAt,
		}, nil
	case TypeNewMessage:
		createdAt, err := parseTime(w.CreatedAt)
		if err != nil {
			return nil, err
		}
		return NewMessage{
			MessageID:        w.MessageID,
			ConversationID:   w.ConversationID,
			ContactSessionID: w.ContactSessionID,
			AgentID:          w.AgentID,
			Role:             w.Role,
			Content:          w.Content,
			CreatedAt:        createdAt,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeFormat)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: createdAt %q", ErrMalformed, s)
	}
	return t, nil
}
