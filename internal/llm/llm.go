// ABOUTME: Chat-completion backend abstraction for assistant replies
// ABOUTME: Defines the request shape, prompt format, and fallback reply

package llm

import (
	"context"
	"errors"
	"strings"
)

// FallbackReply is stored when a backend returns nothing usable.
const FallbackReply = "I'm sorry, I couldn't generate a response."

// ErrEmptyReply is returned when a backend answered with no text.
var ErrEmptyReply = errors.New("empty reply")

// Turn is one prior message of the conversation.
type Turn struct {
	Role    string
	Content string
}

// Request is everything a backend needs to answer a visitor.
type Request struct {
	AgentID string
	Prompt  string
	History []Turn

	CalEnabled    bool
	StripeEnabled bool
	SlackEnabled  bool
	CalURL        string
}

// Backend produces the assistant reply for a request.
type Backend interface {
	Reply(ctx context.Context, req Request) (string, error)
}

// BuildPrompt flattens the prompt and history into the single message the
// agent backends expect.
func BuildPrompt(prompt string, history []Turn) string {
	var b strings.Builder
	b.WriteString("user: ")
	b.WriteString(prompt)
	b.WriteString("\nConversation History : ")
	for i, turn := range history {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Content)
	}
	return b.String()
}

// ReplyOrFallback calls b and substitutes FallbackReply for an empty
// answer. Transport errors are returned unchanged.
func ReplyOrFallback(ctx context.Context, b Backend, req Request) (string, error) {
	reply, err := b.Reply(ctx, req)
	if errors.Is(err, ErrEmptyReply) {
		return FallbackReply, nil
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return FallbackReply, nil
	}
	return reply, nil
}
