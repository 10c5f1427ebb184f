// ABOUTME: Claude-backed chat backend using the Anthropic Messages streaming API
// ABOUTME: Accumulates text deltas into a single reply

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-sonnet-4-5"

const defaultSystemPrompt = "You are a helpful customer support assistant. Answer the visitor's latest message using the conversation history for context. Be concise."

var _ Backend = (*AnthropicBackend)(nil)

// MessagesClient is the part of the SDK client the backend uses.
// *sdk.MessageService satisfies it.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicBackend answers with a Claude model.
type AnthropicBackend struct {
	msg       MessagesClient
	model     string
	maxTokens int64
	system    string
}

// NewAnthropicBackend wraps an SDK messages client.
func NewAnthropicBackend(msg MessagesClient, model string, maxTokens int64) (*AnthropicBackend, error) {
	if msg == nil {
		return nil, errors.New("anthropic messages client is required")
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicBackend{msg: msg, model: model, maxTokens: maxTokens, system: defaultSystemPrompt}, nil
}

// NewAnthropicBackendFromAPIKey builds the SDK client from an API key.
func NewAnthropicBackendFromAPIKey(apiKey, model string) (*AnthropicBackend, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicBackend(&client.Messages, model, 0)
}

// Reply streams a completion and returns the concatenated text.
func (b *AnthropicBackend) Reply(ctx context.Context, req Request) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(b.model),
		MaxTokens: b.maxTokens,
		System:    []sdk.TextBlockParam{{Text: b.systemPrompt(req)}},
		Messages:  encodeHistory(req),
	}

	stream := b.msg.NewStreaming(ctx, params)
	defer stream.Close()

	var text strings.Builder
	for stream.Next() {
		event := stream.Current()
		delta, ok := event.AsAny().(sdk.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if td, ok := delta.Delta.AsAny().(sdk.TextDelta); ok {
			text.WriteString(td.Text)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("anthropic stream: %w", err)
	}

	if text.Len() == 0 {
		return "", ErrEmptyReply
	}
	return text.String(), nil
}

func (b *AnthropicBackend) systemPrompt(req Request) string {
	var tools []string
	if req.CalEnabled {
		tools = append(tools, "meeting booking")
	}
	if req.StripeEnabled {
		tools = append(tools, "payments")
	}
	if req.SlackEnabled {
		tools = append(tools, "escalation to the team on Slack")
	}
	if len(tools) == 0 {
		return b.system
	}
	prompt := b.system + " The team can help with: " + strings.Join(tools, ", ") + "."
	if req.CalEnabled && req.CalURL != "" {
		prompt += " Visitors can book a meeting at " + req.CalURL + "."
	}
	return prompt
}

// encodeHistory maps the conversation to alternating Claude turns. Operator
// messages count as assistant turns; consecutive same-side turns are merged.
func encodeHistory(req Request) []sdk.MessageParam {
	type turn struct {
		user bool
		text []string
	}
	var turns []turn
	add := func(user bool, content string) {
		if content == "" {
			return
		}
		if n := len(turns); n > 0 && turns[n-1].user == user {
			turns[n-1].text = append(turns[n-1].text, content)
			return
		}
		turns = append(turns, turn{user: user, text: []string{content}})
	}

	for _, h := range req.History {
		add(h.Role == "user", h.Content)
	}
	add(true, req.Prompt)

	// Claude requires the first turn to come from the user.
	for len(turns) > 0 && !turns[0].user {
		turns = turns[1:]
	}

	out := make([]sdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := sdk.NewTextBlock(strings.Join(t.text, "\n\n"))
		if t.user {
			out = append(out, sdk.NewUserMessage(block))
		} else {
			out = append(out, sdk.NewAssistantMessage(block))
		}
	}
	return out
}
