// ABOUTME: Cross-process forwarding of committed events to companion processes
// ABOUTME: Defines the Forwarder interface and the HTTP companion implementation

package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
)

// Forwarder delivers an envelope to another process. Implementations must
// honor ctx cancellation; callers bound every call with a timeout.
type Forwarder interface {
	Name() string
	Forward(ctx context.Context, env events.Envelope) error
}

// Ingest paths on a companion process.
const (
	ConversationsPath = "/events/conversations"
	MessagesPath      = "/events/messages"
)

// PathFor returns the ingest path for an envelope type, or "" if the type
// is never forwarded.
func PathFor(t events.Type) string {
	switch t {
	case events.TypeNewConversation:
		return ConversationsPath
	case events.TypeNewMessage:
		return MessagesPath
	default:
		return ""
	}
}

// HTTPForwarder POSTs envelopes to a companion's ingest endpoints.
type HTTPForwarder struct {
	name    string
	baseURL string
	token   string
	client  *http.Client
}

// HTTPOption configures an HTTPForwarder.
type HTTPOption func(*HTTPForwarder)

// WithBearerToken sets the Authorization header sent to the companion.
func WithBearerToken(token string) HTTPOption {
	return func(f *HTTPForwarder) {
		f.token = token
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(f *HTTPForwarder) {
		f.client = c
	}
}

// NewHTTPForwarder creates a forwarder for the companion at baseURL.
func NewHTTPForwarder(name, baseURL string, opts ...HTTPOption) *HTTPForwarder {
	f := &HTTPForwarder{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name identifies the forwarder in logs and metrics.
func (f *HTTPForwarder) Name() string {
	return f.name
}

// Forward POSTs env. Any non-2xx response is an error.
func (f *HTTPForwarder) Forward(ctx context.Context, env events.Envelope) error {
	path := PathFor(env.Type())
	if path == "" {
		return nil
	}

	body, err := events.Encode(env)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("companion returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
