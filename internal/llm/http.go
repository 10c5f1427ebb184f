// ABOUTME: HTTP chat backend that posts the flattened prompt to an agent service
// ABOUTME: Sends integration flags with each request and reads {"response": ...}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var _ Backend = (*HTTPBackend)(nil)

type httpRequest struct {
	Message       string `json:"message"`
	AgentID       string `json:"agentId"`
	CalEnabled    bool   `json:"CalEnabled"`
	StripeEnabled bool   `json:"StripeEnabled"`
	SlackEnabled  bool   `json:"SlackEnabled"`
	CalURL        string `json:"CalUrl"`
}

type httpResponse struct {
	Response string `json:"response"`
}

// HTTPBackend calls an agent service over HTTP.
type HTTPBackend struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPBackend creates a backend posting to url. apiKey is optional.
func NewHTTPBackend(url, apiKey string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPBackend{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

// Reply sends the request and returns the service's response text.
func (b *HTTPBackend) Reply(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(httpRequest{
		Message:       BuildPrompt(req.Prompt, req.History),
		AgentID:       req.AgentID,
		CalEnabled:    req.CalEnabled,
		StripeEnabled: req.StripeEnabled,
		SlackEnabled:  req.SlackEnabled,
		CalURL:        req.CalURL,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("agent service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if out.Response == "" {
		return "", ErrEmptyReply
	}
	return out.Response, nil
}
