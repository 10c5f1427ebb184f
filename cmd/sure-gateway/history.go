// ABOUTME: Loads existing conversations or messages before "watch" starts streaming
// ABOUTME: Seeds the reconcile views so events for loaded ids print once

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/gateway"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/reconcile"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/store"
)

// fetchJSON GETs url with the operator token and decodes a 200 response into v.
func fetchJSON(ctx context.Context, client *http.Client, rawURL, token string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// historyURL returns the dashboard endpoint holding what the stream would
// otherwise only show from now on. Empty when there is nothing to load.
func (o watchOptions) historyURL() string {
	base := strings.TrimRight(o.baseURL, "/")
	switch {
	case o.conversationID != "":
		return base + "/api/dashboard/conversations/" + url.PathEscape(o.conversationID) + "/messages"
	case !o.messages && o.agentID != "":
		return base + "/api/agents/" + url.PathEscape(o.agentID) + "/conversations"
	default:
		return ""
	}
}

// loadHistory seeds the printer from the dashboard API and returns how many
// entries it added.
func loadHistory(ctx context.Context, client *http.Client, opts watchOptions, p *eventPrinter) (int, error) {
	historyURL := opts.historyURL()
	switch {
	case historyURL == "":
		return 0, nil
	case p.timeline != nil:
		entries, err := fetchMessages(ctx, client, historyURL, opts.token)
		if err != nil {
			return 0, err
		}
		return p.loadTimeline(entries), nil
	case p.inbox != nil:
		var convs []gateway.ConversationResponse
		if err := fetchJSON(ctx, client, historyURL, opts.token, &convs); err != nil {
			return 0, err
		}
		entries := make([]reconcile.InboxEntry, 0, len(convs))
		for _, c := range convs {
			entries = append(entries, reconcile.InboxEntry{
				ConversationID:   c.ID,
				ContactSessionID: c.ContactSessionID,
				Status:           c.Status,
				CreatedAt:        parseTime(c.CreatedAt),
			})
		}
		return p.loadInbox(entries), nil
	default:
		return 0, nil
	}
}

// fetchMessages walks the message pages, oldest first, until a short page.
func fetchMessages(ctx context.Context, client *http.Client, pageURL, token string) ([]reconcile.Entry, error) {
	limit := store.DefaultMessageLimit
	var entries []reconcile.Entry
	for offset := 0; ; offset += limit {
		var page gateway.MessagesPageResponse
		u := fmt.Sprintf("%s?offset=%d&limit=%d", pageURL, offset, limit)
		if err := fetchJSON(ctx, client, u, token, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Messages {
			entries = append(entries, reconcile.Entry{
				ID:               m.ID,
				ConversationID:   m.ConversationID,
				ContactSessionID: m.ContactSessionID,
				Role:             m.Role,
				Content:          m.Content,
				CreatedAt:        parseTime(m.CreatedAt),
			})
		}
		if len(page.Messages) < limit {
			return entries, nil
		}
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
