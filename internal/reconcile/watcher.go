// ABOUTME: SSE client that follows an event stream and reconnects on loss
// ABOUTME: Decodes frames, drops replayed ids, and never asks for a backlog

package reconcile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/dedupe"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
)

// ErrRejected is returned by Run when the server answers with a 4xx status.
// Retrying would get the same answer.
var ErrRejected = errors.New("stream request rejected")

// Watcher follows one SSE endpoint.
type Watcher struct {
	url        string
	client     *http.Client
	seen       *dedupe.Cache
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithBackoff sets the reconnect delay range.
func WithBackoff(minDelay, maxDelay time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.minBackoff = minDelay
		w.maxBackoff = maxDelay
	}
}

// WithClient replaces the HTTP client. It must not set a total timeout.
func WithClient(c *http.Client) WatcherOption {
	return func(w *Watcher) {
		w.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = l
	}
}

// NewWatcher creates a watcher for url.
func NewWatcher(url string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		url:        url,
		client:     &http.Client{},
		seen:       dedupe.New(30*time.Minute, 4096),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "watcher", "url", url)
	return w
}

// Run streams until ctx is done, calling handle for every new event.
// Connected frames are passed through so callers can observe reconnects.
// Events broadcast while disconnected are lost.
func (w *Watcher) Run(ctx context.Context, handle func(events.Envelope)) error {
	delay := w.minBackoff
	for {
		opened, err := w.stream(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrRejected) {
			return err
		}
		if opened {
			delay = w.minBackoff
		}
		if err != nil {
			w.logger.Warn("stream lost, reconnecting", "error", err, "delay", delay)
		} else {
			w.logger.Debug("stream ended, reconnecting", "delay", delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, w.maxBackoff)
	}
}

// stream runs one connection. opened reports whether the server accepted it.
func (w *Watcher) stream(ctx context.Context, handle func(events.Envelope)) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := w.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("connecting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return false, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return false, err
	}

	return true, ParseFrames(ctx, resp.Body, func(data []byte) {
		env, err := events.Decode(data)
		if err != nil {
			w.logger.Debug("discarding frame", "error", err)
			return
		}
		if id := env.ID(); id != "" && w.seen.CheckAndMark(string(env.Type())+":"+id) {
			return
		}
		handle(env)
	})
}

// ParseFrames reads SSE frames from body and calls onData with the joined
// data lines of each one. Comment lines and other fields are skipped.
func ParseFrames(ctx context.Context, body io.Reader, onData func([]byte)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLines []string
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()
		switch {
		case line == "":
			if len(dataLines) > 0 {
				onData([]byte(strings.Join(dataLines, "\n")))
			}
			dataLines = nil
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading SSE stream: %w", err)
	}
	return nil
}
