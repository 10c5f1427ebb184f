// ABOUTME: Long-lived SSE stream bound to one registry topic
// ABOUTME: Writes the connected frame, relays broadcasts, and unsubscribes on every exit path

package sse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/metrics"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/registry"
)

const (
	defaultKeepAlive   = 25 * time.Second
	defaultMaxLifetime = 30 * time.Minute
)

// State is the lifecycle of one stream.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close reasons reported to OnClose and logs.
var (
	ErrClientGone       = errors.New("client disconnected")
	ErrLifetimeExceeded = errors.New("max connection lifetime reached")
	ErrRegistryClosed   = errors.New("channel closed by registry")
	ErrWriteFailed      = errors.New("write failed")
)

// Streamer serves SSE streams. The zero value is usable with defaults.
type Streamer struct {
	// KeepAlive is the interval between comment frames. Zero uses 25s,
	// negative disables keep-alives.
	KeepAlive time.Duration
	// MaxLifetime closes streams older than this. Zero uses 30m, negative
	// disables the limit.
	MaxLifetime time.Duration
	// BufferSize is the per-stream frame buffer.
	BufferSize int
	Logger     *slog.Logger
	Metrics    *metrics.Metrics

	// OnStateChange is called on every transition. Used by tests.
	OnStateChange func(State)
}

// Stream describes one subscription request.
type Stream struct {
	Registry *registry.Registry
	Topic    string
	// Hello is written before subscribing. Usually events.Connected.
	Hello events.Envelope
}

// Serve runs the stream until the client leaves, the lifetime expires, or
// the registry closes the channel. It returns the close reason.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, st Stream) error {
	logger := s.logger().With("registry", st.Registry.Name(), "topic", st.Topic)
	s.transition(StateConnecting)

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.transition(StateClosed)
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return errors.New("streaming not supported")
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn("could not disable write deadline", "error", err)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	hello, err := events.Frame(st.Hello)
	if err != nil {
		s.transition(StateClosed)
		return fmt.Errorf("encoding connected frame: %w", err)
	}
	if _, err := w.Write(hello); err != nil {
		s.transition(StateClosed)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	flusher.Flush()

	ch := registry.NewBufferedChannel(s.BufferSize)
	st.Registry.Subscribe(st.Topic, ch)
	defer func() {
		st.Registry.Unsubscribe(st.Topic, ch)
		ch.Close()
		s.transition(StateClosed)
	}()

	s.transition(StateOpen)
	s.Metrics.StreamOpened(st.Registry.Name())
	logger.Debug("stream open", "remote_addr", r.RemoteAddr)

	reason := s.loop(r.Context(), w, flusher, ch)
	logger.Debug("stream closed", "reason", reason)
	return reason
}

func (s *Streamer) loop(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, ch *registry.BufferedChannel) error {
	var keepAlive <-chan time.Time
	if interval := s.keepAlive(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	var expired <-chan time.Time
	if lifetime := s.maxLifetime(); lifetime > 0 {
		timer := time.NewTimer(lifetime)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ErrClientGone
		case <-expired:
			return ErrLifetimeExceeded
		case frame, ok := <-ch.Frames():
			if !ok {
				return ErrRegistryClosed
			}
			if _, err := w.Write(frame); err != nil {
				return fmt.Errorf("%w: %v", ErrWriteFailed, err)
			}
			flusher.Flush()
		case <-keepAlive:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return fmt.Errorf("%w: %v", ErrWriteFailed, err)
			}
			flusher.Flush()
		}
	}
}

func (s *Streamer) transition(next State) {
	if s.OnStateChange != nil {
		s.OnStateChange(next)
	}
}

func (s *Streamer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default().With("component", "sse")
	}
	return s.Logger
}

func (s *Streamer) keepAlive() time.Duration {
	if s.KeepAlive == 0 {
		return defaultKeepAlive
	}
	return s.KeepAlive
}

func (s *Streamer) maxLifetime() time.Duration {
	if s.MaxLifetime == 0 {
		return defaultMaxLifetime
	}
	return s.MaxLifetime
}
