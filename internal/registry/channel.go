// ABOUTME: Subscriber channel abstraction used by the event registry
// ABOUTME: BufferedChannel is the bounded, non-blocking channel owned by an SSE stream

package registry

import (
	"errors"
	"sync"
)

// defaultBufferSize is the frame buffer for each subscriber channel.
const defaultBufferSize = 64

var (
	// ErrChannelClosed is returned when writing to a channel whose reader has gone.
	ErrChannelClosed = errors.New("channel closed")
	// ErrChannelFull is returned when a slow reader has not drained its buffer.
	ErrChannelFull = errors.New("channel full")
)

// Channel is a writable sink for encoded frames. Any error from Send marks
// the channel dead and the registry prunes it.
type Channel interface {
	Send(frame []byte) error
}

// BufferedChannel is a bounded frame queue. Send never blocks.
type BufferedChannel struct {
	mu     sync.Mutex
	frames chan []byte
	closed bool
}

// NewBufferedChannel creates a channel holding up to size frames.
// A size of zero or less uses the default of 64.
func NewBufferedChannel(size int) *BufferedChannel {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &BufferedChannel{frames: make(chan []byte, size)}
}

// Send enqueues a frame without blocking.
func (c *BufferedChannel) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.frames <- frame:
		return nil
	default:
		return ErrChannelFull
	}
}

// Frames returns the receive side. It is closed by Close.
func (c *BufferedChannel) Frames() <-chan []byte {
	return c.frames
}

// Close marks the channel dead and closes the receive side. Safe to call
// more than once.
func (c *BufferedChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.frames)
}

// Closed reports whether Close has been called.
func (c *BufferedChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
