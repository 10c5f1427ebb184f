// Package sse serves Server-Sent Event streams backed by a registry topic.
//
// A stream moves through three states:
//
//	CONNECTING -> OPEN -> CLOSED
//
// On entry the handler sets the event-stream headers and writes a
// "connected" frame. It then subscribes a buffered channel to the topic and
// relays every frame the registry enqueues. The stream closes when the
// client disconnects, the maximum lifetime elapses, a write fails, or the
// registry closes the channel. Every exit path unsubscribes.
//
// Idle streams receive ": keep-alive" comment frames so proxies keep the
// connection open.
package sse
