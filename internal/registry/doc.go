// Package registry fans real-time event frames out to subscribed channels.
//
// # Topics
//
// A topic is an agent id. Each topic holds a set of Channels; one connected
// dashboard tab owns one channel. GlobalTopic collects subscribers that are
// not scoped to an agent.
//
// # Delivery
//
// Broadcast encodes an envelope once and writes the frame to every channel
// in the topic. A write error (client gone, buffer full) removes the channel
// from the set in the same call, so a single dead client cannot stop
// delivery to the rest. Topics with no channels left are deleted.
//
// One registry instance exists per stream kind and is passed explicitly to
// the HTTP handlers and the publisher:
//
//	conversations := registry.New("conversations", logger)
//	messages := registry.New("messages", logger)
//
// Close drains every topic during shutdown.
package registry
