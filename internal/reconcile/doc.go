// Package reconcile merges server events into client-side state.
//
// A Timeline holds one conversation's messages, including entries the
// client rendered before the server confirmed them. Apply replaces those
// placeholders in place when the authoritative event arrives, and ignores
// ids it has already applied, so replayed frames never duplicate an entry.
// An Inbox does the same for an agent's conversation list.
//
// Watcher is the transport: it follows an SSE endpoint and reconnects
// with backoff. There is no replay; whatever was broadcast while the
// connection was down is gone.
package reconcile
