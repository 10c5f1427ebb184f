// Package store provides persistence for agents, visitor sessions,
// conversations and messages.
//
// # Backends
//
//   - SQLiteStore: modernc.org/sqlite, WAL mode, schema created on open (default)
//   - PostgresStore: go-pg models, tables created on open
//   - MockStore: in-memory, for tests, with injectable failures
//
// All backends satisfy Store. A Create call that returns nil has committed
// the row; callers rely on this to publish real-time events only after the
// data is readable.
//
// # Errors
//
// Lookups of missing rows return ErrNotFound. Inserting an existing ID
// returns ErrDuplicate. Other errors are wrapped with context.
//
// # Ordering
//
// ListMessages returns messages oldest first. RecentMessages returns the
// newest messages of a conversation, also oldest first. ListConversations
// returns conversations newest first.
package store
