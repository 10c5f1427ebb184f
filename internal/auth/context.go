// ABOUTME: Request identity for tracking visitors and operators through handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating identity via context

package auth

import "context"

// Identity is the authenticated caller of a widget request.
type Identity struct {
	ContactSessionID string
	AgentID          string
}

type identityKey struct{}

// WithIdentity returns a new context with the identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// MustFromContext retrieves the identity from the context.
// Panics if not present; only use behind RequireContactSession.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: identity not in context")
	}
	return id
}
