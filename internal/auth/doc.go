// Package auth authenticates widget visitors and operator tooling.
//
// # Contact Sessions
//
// A website visitor gets a contact session when the widget first loads:
//
//	issued, err := sessions.Issue(ctx, auth.NewContact{AgentID: id, Name: n, Email: e})
//
// The session row lives in the store with a 24 hour expiry. The visitor
// receives an HS256 JWT whose "sub" is the session id and whose "agt" claim
// is the agent id. Every widget request presents the token; Authenticate
// verifies the signature and then re-reads the session so expired or
// deleted sessions stop working even while the JWT is still valid.
//
// # Middleware
//
//   - RequireContactSession: visitor routes, attaches Identity to the context
//   - RequireSharedToken: operator dashboard and companion ingestion routes
package auth
