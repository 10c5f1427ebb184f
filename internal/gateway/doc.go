// Package gateway wires the inbox gateway together and serves it.
//
// # Overview
//
// A Gateway owns the store, the two event registries (conversations and
// messages), the publisher that feeds them, the conversation service that
// writes records, and the HTTP and gRPC servers in front of all of it.
//
// # Event Streams
//
//   - GET /events/conversations?agentId=X - new_conversation frames for agent X
//   - GET /events/messages?agentId=X - new_message frames for agent X
//   - POST /events/conversations, POST /events/messages - ingestion from
//     companion processes, guarded by events.ingest_token
//
// Every stream starts with a connected frame. A missing agentId is rejected
// with 400 before any registry is touched. GET /events/conversations with
// test=true broadcasts a synthetic conversation instead of streaming.
//
// # Widget and Dashboard API
//
//   - POST /api/contact-sessions - issue a visitor token
//   - POST /api/conversations - open a conversation (visitor token)
//   - GET|POST /api/conversations/{id}/messages - history and visitor messages
//   - POST /api/agents, GET /api/agents - agent management (operator token)
//   - GET /api/agents/{id}/conversations - inbox listing
//   - GET|POST /api/dashboard/conversations/{id}/messages - operator replies
//   - PATCH /api/dashboard/conversations/{id} - escalate or resolve
//
// # Health
//
// GET /health answers OK. GET /health/ready reports per-registry stream
// counts. When a gRPC listener is configured it serves grpc.health.v1.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Shutdown closes both registries first so open streams end and the HTTP
// server can drain.
package gateway
