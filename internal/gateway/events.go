// ABOUTME: SSE subscription and event ingestion endpoints
// ABOUTME: Streams new_conversation/new_message frames per agent and accepts events from companions

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/auth"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/forward"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/registry"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/sse"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/store"
)

// conversationEventRequest is the body of POST /events/conversations.
type conversationEventRequest struct {
	ConversationID   string `json:"conversationId" validate:"required"`
	AgentID          string `json:"agentId" validate:"required"`
	ContactSessionID string `json:"contactSessionId" validate:"required"`
	Status           string `json:"status" validate:"omitempty,oneof=notEscalated escalated resolved"`
	CreatedAt        string `json:"createdAt" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// messageEventRequest is the body of POST /events/messages. AgentID is
// optional; without it the message is routed by its conversation.
type messageEventRequest struct {
	MessageID        string `json:"messageId" validate:"required"`
	ConversationID   string `json:"conversationId" validate:"required"`
	ContactSessionID string `json:"contactSessionId" validate:"required"`
	AgentID          string `json:"agentId"`
	Role             string `json:"role" validate:"omitempty,oneof=user assistant humanAgent"`
	Content          string `json:"content"`
	CreatedAt        string `json:"createdAt" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// ingestResponse acknowledges an accepted event. Delivered counts local
// subscriber channels the frame was queued on, which may be zero.
type ingestResponse struct {
	Message   string `json:"message"`
	Delivered int    `json:"delivered"`
}

func (g *Gateway) registerEventRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+forward.ConversationsPath, g.handleConversationStream)
	mux.HandleFunc("GET "+forward.MessagesPath, g.handleMessageStream)

	if g.config.Events.IngestToken == "" {
		g.logger.Info("event ingestion is unauthenticated, no events.ingest_token configured")
	}
	requireIngest := auth.RequireSharedToken(g.config.Events.IngestToken)
	mux.Handle("POST "+forward.ConversationsPath, requireIngest(http.HandlerFunc(g.handleIngestConversation)))
	mux.Handle("POST "+forward.MessagesPath, requireIngest(http.HandlerFunc(g.handleIngestMessage)))
}

// handleConversationStream handles GET /events/conversations?agentId=X.
// With test=true it broadcasts a synthetic conversation instead of streaming.
func (g *Gateway) handleConversationStream(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	if agentID == "" {
		sendJSONError(w, http.StatusBadRequest, "Missing agentId query parameter")
		return
	}

	if r.URL.Query().Get("test") == "true" {
		g.broadcastTestConversation(w, r, agentID)
		return
	}

	g.serveStream(w, r, g.conversations, agentID, agentID)
}

// handleMessageStream handles GET /events/messages?agentId=X. Without an
// agentId the global stream is served if enabled.
func (g *Gateway) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	topic := agentID
	if agentID == "" {
		if !g.config.Events.AllowGlobalStream {
			sendJSONError(w, http.StatusBadRequest, "Missing agentId query parameter")
			return
		}
		topic = registry.GlobalTopic
	}

	g.serveStream(w, r, g.messages, topic, agentID)
}

func (g *Gateway) serveStream(w http.ResponseWriter, r *http.Request, reg *registry.Registry, topic, agentID string) {
	err := g.streamer.Serve(w, r, sse.Stream{
		Registry: reg,
		Topic:    topic,
		Hello:    events.Connected{AgentID: agentID},
	})
	switch {
	case err == nil,
		errors.Is(err, sse.ErrClientGone),
		errors.Is(err, sse.ErrLifetimeExceeded),
		errors.Is(err, sse.ErrRegistryClosed):
	default:
		g.logger.Warn("stream ended with error", "registry", reg.Name(), "topic", topic, "error", err)
	}
}

func (g *Gateway) broadcastTestConversation(w http.ResponseWriter, r *http.Request, agentID string) {
	now := time.Now()
	env := events.NewConversation{
		ConversationID:   fmt.Sprintf("test-%d", now.UnixMilli()),
		AgentID:          agentID,
		ContactSessionID: "test-session",
		Status:           store.StatusNotEscalated,
		CreatedAt:        now,
	}
	delivered := g.publisher.Ingest(r.Context(), "test", env)
	g.logger.Info("test conversation broadcast", "agent_id", agentID, "delivered", delivered)
	writeJSON(w, http.StatusOK, ingestResponse{Message: "Test event broadcasted", Delivered: delivered})
}

// handleIngestConversation handles POST /events/conversations.
func (g *Gateway) handleIngestConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationEventRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}

	env := events.NewConversation{
		ConversationID:   req.ConversationID,
		AgentID:          req.AgentID,
		ContactSessionID: req.ContactSessionID,
		Status:           req.Status,
		CreatedAt:        parseCreatedAt(req.CreatedAt),
	}
	delivered := g.ingest(r.Context(), "http", env)
	writeJSON(w, http.StatusOK, ingestResponse{
		Message:   "Conversation event received and broadcasted successfully",
		Delivered: delivered,
	})
}

// handleIngestMessage handles POST /events/messages.
func (g *Gateway) handleIngestMessage(w http.ResponseWriter, r *http.Request) {
	var req messageEventRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}

	env := events.NewMessage{
		MessageID:        req.MessageID,
		ConversationID:   req.ConversationID,
		ContactSessionID: req.ContactSessionID,
		AgentID:          req.AgentID,
		Role:             req.Role,
		Content:          req.Content,
		CreatedAt:        parseCreatedAt(req.CreatedAt),
	}
	delivered := g.ingest(r.Context(), "http", env)
	writeJSON(w, http.StatusOK, ingestResponse{
		Message:   "Message event received and broadcasted successfully",
		Delivered: delivered,
	})
}

// ingest broadcasts an event committed by another process. An event seen
// recently from any source is dropped.
func (g *Gateway) ingest(ctx context.Context, source string, env events.Envelope) int {
	key := string(env.Type()) + ":" + env.ID()
	if g.ingested.CheckAndMark(key) {
		g.logger.Debug("dropping duplicate event", "source", source, "type", env.Type(), "id", env.ID())
		return 0
	}
	return g.publisher.Ingest(ctx, source, env)
}

// parseCreatedAt parses a validated timestamp. Empty stays zero and is
// omitted from the frame.
func parseCreatedAt(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
