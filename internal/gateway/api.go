// ABOUTME: HTTP API handlers for the chat widget and the operator dashboard
// ABOUTME: Creates sessions, conversations and messages through the conversation service

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/auth"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/conversation"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/render"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/store"
)

// CreateContactSessionRequest is the JSON request body for POST /api/contact-sessions.
type CreateContactSessionRequest struct {
	AgentID  string         `json:"agentId" validate:"required"`
	Name     string         `json:"name" validate:"required"`
	Email    string         `json:"email" validate:"required,email"`
	Metadata map[string]any `json:"metadata"`
}

// ContactSessionResponse is the JSON response for POST /api/contact-sessions.
type ContactSessionResponse struct {
	ContactSessionID string `json:"contactSessionId"`
	AgentID          string `json:"agentId"`
	Token            string `json:"token"`
	ExpiresAt        string `json:"expiresAt"`
}

// SendMessageRequest is the JSON request body for both message endpoints.
type SendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// UpdateStatusRequest is the JSON request body for PATCH /api/dashboard/conversations/{id}.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=notEscalated escalated resolved"`
}

// CreateAgentRequest is the JSON request body for POST /api/agents.
type CreateAgentRequest struct {
	Name          string `json:"name" validate:"required"`
	OwnerID       string `json:"ownerId" validate:"required"`
	CalEnabled    bool   `json:"calEnabled"`
	StripeEnabled bool   `json:"stripeEnabled"`
	SlackEnabled  bool   `json:"slackEnabled"`
	CalURL        string `json:"calUrl" validate:"omitempty,url"`
}

// AgentResponse is the JSON form of an agent.
type AgentResponse struct {
	ID            string `json:"agentId"`
	Name          string `json:"name"`
	OwnerID       string `json:"ownerId"`
	CalEnabled    bool   `json:"calEnabled"`
	StripeEnabled bool   `json:"stripeEnabled"`
	SlackEnabled  bool   `json:"slackEnabled"`
	CalURL        string `json:"calUrl,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

// ConversationResponse is the JSON form of a conversation.
type ConversationResponse struct {
	ID               string `json:"conversationId"`
	AgentID          string `json:"agentId"`
	ContactSessionID string `json:"contactSessionId"`
	Status           string `json:"status"`
	CreatedAt        string `json:"createdAt"`
	UpdatedAt        string `json:"updatedAt"`
}

// MessageResponse is the JSON form of a message. HTML is set when the
// caller asked for rendered content.
type MessageResponse struct {
	ID               string `json:"messageId"`
	ConversationID   string `json:"conversationId"`
	ContactSessionID string `json:"contactSessionId"`
	Role             string `json:"role"`
	Content          string `json:"content"`
	HTML             string `json:"html,omitempty"`
	CreatedAt        string `json:"createdAt"`
}

// MessagesPageResponse is the JSON response for message history.
type MessagesPageResponse struct {
	ConversationID string            `json:"conversationId"`
	Offset         int               `json:"offset"`
	Messages       []MessageResponse `json:"messages"`
}

func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	visitor := auth.RequireContactSession(g.sessions, g.logger)
	operator := auth.RequireSharedToken(g.config.Auth.OperatorToken)

	// Widget: the session endpoint is public, the rest need the visitor token.
	mux.HandleFunc("POST /api/contact-sessions", g.handleCreateContactSession)
	mux.Handle("POST /api/conversations", visitor(http.HandlerFunc(g.handleCreateConversation)))
	mux.Handle("GET /api/conversations/{id}", visitor(http.HandlerFunc(g.handleGetConversation)))
	mux.Handle("POST /api/conversations/{id}/messages", visitor(http.HandlerFunc(g.handleSendVisitorMessage)))
	mux.Handle("GET /api/conversations/{id}/messages", visitor(http.HandlerFunc(g.handleVisitorMessages)))

	// Dashboard
	mux.Handle("POST /api/agents", operator(http.HandlerFunc(g.handleCreateAgent)))
	mux.Handle("GET /api/agents", operator(http.HandlerFunc(g.handleListAgents)))
	mux.Handle("GET /api/agents/{id}/conversations", operator(http.HandlerFunc(g.handleListConversations)))
	mux.Handle("GET /api/dashboard/conversations/{id}/messages", operator(http.HandlerFunc(g.handleOperatorMessages)))
	mux.Handle("POST /api/dashboard/conversations/{id}/messages", operator(http.HandlerFunc(g.handleSendOperatorMessage)))
	mux.Handle("PATCH /api/dashboard/conversations/{id}", operator(http.HandlerFunc(g.handleUpdateStatus)))

	if g.config.Auth.OperatorToken == "" {
		g.logger.Warn("dashboard routes are unauthenticated - no auth.operator_token configured")
	}
}

// handleCreateContactSession handles POST /api/contact-sessions.
func (g *Gateway) handleCreateContactSession(w http.ResponseWriter, r *http.Request) {
	var req CreateContactSessionRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}

	issued, err := g.sessions.Issue(r.Context(), auth.NewContact{
		AgentID:  req.AgentID,
		Name:     req.Name,
		Email:    req.Email,
		Metadata: req.Metadata,
	})
	if errors.Is(err, auth.ErrUnknownAgent) {
		sendJSONError(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		g.logger.Error("issuing contact session", "agent_id", req.AgentID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, ContactSessionResponse{
		ContactSessionID: issued.Session.ID,
		AgentID:          issued.Session.AgentID,
		Token:            issued.Token,
		ExpiresAt:        formatTime(issued.Session.ExpiresAt),
	})
}

// handleCreateConversation handles POST /api/conversations for the
// authenticated visitor's agent.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	conv, err := g.service.CreateConversation(r.Context(), id.ContactSessionID, id.AgentID)
	if err != nil {
		g.sendServiceError(w, "creating conversation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toConversationResponse(conv))
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := g.ownedConversation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// handleSendVisitorMessage handles POST /api/conversations/{id}/messages.
func (g *Gateway) handleSendVisitorMessage(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var req SendMessageRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}

	msg, err := g.service.SendVisitorMessage(r.Context(), conversation.VisitorMessage{
		ConversationID:   r.PathValue("id"),
		ContactSessionID: id.ContactSessionID,
		Content:          req.Content,
	})
	if err != nil {
		g.sendServiceError(w, "sending visitor message", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// handleVisitorMessages handles GET /api/conversations/{id}/messages.
func (g *Gateway) handleVisitorMessages(w http.ResponseWriter, r *http.Request) {
	if _, ok := g.ownedConversation(w, r); !ok {
		return
	}
	g.writeMessagesPage(w, r)
}

// handleCreateAgent handles POST /api/agents.
func (g *Gateway) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}

	agent := &store.Agent{
		ID:            uuid.New().String(),
		Name:          req.Name,
		OwnerID:       req.OwnerID,
		CalEnabled:    req.CalEnabled,
		StripeEnabled: req.StripeEnabled,
		SlackEnabled:  req.SlackEnabled,
		CalURL:        req.CalURL,
		CreatedAt:     time.Now().UTC(),
	}
	if err := g.store.CreateAgent(r.Context(), agent); err != nil {
		g.logger.Error("creating agent", "owner_id", req.OwnerID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	g.logger.Info("agent created", "agent_id", agent.ID, "owner_id", agent.OwnerID)
	writeJSON(w, http.StatusCreated, toAgentResponse(agent))
}

// handleListAgents handles GET /api/agents?ownerId=X.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("ownerId")
	if ownerID == "" {
		sendJSONError(w, http.StatusBadRequest, "Missing ownerId query parameter")
		return
	}

	agents, err := g.store.ListAgents(r.Context(), ownerID)
	if err != nil {
		g.logger.Error("listing agents", "owner_id", ownerID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		resp = append(resp, toAgentResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListConversations handles GET /api/agents/{id}/conversations?limit=N.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}

	convs, err := g.service.ListConversations(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		g.sendServiceError(w, "listing conversations", err)
		return
	}

	resp := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		resp = append(resp, toConversationResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleOperatorMessages handles GET /api/dashboard/conversations/{id}/messages.
func (g *Gateway) handleOperatorMessages(w http.ResponseWriter, r *http.Request) {
	if _, err := g.service.GetConversation(r.Context(), r.PathValue("id")); err != nil {
		g.sendServiceError(w, "loading conversation", err)
		return
	}
	g.writeMessagesPage(w, r)
}

// handleSendOperatorMessage handles POST /api/dashboard/conversations/{id}/messages.
func (g *Gateway) handleSendOperatorMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}

	msg, err := g.service.SendOperatorMessage(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		g.sendServiceError(w, "sending operator message", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// handleUpdateStatus handles PATCH /api/dashboard/conversations/{id}.
func (g *Gateway) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}

	conv, err := g.service.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		g.sendServiceError(w, "updating status", err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// ownedConversation loads the path conversation and checks it belongs to
// the authenticated visitor. Another visitor's conversation is reported as
// missing.
func (g *Gateway) ownedConversation(w http.ResponseWriter, r *http.Request) (*store.Conversation, bool) {
	id := auth.MustFromContext(r.Context())

	conv, err := g.service.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendServiceError(w, "loading conversation", err)
		return nil, false
	}
	if conv.ContactSessionID != id.ContactSessionID {
		sendJSONError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	return conv, true
}

// writeMessagesPage writes one page of the path conversation's history.
// render=html adds the markdown rendering of each message.
func (g *Gateway) writeMessagesPage(w http.ResponseWriter, r *http.Request) {
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", store.DefaultMessageLimit)
	if !ok {
		return
	}
	convID := r.PathValue("id")

	msgs, err := g.service.ListMessages(r.Context(), convID, offset, limit)
	if err != nil {
		g.sendServiceError(w, "listing messages", err)
		return
	}

	renderHTML := r.URL.Query().Get("render") == "html"
	resp := MessagesPageResponse{
		ConversationID: convID,
		Offset:         offset,
		Messages:       make([]MessageResponse, 0, len(msgs)),
	}
	for _, m := range msgs {
		mr := toMessageResponse(m)
		if renderHTML {
			html, err := render.Markdown(m.Content)
			if err != nil {
				g.logger.Warn("rendering message", "message_id", m.ID, "error", err)
			}
			mr.HTML = html
		}
		resp.Messages = append(resp.Messages, mr)
	}
	writeJSON(w, http.StatusOK, resp)
}

// sendServiceError maps conversation service errors to HTTP responses.
func (g *Gateway) sendServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, conversation.ErrUnauthorized):
		sendJSONError(w, http.StatusUnauthorized, "Invalid session")
	case errors.Is(err, conversation.ErrNotFound):
		sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, conversation.ErrInvalidStatus), errors.Is(err, conversation.ErrEmptyContent):
		sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		g.logger.Error(op, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// queryInt parses a non-negative integer query parameter. On failure it
// writes a 400 and returns false.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		sendJSONError(w, http.StatusBadRequest, "invalid "+name+" parameter")
		return 0, false
	}
	return n, true
}

func toAgentResponse(a *store.Agent) AgentResponse {
	return AgentResponse{
		ID:            a.ID,
		Name:          a.Name,
		OwnerID:       a.OwnerID,
		CalEnabled:    a.CalEnabled,
		StripeEnabled: a.StripeEnabled,
		SlackEnabled:  a.SlackEnabled,
		CalURL:        a.CalURL,
		CreatedAt:     formatTime(a.CreatedAt),
	}
}

func toConversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:               c.ID,
		AgentID:          c.AgentID,
		ContactSessionID: c.ContactSessionID,
		Status:           c.Status,
		CreatedAt:        formatTime(c.CreatedAt),
		UpdatedAt:        formatTime(c.UpdatedAt),
	}
}

func toMessageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		ContactSessionID: m.ContactSessionID,
		Role:             m.Role,
		Content:          m.Content,
		CreatedAt:        formatTime(m.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(events.TimeFormat)
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError sends a JSON error response with the given status code and message.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
