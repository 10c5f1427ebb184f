// ABOUTME: Tests for the widget and dashboard HTTP API
// ABOUTME: Covers the visitor flow, session checks, operator routes and assistant replies

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/config"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/conversation"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/llm"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/store"
)

const operatorToken = "operator-secret"

func createAgent(t *testing.T, s *store.MockStore, id string) {
	t.Helper()
	require.NoError(t, s.CreateAgent(context.Background(), &store.Agent{
		ID:        id,
		Name:      "Support",
		OwnerID:   "owner-1",
		CreatedAt: time.Now(),
	}))
}

func issueSession(t *testing.T, srv *httptest.Server, agentID string) ContactSessionResponse {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/contact-sessions", "", map[string]any{
		"agentId": agentID,
		"name":    "Ada",
		"email":   "ada@example.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session ContactSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	require.NotEmpty(t, session.Token)
	return session
}

func createConversation(t *testing.T, srv *httptest.Server, token string) ConversationResponse {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/conversations", token, map[string]any{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var conv ConversationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))
	return conv
}

func doRequest(t *testing.T, method, url, token string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestVisitorFlowPublishesEvents(t *testing.T) {
	gw, s, srv := newTestGateway(t)
	createAgent(t, s, "agent-1")

	convStream := openStream(t, srv.URL+"/events/conversations?agentId=agent-1")
	msgStream := openStream(t, srv.URL+"/events/messages?agentId=agent-1")
	nextEvent(t, convStream)
	nextEvent(t, msgStream)
	waitSubscribed(t, gw.conversations, "agent-1", 1)
	waitSubscribed(t, gw.messages, "agent-1", 1)

	session := issueSession(t, srv, "agent-1")
	conv := createConversation(t, srv, session.Token)
	assert.Equal(t, "agent-1", conv.AgentID)
	assert.Equal(t, session.ContactSessionID, conv.ContactSessionID)
	assert.Equal(t, store.StatusNotEscalated, conv.Status)

	created := nextEvent(t, convStream).(events.NewConversation)
	assert.Equal(t, conv.ID, created.ConversationID)

	greeting := nextEvent(t, msgStream).(events.NewMessage)
	assert.Equal(t, events.RoleAssistant, greeting.Role)
	assert.Equal(t, conversation.Greeting, greeting.Content)

	resp := postJSON(t, srv.URL+"/api/conversations/"+conv.ID+"/messages", session.Token, map[string]string{
		"content": "I need **help**",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent MessageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sent))

	userMsg := nextEvent(t, msgStream).(events.NewMessage)
	assert.Equal(t, sent.ID, userMsg.MessageID)
	assert.Equal(t, events.RoleUser, userMsg.Role)
	assert.Equal(t, "I need **help**", userMsg.Content)

	// Every event refers to a readable record.
	assert.True(t, s.HasMessage(greeting.MessageID))
	assert.True(t, s.HasMessage(userMsg.MessageID))

	history := doRequest(t, http.MethodGet, srv.URL+"/api/conversations/"+conv.ID+"/messages?render=html", session.Token, "")
	require.Equal(t, http.StatusOK, history.StatusCode)
	var page MessagesPageResponse
	require.NoError(t, json.NewDecoder(history.Body).Decode(&page))
	require.Len(t, page.Messages, 2)
	assert.Equal(t, greeting.MessageID, page.Messages[0].ID)
	assert.Contains(t, page.Messages[1].HTML, "<strong>help</strong>")
}

func TestCreateContactSession_UnknownAgent(t *testing.T) {
	_, _, srv := newTestGateway(t)

	resp := postJSON(t, srv.URL+"/api/contact-sessions", "", map[string]string{
		"agentId": "missing",
		"name":    "Ada",
		"email":   "ada@example.com",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateContactSession_Validation(t *testing.T) {
	_, _, srv := newTestGateway(t)

	resp := postJSON(t, srv.URL+"/api/contact-sessions", "", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing required fields: agentId, name; Invalid fields: email", decodeError(t, resp))
}

func TestCreateContactSession_RequiresNameAndEmail(t *testing.T) {
	_, s, srv := newTestGateway(t)
	createAgent(t, s, "agent-1")

	resp := postJSON(t, srv.URL+"/api/contact-sessions", "", map[string]string{"agentId": "agent-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing required fields: name, email", decodeError(t, resp))

	resp = postJSON(t, srv.URL+"/api/contact-sessions", "", map[string]string{"agentId": "agent-1", "name": "Ada"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing required fields: email", decodeError(t, resp))
}

func TestCreateContactSession_AcceptsWidgetMetadata(t *testing.T) {
	_, s, srv := newTestGateway(t)
	createAgent(t, s, "agent-1")

	resp := postJSON(t, srv.URL+"/api/contact-sessions", "", map[string]any{
		"agentId": "agent-1",
		"name":    "Ada",
		"email":   "ada@example.com",
		"metadata": map[string]any{
			"userAgent":      "x",
			"timezoneOffset": -330,
			"cookieEnabled":  true,
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session ContactSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))

	stored, err := s.GetContactSession(t.Context(), session.ContactSessionID)
	require.NoError(t, err)
	assert.Equal(t, "x", stored.Metadata["userAgent"])
	assert.Equal(t, float64(-330), stored.Metadata["timezoneOffset"])
	assert.Equal(t, true, stored.Metadata["cookieEnabled"])
}

func TestVisitorRoutesRequireToken(t *testing.T) {
	gw, _, srv := newTestGateway(t)

	resp := postJSON(t, srv.URL+"/api/conversations", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/conversations", "garbage", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, 0, gw.conversations.Stats().Subscribers)
}

func TestVisitorCannotReadAnotherConversation(t *testing.T) {
	_, s, srv := newTestGateway(t)
	createAgent(t, s, "agent-1")

	owner := issueSession(t, srv, "agent-1")
	other := issueSession(t, srv, "agent-1")
	conv := createConversation(t, srv, owner.Token)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/conversations/"+conv.ID, other.Token, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/conversations/"+conv.ID+"/messages", other.Token, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/conversations/"+conv.ID+"/messages", other.Token, map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/conversations/"+conv.ID, owner.Token, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVisitorMessage_EmptyContent(t *testing.T) {
	_, s, srv := newTestGateway(t)
	createAgent(t, s, "agent-1")
	session := issueSession(t, srv, "agent-1")
	conv := createConversation(t, srv, session.Token)

	resp := postJSON(t, srv.URL+"/api/conversations/"+conv.ID+"/messages", session.Token, map[string]string{"content": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing required fields: content", decodeError(t, resp))
}

func TestMessagesPage_InvalidPagination(t *testing.T) {
	_, s, srv := newTestGateway(t)
	createAgent(t, s, "agent-1")
	session := issueSession(t, srv, "agent-1")
	conv := createConversation(t, srv, session.Token)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/conversations/"+conv.ID+"/messages?offset=-1", session.Token, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/conversations/"+conv.ID+"/messages?limit=abc", session.Token, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDashboardRoutesRequireOperatorToken(t *testing.T) {
	_, s, srv := newTestGateway(t, func(c *config.Config) {
		c.Auth.OperatorToken = operatorToken
	})
	createAgent(t, s, "agent-1")

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/agents?ownerId=owner-1", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/agents?ownerId=owner-1", operatorToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var agents []AgentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "agent-1", agents[0].ID)
}

func TestCreateAgent(t *testing.T) {
	_, s, srv := newTestGateway(t)

	resp := postJSON(t, srv.URL+"/api/agents", "", map[string]any{
		"name":       "Sales",
		"ownerId":    "owner-2",
		"calEnabled": true,
		"calUrl":     "https://cal.example.com/sales",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var agent AgentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agent))
	assert.NotEmpty(t, agent.ID)
	assert.True(t, agent.CalEnabled)

	stored, err := s.GetAgent(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sales", stored.Name)

	resp = postJSON(t, srv.URL+"/api/agents", "", map[string]any{"name": "x", "ownerId": "o", "calUrl": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid fields: calUrl", decodeError(t, resp))
}

func TestOperatorReplyAndStatus(t *testing.T) {
	gw, s, srv := newTestGateway(t)
	createAgent(t, s, "agent-1")
	session := issueSession(t, srv, "agent-1")
	conv := createConversation(t, srv, session.Token)

	stream := openStream(t, srv.URL+"/events/messages?agentId=agent-1")
	nextEvent(t, stream)
	waitSubscribed(t, gw.messages, "agent-1", 1)

	resp := postJSON(t, srv.URL+"/api/dashboard/conversations/"+conv.ID+"/messages", "", map[string]string{
		"content": "A human is here",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	got := nextEvent(t, stream).(events.NewMessage)
	assert.Equal(t, events.RoleHumanAgent, got.Role)
	assert.Equal(t, session.ContactSessionID, got.ContactSessionID)

	resp = doRequest(t, http.MethodPatch, srv.URL+"/api/dashboard/conversations/"+conv.ID, "", `{"status":"escalated"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated ConversationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Equal(t, store.StatusEscalated, updated.Status)

	resp = doRequest(t, http.MethodPatch, srv.URL+"/api/dashboard/conversations/"+conv.ID, "", `{"status":"closed"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid fields: status", decodeError(t, resp))

	resp = doRequest(t, http.MethodPatch, srv.URL+"/api/dashboard/conversations/missing", "", `{"status":"resolved"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Status changes are not broadcast.
	assertNoEvent(t, stream)

	list := doRequest(t, http.MethodGet, srv.URL+"/api/agents/agent-1/conversations", "", "")
	require.Equal(t, http.StatusOK, list.StatusCode)
	var convs []ConversationResponse
	require.NoError(t, json.NewDecoder(list.Body).Decode(&convs))
	require.Len(t, convs, 1)
	assert.Equal(t, conv.ID, convs[0].ID)

	history := doRequest(t, http.MethodGet, srv.URL+"/api/dashboard/conversations/"+conv.ID+"/messages", "", "")
	require.Equal(t, http.StatusOK, history.StatusCode)
	var page MessagesPageResponse
	require.NoError(t, json.NewDecoder(history.Body).Decode(&page))
	assert.Len(t, page.Messages, 2)
}

type replyBackend struct {
	reply string
}

func (b replyBackend) Reply(context.Context, llm.Request) (string, error) {
	return b.reply, nil
}

func TestAssistantReplyIsStreamed(t *testing.T) {
	cfg := testConfig(t)
	s := store.NewMockStore()
	createAgent(t, s, "agent-1")

	gw, err := New(cfg, testLogger(), WithStore(s), WithBackend(replyBackend{reply: "Happy to help"}))
	require.NoError(t, err)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		_ = gw.Shutdown(context.Background())
		srv.Close()
	})

	session := issueSession(t, srv, "agent-1")
	conv := createConversation(t, srv, session.Token)

	stream := openStream(t, srv.URL+"/events/messages?agentId=agent-1")
	nextEvent(t, stream)
	waitSubscribed(t, gw.messages, "agent-1", 1)

	resp := postJSON(t, srv.URL+"/api/conversations/"+conv.ID+"/messages", session.Token, map[string]string{"content": "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Equal(t, events.RoleUser, nextEvent(t, stream).(events.NewMessage).Role)
	reply := nextEvent(t, stream).(events.NewMessage)
	assert.Equal(t, events.RoleAssistant, reply.Role)
	assert.Equal(t, "Happy to help", reply.Content)
	assert.True(t, s.HasMessage(reply.MessageID))
}
