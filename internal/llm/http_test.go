// ABOUTME: Tests for the HTTP agent-service backend
// ABOUTME: Checks the request body shape and error handling with httptest

package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPBackend_Reply(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"We open at 9."}`))
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, "key", time.Second)
	reply, err := b.Reply(t.Context(), Request{
		AgentID:    "agent-1",
		Prompt:     "hours?",
		History:    []Turn{{Role: "user", Content: "hi"}},
		CalEnabled: true,
		CalURL:     "https://cal.example/acme",
	})
	require.NoError(t, err)
	assert.Equal(t, "We open at 9.", reply)

	assert.Equal(t, "Bearer key", auth)
	assert.Equal(t, "user: hours?\nConversation History : user: hi", got["message"])
	assert.Equal(t, "agent-1", got["agentId"])
	assert.Equal(t, true, got["CalEnabled"])
	assert.Equal(t, false, got["StripeEnabled"])
	assert.Equal(t, false, got["SlackEnabled"])
	assert.Equal(t, "https://cal.example/acme", got["CalUrl"])
}

func TestHTTPBackend_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewHTTPBackend(srv.URL, "", time.Second).Reply(t.Context(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestHTTPBackend_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPBackend(srv.URL, "", time.Second).Reply(t.Context(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
