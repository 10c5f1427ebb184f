// ABOUTME: Tests for sure-gateway CLI helpers
// ABOUTME: Covers path resolution, watch flags, event printing and the log handler

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/config"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SURE_CONFIG", "/etc/sure.yaml")
	assert.Equal(t, "/etc/sure.yaml", getConfigPath())

	t.Setenv("SURE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, "/xdg/sure/gateway.yaml", getConfigPath())

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/tester")
	assert.Equal(t, "/home/tester/.config/sure/gateway.yaml", getConfigPath())
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, "/data/sure", getDataPath())
}

func TestGatewayURL(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{HTTPAddr: "localhost:9000"}}
	assert.Equal(t, "http://localhost:9000", gatewayURL(cfg))

	cfg.Tailscale = config.TailscaleConfig{Enabled: true, Hostname: "sure", Funnel: true}
	assert.Equal(t, "https://sure", gatewayURL(cfg))
}

func TestWriteBootstrapConfigLoads(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "conf", "gateway.yaml")

	require.NoError(t, writeBootstrapConfig(configPath, filepath.Join(dir, "data", "gateway.db")))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Auth.ContactSecret)
	assert.NotEmpty(t, cfg.Auth.OperatorToken)
	assert.NotEqual(t, cfg.Auth.ContactSecret, cfg.Auth.OperatorToken)
	assert.Equal(t, 30*time.Minute, cfg.Events.MaxLifetime)
}

func TestParseWatchFlags(t *testing.T) {
	opts, err := parseWatchFlags([]string{"--agent", "agent-1"}, "http://gw")
	require.NoError(t, err)
	assert.Equal(t, "http://gw/events/conversations?agentId=agent-1", opts.streamURL())

	opts, err = parseWatchFlags([]string{"--agent=agent 1", "--messages", "--url", "http://other/"}, "http://gw")
	require.NoError(t, err)
	assert.Equal(t, "http://other/events/messages?agentId=agent+1", opts.streamURL())

	opts, err = parseWatchFlags([]string{"--conversation", "conv-1"}, "http://gw")
	require.NoError(t, err)
	assert.True(t, opts.messages)
	assert.Equal(t, "http://gw/events/messages", opts.streamURL())

	_, err = parseWatchFlags(nil, "http://gw")
	assert.Error(t, err)

	_, err = parseWatchFlags([]string{"--agent", "a", "extra"}, "http://gw")
	assert.Error(t, err)
}

func TestEventPrinterInbox(t *testing.T) {
	var out bytes.Buffer
	p := newEventPrinter(&out, watchOptions{agentID: "agent-1"})

	conv := events.NewConversation{
		ConversationID:   "conv-1",
		AgentID:          "agent-1",
		ContactSessionID: "cs-1",
		Status:           "notEscalated",
		CreatedAt:        time.Now(),
	}
	p.handle(events.Connected{AgentID: "agent-1"})
	p.handle(conv)
	p.handle(conv)
	p.handle(events.NewConversation{ConversationID: "conv-2", AgentID: "agent-2"})

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "connected (agent-1)")
	assert.Contains(t, string(lines[1]), "conversation conv-1 notEscalated")
}

func TestEventPrinterTimeline(t *testing.T) {
	var out bytes.Buffer
	p := newEventPrinter(&out, watchOptions{conversationID: "conv-1", messages: true})

	p.handle(events.NewMessage{MessageID: "m1", ConversationID: "conv-1", Role: events.RoleUser, Content: "hi", CreatedAt: time.Now()})
	p.handle(events.NewMessage{MessageID: "m1", ConversationID: "conv-1", Role: events.RoleUser, Content: "hi", CreatedAt: time.Now()})
	p.handle(events.NewMessage{MessageID: "m2", ConversationID: "conv-2", Role: events.RoleUser, Content: "other"})
	p.handle(events.NewMessage{MessageID: "m3", ConversationID: "conv-1", Role: events.RoleAssistant, Content: "hello", CreatedAt: time.Now()})

	text := out.String()
	assert.Contains(t, text, "visitor conv-1 hi")
	assert.Contains(t, text, "assistant conv-1 hello")
	assert.NotContains(t, text, "other")
	assert.Equal(t, 2, bytes.Count(out.Bytes(), []byte("\n")))
}

func TestColorHandler(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(newColorHandler(&out, slog.LevelInfo))

	logger.Debug("hidden")
	logger.With("component", "sse").WithGroup("stream").Info("opened", "topic", "agent-1")
	logger.Warn("slow", slog.Group("client", "id", 7))

	text := out.String()
	assert.NotContains(t, text, "hidden")
	assert.Contains(t, text, "INF opened component=sse stream.topic=agent-1")
	assert.Contains(t, text, "WRN slow client.id=7")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
