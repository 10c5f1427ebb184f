// ABOUTME: Tests for Gateway construction, lifecycle and health endpoints
// ABOUTME: Runs real listeners for HTTP and gRPC health, plus shared test helpers

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/config"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/reconcile"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/store"
)

// freeAddr returns a loopback address with an unused port.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// testConfig creates a minimal config for testing with available ports.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Server: config.ServerConfig{
			GRPCAddr: freeAddr(t),
			HTTPAddr: freeAddr(t),
		},
		Database: config.DatabaseConfig{
			Driver: config.DriverSQLite,
			Path:   ":memory:",
		},
		Auth: config.AuthConfig{
			ContactSecret: "test-secret",
		},
		Metrics: config.MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGateway builds a gateway on a mock store and serves its handler
// from an httptest server.
func newTestGateway(t *testing.T, opts ...func(*config.Config)) (*Gateway, *store.MockStore, *httptest.Server) {
	t.Helper()

	cfg := testConfig(t)
	for _, opt := range opts {
		opt(cfg)
	}

	s := store.NewMockStore()
	gw, err := New(cfg, testLogger(), WithStore(s))
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		// Shutdown closes the registries, which ends open streams so the
		// test server can close.
		_ = gw.Shutdown(context.Background())
		srv.Close()
	})
	return gw, s, srv
}

// openStream subscribes to an SSE endpoint and decodes its frames.
func openStream(t *testing.T, rawURL string) <-chan events.Envelope {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	out := make(chan events.Envelope, 32)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		_ = reconcile.ParseFrames(ctx, resp.Body, func(data []byte) {
			env, err := events.Decode(data)
			if err != nil {
				return
			}
			out <- env
		})
	}()
	return out
}

func nextEvent(t *testing.T, ch <-chan events.Envelope) events.Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		require.True(t, ok, "stream closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertNoEvent(t *testing.T, ch <-chan events.Envelope) {
	t.Helper()
	select {
	case env := <-ch:
		t.Fatalf("unexpected event: %#v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	assert.Same(t, cfg, gw.config)
	assert.NotNil(t, gw.store)
	assert.NotNil(t, gw.publisher)
	assert.NotNil(t, gw.service)
	assert.Nil(t, gw.redis, "redis should stay off unless enabled")
}

func TestGatewayNew_RejectsEmptySecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.ContactSecret = ""

	_, err := New(cfg, testLogger(), WithStore(store.NewMockStore()))
	require.Error(t, err)
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	healthURL := "http://" + cfg.Server.HTTPAddr + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}
}

func TestGatewayShutdownEndsOpenStreams(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger(), WithStore(store.NewMockStore()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	base := "http://" + cfg.Server.HTTPAddr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	stream := openStream(t, base+"/events/conversations?agentId=agent-1")
	assert.Equal(t, events.Connected{AgentID: "agent-1"}, nextEvent(t, stream))

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shutdown with an open stream")
	}

	select {
	case _, ok := <-stream:
		assert.False(t, ok, "stream should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after shutdown")
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, _, srv := newTestGateway(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestReadyEndpointReportsStreams(t *testing.T) {
	gw, _, srv := newTestGateway(t)

	stream := openStream(t, srv.URL+"/events/conversations?agentId=agent-1")
	nextEvent(t, stream)
	require.Eventually(t, func() bool {
		return gw.conversations.Subscribers("agent-1") == 1
	}, time.Second, 10*time.Millisecond)

	resp, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ready readyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	assert.Equal(t, gw.serverID, ready.ServerID)
	assert.Equal(t, 1, ready.Conversations.Subscribers)
	assert.Equal(t, 0, ready.Messages.Subscribers)
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, srv := newTestGateway(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetricsEndpointDisabled(t *testing.T) {
	_, _, srv := newTestGateway(t, func(c *config.Config) {
		c.Metrics.Enabled = false
	})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGRPCHealthService(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger(), WithStore(store.NewMockStore()))
	require.NoError(t, err)

	ctx := t.Context()
	go func() {
		_ = gw.Run(ctx)
	}()

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	require.Eventually(t, func() bool {
		checkCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		resp, err := client.Check(checkCtx, &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 3*time.Second, 50*time.Millisecond)
}

func TestGatewayWithoutGRPCAddr(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.GRPCAddr = ""

	gw, err := New(cfg, testLogger(), WithStore(store.NewMockStore()))
	require.NoError(t, err)

	grpcLn, httpLn, err := gw.setupTCPListeners()
	require.NoError(t, err)
	defer httpLn.Close()

	assert.Nil(t, grpcLn)
	require.NoError(t, gw.Shutdown(context.Background()))
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")

	_, err := resolveTailscaleAuthKey("")
	require.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/tmp/ts-state")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ts-state", dir)

	t.Setenv("HOME", "/home/tester")
	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Equal(t, "/home/tester/.local/share/sure-gateway/tailscale", dir)
}
