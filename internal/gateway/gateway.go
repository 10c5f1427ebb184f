// ABOUTME: Gateway orchestrator that wires the store, registries, publisher and servers
// ABOUTME: Manages HTTP, gRPC health, tailscale listeners and graceful shutdown

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/auth"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/config"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/conversation"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/dedupe"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/forward"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/llm"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/metrics"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/notify"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/publisher"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/registry"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/sse"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/store"
)

// Ingested events are remembered this long so the same event arriving over
// HTTP and redis is broadcast once.
const (
	ingestDedupeTTL  = 10 * time.Minute
	ingestDedupeSize = 100_000
)

// Gateway owns every server component of one inbox gateway process.
type Gateway struct {
	config   *config.Config
	store    store.Store
	sessions *auth.ContactSessions
	service  *conversation.Service

	conversations *registry.Registry
	messages      *registry.Registry
	publisher     *publisher.Publisher
	streamer      *sse.Streamer
	metrics       *metrics.Metrics
	validate      *validator.Validate

	// ingested drops events already broadcast from another source
	ingested *dedupe.Cache

	redis      *redis.Client
	subscriber *forward.RedisSubscriber
	subWG      sync.WaitGroup
	subCancel  context.CancelFunc

	grpcServer  *grpc.Server
	health      *health.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	handler     http.Handler
	logger      *slog.Logger

	// serverID identifies this gateway instance
	serverID string
}

type options struct {
	store   store.Store
	backend llm.Backend
}

// Option overrides a component New would otherwise build from config.
type Option func(*options)

// WithStore uses s instead of opening the configured database.
func WithStore(s store.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithBackend uses b for assistant replies instead of the configured provider.
func WithBackend(b llm.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// OpenStore opens the configured database. SURE_DB_PATH overrides the sqlite path.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s, err := store.NewPostgresStore(ctx, store.PostgresOptions{URL: cfg.Database.DSN})
		if err != nil {
			return nil, fmt.Errorf("initializing postgres store: %w", err)
		}
		return s, nil
	default:
		dbPath := cfg.Database.Path
		if envPath := os.Getenv("SURE_DB_PATH"); envPath != "" {
			dbPath = envPath
		}
		s, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	}
}

// initBackend builds the assistant reply backend. A nil backend disables replies.
func initBackend(cfg config.LLMConfig) (llm.Backend, error) {
	switch cfg.Provider {
	case config.ProviderHTTP:
		return llm.NewHTTPBackend(cfg.URL, cfg.APIKey, cfg.Timeout), nil
	case config.ProviderAnthropic:
		b, err := llm.NewAnthropicBackendFromAPIKey(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("creating anthropic backend: %w", err)
		}
		return b, nil
	default:
		return nil, nil
	}
}

// createGRPCServer creates the gRPC server that carries the health service.
func createGRPCServer() *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
}

// instanceID names this process on the redis channel.
func (g *Gateway) instanceID() string {
	if g.config.Forwarding.InstanceID != "" {
		return g.config.Forwarding.InstanceID
	}
	return g.serverID
}

// buildForwarders creates every configured cross-process target.
func (g *Gateway) buildForwarders() ([]forward.Forwarder, error) {
	cfg := g.config
	var fwds []forward.Forwarder

	for _, comp := range cfg.Forwarding.Companions {
		var opts []forward.HTTPOption
		if comp.Token != "" {
			opts = append(opts, forward.WithBearerToken(comp.Token))
		}
		fwds = append(fwds, forward.NewHTTPForwarder(comp.Name, comp.URL, opts...))
		g.logger.Info("forwarding to companion", "name", comp.Name, "url", comp.URL)
	}

	if rc := cfg.Forwarding.Redis; rc.Enabled {
		g.redis = redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		fwds = append(fwds, forward.NewRedisForwarder(g.redis, rc.Channel, g.instanceID()))
		g.subscriber = forward.NewRedisSubscriber(g.redis, rc.Channel, g.instanceID(), g.logger)
		g.logger.Info("redis fan-out enabled", "addr", rc.Addr, "channel", rc.Channel, "instance", g.instanceID())
	}

	if mc := cfg.Notify.Matrix; mc.Enabled {
		n, err := notify.NewMatrixNotifier(notify.MatrixConfig{
			Homeserver:  mc.Homeserver,
			UserID:      mc.UserID,
			AccessToken: mc.AccessToken,
			RoomID:      mc.RoomID,
			Messages:    mc.Messages,
		}, g.logger)
		if err != nil {
			return nil, fmt.Errorf("creating matrix notifier: %w", err)
		}
		fwds = append(fwds, n)
		g.logger.Info("matrix notifications enabled", "room_id", mc.RoomID)
	}

	return fwds, nil
}

// New creates a Gateway from cfg. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := o.store
	if s == nil {
		var err error
		if s, err = OpenStore(context.Background(), cfg); err != nil {
			return nil, err
		}
	}

	backend := o.backend
	if backend == nil {
		var err error
		if backend, err = initBackend(cfg.LLM); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	signer, err := auth.NewTokenSigner([]byte(cfg.Auth.ContactSecret))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating token signer: %w", err)
	}

	m := metrics.New()
	gw := &Gateway{
		config:        cfg,
		store:         s,
		sessions:      auth.NewContactSessions(s, signer, cfg.Auth.SessionTTL, logger),
		conversations: registry.New("conversations", logger, registry.WithMetrics(m)),
		messages:      registry.New("messages", logger, registry.WithMetrics(m)),
		metrics:       m,
		validate:      newValidator(),
		ingested:      dedupe.New(ingestDedupeTTL, ingestDedupeSize),
		logger:        logger.With("component", "gateway"),
		serverID:      generateServerID(),
	}
	gw.streamer = &sse.Streamer{
		KeepAlive:   cfg.Events.KeepAlive,
		MaxLifetime: cfg.Events.MaxLifetime,
		BufferSize:  cfg.Events.BufferSize,
		Logger:      logger.With("component", "sse"),
		Metrics:     m,
	}

	fwds, err := gw.buildForwarders()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	gw.publisher = publisher.New(gw.conversations, gw.messages, s, logger,
		publisher.WithForwarders(fwds...),
		publisher.WithForwardTimeout(cfg.Forwarding.Timeout),
		publisher.WithMetrics(m),
	)

	svcOpts := []conversation.Option{
		conversation.WithReplyTimeout(cfg.LLM.Timeout),
		conversation.WithMetrics(m),
	}
	if backend != nil {
		svcOpts = append(svcOpts, conversation.WithBackend(backend))
		gw.logger.Info("assistant replies enabled", "provider", cfg.LLM.Provider)
	}
	gw.service = conversation.New(s, gw.sessions, gw.publisher, logger, svcOpts...)

	gw.grpcServer = createGRPCServer()
	gw.health = health.NewServer()
	healthpb.RegisterHealthServer(gw.grpcServer, gw.health)

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	gw.registerEventRoutes(mux)
	gw.registerAPIRoutes(mux)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
		gw.logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	gw.handler = mux
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// setupTCPListeners creates standard TCP listeners. The gRPC listener is nil
// when no gRPC address is configured.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.config.Server.GRPCAddr == "" {
		return nil, httpLn, nil
	}
	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the servers in goroutines, returning their error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// startSubscriber relays events other instances publish on redis. It returns
// once the subscription is confirmed.
func (g *Gateway) startSubscriber(ctx context.Context) error {
	if g.subscriber == nil {
		return nil
	}

	ctx, g.subCancel = context.WithCancel(ctx)
	ready := make(chan struct{})
	errCh := make(chan error, 1)

	g.subWG.Add(1)
	go func() {
		defer g.subWG.Done()
		errCh <- g.subscriber.Run(ctx, ready, func(env events.Envelope) {
			g.ingest(ctx, "redis", env)
		})
	}()

	select {
	case <-ready:
		return nil
	case err := <-errCh:
		return fmt.Errorf("starting redis subscriber: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the servers and blocks until ctx is canceled or a server fails.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.startSubscriber(ctx); err != nil {
		_ = g.gracefulShutdown()
		return err
	}

	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		_ = g.gracefulShutdown()
		return err
	}

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "sure-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		httpLn, err = g.tsnetServer.ListenFunnel("tcp", ":443")
	} else {
		httpLn, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the servers, closes every open stream and releases
// resources. Open SSE streams end when their registry is closed, which lets
// the HTTP server finish draining.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	g.conversations.Close()
	g.messages.Close()
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.subCancel != nil {
		g.subCancel()
	}
	g.subWG.Wait()

	// Replies in flight still write to the store and publish.
	g.service.Wait()
	g.publisher.Close()

	if g.redis != nil {
		errs = appendCloseError(errs, "redis close", g.redis.Close())
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// readyResponse reports the open streams per registry.
type readyResponse struct {
	ServerID      string         `json:"server_id"`
	Conversations registry.Stats `json:"conversations"`
	Messages      registry.Stats `json:"messages"`
}

// handleReady reports subscriber counts. The gateway is ready as soon as it
// serves HTTP, so this never fails.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(readyResponse{
		ServerID:      g.serverID,
		Conversations: g.conversations.Stats(),
		Messages:      g.messages.Stats(),
	})
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("sure-gateway-%d", time.Now().UnixNano()%1000000)
}
