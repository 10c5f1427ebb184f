// ABOUTME: Entry point for sure-gateway, the real-time inbox server
// ABOUTME: Dispatches serve, init, bootstrap, health, streams and watch subcommands

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/config"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/gateway"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/store"
)

// version is set with -ldflags at build time.
var version = "dev"

const banner = `
  ___ _   _ _ __ ___        __ _  __ _| |_ _____      ____ _ _   _
 / __| | | | '__/ _ \_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 \__ \ |_| | | |  __/_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 |___/\__,_|_|  \___|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                           |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: SURE_CONFIG env var > XDG_CONFIG_HOME/sure/gateway.yaml > ~/.config/sure/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SURE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "sure", "gateway.yaml")
}

// getDataPath returns the path to the sure data directory.
// Priority: XDG_DATA_HOME/sure > ~/.local/share/sure
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "sure")
}

// loadConfig loads .env files from the working directory and next to the
// config, then the config itself.
func loadConfig(configPath string) (*config.Config, error) {
	for _, envPath := range []string{".env", filepath.Join(filepath.Dir(configPath), ".env")} {
		if err := config.LoadEnvFile(envPath); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: sure-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                          Start the gateway server")
		fmt.Println("  init                           Create a new config file interactively")
		fmt.Println("  bootstrap --name NAME          Create the config (if missing) and a first agent")
		fmt.Println("  health                         Check gateway health")
		fmt.Println("  streams                        Show open SSE streams")
		fmt.Println("  watch --agent ID [--messages]  Follow an agent's live events")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "streams":
		err = runStreams(ctx)
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	if cfg.LLM.Provider != config.ProviderNone {
		green.Print("    ▶ ")
		fmt.Printf("Replies:   %s\n", cfg.LLM.Provider)
	}
	if n := len(cfg.Forwarding.Companions); n > 0 || cfg.Forwarding.Redis.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Forward:   %d companion(s)", n)
		if cfg.Forwarding.Redis.Enabled {
			cyan.Printf(" + redis %s", cfg.Forwarding.Redis.Addr)
		}
		fmt.Println()
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting sure-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// gatewayURL returns the base HTTP URL of the configured gateway.
func gatewayURL(cfg *config.Config) string {
	if cfg.Tailscale.Enabled {
		if cfg.Tailscale.Funnel {
			return "https://" + cfg.Tailscale.Hostname
		}
		return "http://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Server.HTTPAddr
}

// getJSON fetches path from the gateway and returns the body.
func getJSON(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func runHealth(ctx context.Context) error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	_, status, err := getJSON(ctx, gatewayURL(cfg)+"/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}

	fmt.Println("healthy")
	return nil
}

func runStreams(ctx context.Context) error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	body, _, err := getJSON(ctx, gatewayURL(cfg)+"/health/ready")
	if err != nil {
		return fmt.Errorf("streams check failed: %w", err)
	}

	fmt.Println(string(body))
	return nil
}

// randomSecret returns 32 random bytes, base64 encoded.
func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// runBootstrap performs first-time setup:
// 1. Creates a config file with random secrets (if not exists)
// 2. Creates the database and a first agent
//
// This is a one-command setup: sure-gateway bootstrap --name "Support"
func runBootstrap(ctx context.Context, args []string) error {
	var agentName, ownerID string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--name" || arg == "-n" || arg == "--owner":
			if i+1 >= len(args) {
				return fmt.Errorf("%s requires a value", arg)
			}
			if arg == "--owner" {
				ownerID = args[i+1]
			} else {
				agentName = args[i+1]
			}
			i++
		case strings.HasPrefix(arg, "--name="):
			agentName = strings.TrimPrefix(arg, "--name=")
		case strings.HasPrefix(arg, "--owner="):
			ownerID = strings.TrimPrefix(arg, "--owner=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	agentName = strings.TrimSpace(agentName)
	if agentName == "" {
		return errors.New("--name flag is required")
	}
	if len(agentName) > 100 {
		return errors.New("agent name exceeds maximum length of 100 characters")
	}
	if ownerID == "" {
		ownerID = "owner"
	}

	configPath := getConfigPath()
	dbPath := filepath.Join(getDataPath(), "gateway.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeBootstrapConfig(configPath, dbPath); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	s, err := gateway.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	agent := &store.Agent{
		ID:        uuid.New().String(),
		Name:      agentName,
		OwnerID:   ownerID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateAgent(ctx, agent); err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}
	green.Printf("  ✓ Created agent: %s\n", agentName)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Agent")
	cyan.Println("  -----")
	fmt.Printf("  ID:    %s\n", agent.ID)
	fmt.Printf("  Name:  %s\n", agent.Name)
	fmt.Printf("  Owner: %s\n", agent.OwnerID)
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    sure-gateway serve")
	fmt.Printf("    sure-gateway watch --agent %s\n", agent.ID)
	fmt.Println()

	return nil
}

func writeBootstrapConfig(configPath, dbPath string) error {
	contactSecret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating contact secret: %w", err)
	}
	operatorToken, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating operator token: %w", err)
	}
	ingestToken, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating ingest token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	content := fmt.Sprintf(`# sure-gateway configuration
# Generated by sure-gateway bootstrap

server:
  http_addr: "localhost:8080"

database:
  driver: "sqlite"
  path: "%s"

auth:
  contact_secret: "%s"
  operator_token: "%s"
  session_ttl: "24h"

events:
  keep_alive: "25s"
  max_lifetime: "30m"
  ingest_token: "%s"

logging:
  level: "info"
  format: "text"
`, dbPath, contactSecret, operatorToken, ingestToken)

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
