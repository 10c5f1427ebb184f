// ABOUTME: Configuration loading and parsing for the inbox gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// LLM providers. An empty provider disables assistant replies.
const (
	ProviderNone      = ""
	ProviderHTTP      = "http"
	ProviderAnthropic = "anthropic"
)

// Config represents the complete gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Events     EventsConfig     `yaml:"events" toml:"events"`
	Forwarding ForwardingConfig `yaml:"forwarding" toml:"forwarding"`
	LLM        LLMConfig        `yaml:"llm" toml:"llm"`
	Notify     NotifyConfig     `yaml:"notify" toml:"notify"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds listener addresses. GRPCAddr is optional and serves
// the health service only.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel, implies HTTPS
}

// DatabaseConfig selects the store. Path is used by sqlite, DSN by postgres.
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// AuthConfig holds the contact session signing secret and the bearer token
// required on dashboard routes. An empty OperatorToken leaves them open.
type AuthConfig struct {
	ContactSecret string        `yaml:"contact_secret" toml:"contact_secret"`
	OperatorToken string        `yaml:"operator_token" toml:"operator_token"`
	SessionTTL    time.Duration `yaml:"-" toml:"-"`

	SessionTTLRaw string `yaml:"session_ttl" toml:"session_ttl"`
}

// EventsConfig tunes the SSE endpoints
type EventsConfig struct {
	KeepAlive   time.Duration `yaml:"-" toml:"-"`
	MaxLifetime time.Duration `yaml:"-" toml:"-"`
	BufferSize  int           `yaml:"buffer_size" toml:"buffer_size"`
	// AllowGlobalStream permits /events/messages without an agentId.
	AllowGlobalStream bool `yaml:"allow_global_stream" toml:"allow_global_stream"`
	// IngestToken, when set, is required on POST /events/*.
	IngestToken string `yaml:"ingest_token" toml:"ingest_token"`

	KeepAliveRaw   string `yaml:"keep_alive" toml:"keep_alive"`
	MaxLifetimeRaw string `yaml:"max_lifetime" toml:"max_lifetime"`
}

// ForwardingConfig lists where committed events are sent besides local
// subscribers
type ForwardingConfig struct {
	Timeout    time.Duration     `yaml:"-" toml:"-"`
	InstanceID string            `yaml:"instance_id" toml:"instance_id"`
	Companions []CompanionConfig `yaml:"companions" toml:"companions"`
	Redis      RedisConfig       `yaml:"redis" toml:"redis"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// CompanionConfig is another gateway process reached over HTTP
type CompanionConfig struct {
	Name  string `yaml:"name" toml:"name"`
	URL   string `yaml:"url" toml:"url"`
	Token string `yaml:"token" toml:"token"`
}

// RedisConfig enables pub/sub forwarding between instances
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Channel  string `yaml:"channel" toml:"channel"`
}

// LLMConfig selects the assistant reply backend
type LLMConfig struct {
	Provider string        `yaml:"provider" toml:"provider"`
	URL      string        `yaml:"url" toml:"url"`
	APIKey   string        `yaml:"api_key" toml:"api_key"`
	Model    string        `yaml:"model" toml:"model"`
	Timeout  time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// NotifyConfig holds operator notification targets
type NotifyConfig struct {
	Matrix MatrixConfig `yaml:"matrix" toml:"matrix"`
}

// MatrixConfig holds the Matrix notifier account and room
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
	RoomID      string `yaml:"room_id" toml:"room_id"`
	Messages    bool   `yaml:"messages" toml:"messages"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes, expands, and validates raw configuration bytes.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// LoadEnvFile loads KEY=value pairs from path into the environment so ${VAR}
// references in the config file resolve. Variables already set win.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Forwarding.Redis.Channel == "" {
		c.Forwarding.Redis.Channel = "sure:events"
	}
	for i := range c.Forwarding.Companions {
		if c.Forwarding.Companions[i].Name == "" {
			c.Forwarding.Companions[i].Name = fmt.Sprintf("companion-%d", i)
		}
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported (use sqlite or postgres)", c.Database.Driver)
	}

	if c.Auth.ContactSecret == "" {
		return errors.New("auth.contact_secret is required")
	}
	if c.Events.BufferSize < 0 {
		return errors.New("events.buffer_size must not be negative")
	}

	for i, comp := range c.Forwarding.Companions {
		if comp.URL == "" {
			return fmt.Errorf("forwarding.companions[%d].url is required", i)
		}
	}
	if c.Forwarding.Redis.Enabled && c.Forwarding.Redis.Addr == "" {
		return errors.New("forwarding.redis.addr is required when redis is enabled")
	}

	switch c.LLM.Provider {
	case ProviderNone:
	case ProviderHTTP:
		if c.LLM.URL == "" {
			return errors.New("llm.url is required for the http provider")
		}
	case ProviderAnthropic:
		if c.LLM.APIKey == "" {
			return errors.New("llm.api_key is required for the anthropic provider")
		}
	default:
		return fmt.Errorf("llm.provider %q is not supported (use http or anthropic)", c.LLM.Provider)
	}

	if m := c.Notify.Matrix; m.Enabled {
		if m.Homeserver == "" || m.UserID == "" || m.AccessToken == "" || m.RoomID == "" {
			return errors.New("notify.matrix requires homeserver, user_id, access_token and room_id")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.session_ttl", cfg.Auth.SessionTTLRaw, &cfg.Auth.SessionTTL},
		{"events.keep_alive", cfg.Events.KeepAliveRaw, &cfg.Events.KeepAlive},
		{"events.max_lifetime", cfg.Events.MaxLifetimeRaw, &cfg.Events.MaxLifetime},
		{"forwarding.timeout", cfg.Forwarding.TimeoutRaw, &cfg.Forwarding.Timeout},
		{"llm.timeout", cfg.LLM.TimeoutRaw, &cfg.LLM.Timeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
