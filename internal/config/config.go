// ABOUTME: Configuration loading and parsing for giftbox-chat
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default values applied when a field is left empty.
const (
	DefaultHTTPAddr          = "0.0.0.0:8080"
	DefaultDatabaseDriver    = "sqlite"
	DefaultMongoDatabase     = "giftbox"
	DefaultTokenTTL          = 24 * time.Hour
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultSSERetry          = 10 * time.Second
	DefaultIDFormat          = "uuid"
	DefaultMaxContentLength  = 4000
	DefaultIdempotencyTTL    = 5 * time.Minute
	DefaultMessagesPerMinute = 60
	DefaultTypingPerSecond   = 5
	DefaultRelayDriver       = "none"
	DefaultRelayChannel      = "giftbox.chat.events"
)

// Config represents the complete giftbox-chat configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Chat      ChatConfig      `yaml:"chat" toml:"chat"`
	RateLimit RateLimitConfig `yaml:"ratelimit" toml:"ratelimit"`
	Relay     RelayConfig     `yaml:"relay" toml:"relay"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration.
// An empty GRPCAddr disables the gRPC health server.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// DatabaseConfig selects and configures the message store
type DatabaseConfig struct {
	Driver        string `yaml:"driver" toml:"driver"`
	Path          string `yaml:"path" toml:"path"`
	MongoURI      string `yaml:"mongo_uri" toml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database" toml:"mongo_database"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// ChatConfig holds messaging behavior
type ChatConfig struct {
	HeartbeatInterval time.Duration `yaml:"-" toml:"-"`
	SSERetry          time.Duration `yaml:"-" toml:"-"`
	IdempotencyTTL    time.Duration `yaml:"-" toml:"-"`
	IDFormat          string        `yaml:"id_format" toml:"id_format"`
	MaxContentLength  int           `yaml:"max_content_length" toml:"max_content_length"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	SSERetryRaw          string `yaml:"sse_retry" toml:"sse_retry"`
	IdempotencyTTLRaw    string `yaml:"idempotency_ttl" toml:"idempotency_ttl"`
}

// RateLimitConfig holds per-user rate limits. Negative values disable a limit.
type RateLimitConfig struct {
	MessagesPerMinute int `yaml:"messages_per_minute" toml:"messages_per_minute"`
	TypingPerSecond   int `yaml:"typing_per_second" toml:"typing_per_second"`
}

// RelayConfig configures cross-node event fan-out
type RelayConfig struct {
	Driver   string `yaml:"driver" toml:"driver"`
	RedisURL string `yaml:"redis_url" toml:"redis_url"`
	NATSURL  string `yaml:"nats_url" toml:"nats_url"`
	Channel  string `yaml:"channel" toml:"channel"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// GIFTBOX_DB_PATH, when set, overrides database.path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(string(data), strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration text. It applies env expansion, defaults,
// duration parsing and validation in the same order as Load.
func Parse(text string, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(text)

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if dbPath := os.Getenv("GIFTBOX_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
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

// Path returns the config file location.
// Priority: GIFTBOX_CONFIG env var > XDG_CONFIG_HOME/giftbox/chat.yaml > ~/.config/giftbox/chat.yaml
func Path() string {
	if envPath := os.Getenv("GIFTBOX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "giftbox", "chat.yaml")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}
	if c.Database.MongoDatabase == "" {
		c.Database.MongoDatabase = DefaultMongoDatabase
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Chat.HeartbeatIntervalRaw == "" {
		c.Chat.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Chat.SSERetry == 0 {
		c.Chat.SSERetry = DefaultSSERetry
	}
	if c.Chat.IdempotencyTTL == 0 {
		c.Chat.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if c.Chat.IDFormat == "" {
		c.Chat.IDFormat = DefaultIDFormat
	}
	if c.Chat.MaxContentLength == 0 {
		c.Chat.MaxContentLength = DefaultMaxContentLength
	}
	if c.RateLimit.MessagesPerMinute == 0 {
		c.RateLimit.MessagesPerMinute = DefaultMessagesPerMinute
	}
	if c.RateLimit.TypingPerSecond == 0 {
		c.RateLimit.TypingPerSecond = DefaultTypingPerSecond
	}
	if c.Relay.Driver == "" {
		c.Relay.Driver = DefaultRelayDriver
	}
	if c.Relay.Channel == "" {
		c.Relay.Channel = DefaultRelayChannel
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "mongo":
		if c.Database.MongoURI == "" {
			return fmt.Errorf("database.mongo_uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or mongo, got %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	switch c.Chat.IDFormat {
	case "uuid", "objectid", "opaque":
	default:
		return fmt.Errorf("chat.id_format must be uuid, objectid or opaque, got %q", c.Chat.IDFormat)
	}
	if c.Chat.HeartbeatInterval < 0 {
		return fmt.Errorf("chat.heartbeat_interval must not be negative")
	}
	if c.Chat.MaxContentLength < 0 {
		return fmt.Errorf("chat.max_content_length must not be negative")
	}

	switch c.Relay.Driver {
	case "none":
	case "redis":
		if c.Relay.RedisURL == "" {
			return fmt.Errorf("relay.redis_url is required for the redis relay")
		}
	case "nats":
		if c.Relay.NATSURL == "" {
			return fmt.Errorf("relay.nats_url is required for the nats relay")
		}
	default:
		return fmt.Errorf("relay.driver must be none, redis or nats, got %q", c.Relay.Driver)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
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
		{"token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"heartbeat_interval", cfg.Chat.HeartbeatIntervalRaw, &cfg.Chat.HeartbeatInterval},
		{"sse_retry", cfg.Chat.SSERetryRaw, &cfg.Chat.SSERetry},
		{"idempotency_ttl", cfg.Chat.IdempotencyTTLRaw, &cfg.Chat.IdempotencyTTL},
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
