package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Env         string `envconfig:"ENV" default:"development"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/chatrelay.db"`
	RedisURL    string `envconfig:"REDIS_URL"`

	// Rate limiting
	RateLimitWhitelist []string `envconfig:"RATE_LIMIT_WHITELIST"` // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     `envconfig:"AUTO_BLOCK_ENABLED" default:"false"`

	// Chat limits
	MessageMaxLength int `envconfig:"MESSAGE_MAX_LENGTH" default:"1000"`
	DefaultPageSize  int `envconfig:"DEFAULT_PAGE_SIZE" default:"50"`
	MaxPageSize      int `envconfig:"MAX_PAGE_SIZE" default:"200"`

	// Websocket
	WSPingInterval time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
	WSPongWait     time.Duration `envconfig:"WS_PONG_WAIT" default:"60s"`
	WSSendBuffer   int           `envconfig:"WS_SEND_BUFFER" default:"64"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	cfg.RateLimitWhitelist = trimEntries(cfg.RateLimitWhitelist)
	cfg.AllowedOrigins = trimEntries(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.MessageMaxLength <= 0 {
		return errors.New("MESSAGE_MAX_LENGTH must be positive")
	}
	if c.DefaultPageSize <= 0 || c.MaxPageSize < c.DefaultPageSize {
		return errors.New("DEFAULT_PAGE_SIZE must be positive and not exceed MAX_PAGE_SIZE")
	}
	if c.WSPongWait <= c.WSPingInterval {
		return errors.New("WS_PONG_WAIT must be longer than WS_PING_INTERVAL")
	}

	// In production, require durable storage and redis for cross-instance fan-out
	if c.Env == "production" {
		if c.DatabaseURL == "" && c.SQLitePath == "" {
			return errors.New("DATABASE_URL or SQLITE_PATH is required in production")
		}
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required in production")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// UsePostgres reports whether PostgreSQL is configured as the primary store.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

func trimEntries(entries []string) []string {
	out := entries[:0]
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
