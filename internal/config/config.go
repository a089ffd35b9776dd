// Package config loads and validates SDK configuration from environment
// variables. Configuration is read once at construction and treated as
// immutable for the process lifetime.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"time"
)

// apiKeyPattern is the AgentSight API key format: "ags_" followed by a
// 32-hex-digit body and a 6-hex-digit checksum.
var apiKeyPattern = regexp.MustCompile(`(?i)^ags_[a-f0-9]{32}_[a-f0-9]{6}$`)

// Config holds all SDK configuration.
type Config struct {
	// Auth: exactly one of APIKey or BearerToken must be set before the
	// first flush.
	APIKey      string
	BearerToken string

	Endpoint string // collector base URL
	AppURL   string // dashboard URL, used in error messages

	Environment    string // "production" or "development"; "" = unset
	ConversationID string // default conversation for the convenience API

	LogLevel slog.Level

	// Transport settings.
	Timeout    time.Duration // per-request bound on the batch POST
	MaxRetries int           // transport-level retries for network failures

	// Durable flush spool. Empty path disables the spool.
	SpoolPath string

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// BufferCapacity caps buffered items per conversation.
	BufferCapacity int
}

// Load reads configuration from environment variables with the SDK's
// defaults. The returned Config is not yet validated: option overrides
// are applied first, then Validate is called.
func Load() Config {
	return Config{
		APIKey:         envStr("AGENTSIGHT_API_KEY", ""),
		BearerToken:    envStr("AGENTSIGHT_BEARER_TOKEN", ""),
		Endpoint:       envStr("AGENTSIGHT_API_ENDPOINT", "https://api.agentsight.io"),
		AppURL:         envStr("AGENTSIGHT_APP_URL", "https://app.agentsight.io"),
		Environment:    envStr("AGENTSIGHT_ENVIRONMENT", ""),
		ConversationID: envStr("AGENTSIGHT_CONVERSATION_ID", ""),
		LogLevel:       ParseLevel(envStr("AGENTSIGHT_LOG_LEVEL", "info")),
		Timeout:        envDuration("AGENTSIGHT_TIMEOUT", 15*time.Second),
		MaxRetries:     envInt("AGENTSIGHT_MAX_RETRIES", 3),
		SpoolPath:      envStr("AGENTSIGHT_SPOOL_PATH", ""),
		OTELEndpoint:   envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:    envStr("OTEL_SERVICE_NAME", "agentsight-go"),
		BufferCapacity: envInt("AGENTSIGHT_BUFFER_CAPACITY", 0),
	}
}

// Validate checks credential presence and field formats.
func (c Config) Validate() error {
	if c.APIKey == "" && c.BearerToken == "" {
		return fmt.Errorf("config: missing credential: set AGENTSIGHT_API_KEY (find yours at %s/settings)", c.AppURL)
	}
	if c.APIKey != "" {
		if err := ValidateAPIKey(c.APIKey, c.AppURL); err != nil {
			return err
		}
	}
	if c.Endpoint == "" {
		return fmt.Errorf("config: AGENTSIGHT_API_ENDPOINT must not be empty")
	}
	switch c.Environment {
	case "", "production", "development":
	default:
		return fmt.Errorf("config: invalid environment %q (expected production or development)", c.Environment)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: AGENTSIGHT_TIMEOUT must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: AGENTSIGHT_MAX_RETRIES must not be negative")
	}
	return nil
}

// ValidateAPIKey checks a key against the AgentSight key format.
func ValidateAPIKey(key, appURL string) error {
	if !apiKeyPattern.MatchString(key) {
		return fmt.Errorf("config: API key is invalid (find yours at %s/settings)", appURL)
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "warning", "WARN", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR", "critical", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
