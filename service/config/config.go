package config

import (
	"fmt"
	"os"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerURL string
	PublicURL string
	LogLevel  string

	// Database configuration
	DatabaseURL string

	// ForceWsInsecure selects ws/http URLs instead of wss/https in the
	// URLs the server hands back to clients.
	ForceWsInsecure bool

	// NATS configuration. Empty disables the event relay.
	NATSURL string

	// InternalAPIKey guards /api/_internal. Empty disables those routes.
	InternalAPIKey string
}

// Load reads configuration from environment variables and validates all
// required fields. Returns an error if any required configuration is
// missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerURL = getEnvOrDefault("SERVER_URL", "localhost:8080")
	cfg.PublicURL = getEnvOrDefault("PUBLIC_URL", cfg.ServerURL)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// Websocket URL scheme. The legacy protocol treats anything other
	// than the literal "true" as secure.
	cfg.ForceWsInsecure = getEnvOrDefault("FORCE_WS_INSECURE", "true") == "true"

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.InternalAPIKey = os.Getenv("INTERNAL_API_KEY")

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.ServerURL == "" {
		errs = append(errs, fmt.Errorf("ServerURL is required"))
	}

	if c.PublicURL == "" {
		errs = append(errs, fmt.Errorf("PublicURL is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// WsScheme returns the websocket URL scheme implied by ForceWsInsecure.
func (c *Config) WsScheme() string {
	if c.ForceWsInsecure {
		return "ws"
	}
	return "wss"
}

// HTTPScheme returns the http URL scheme implied by ForceWsInsecure.
func (c *Config) HTTPScheme() string {
	if c.ForceWsInsecure {
		return "http"
	}
	return "https"
}

// GatewayURL returns the public URL a client should dial to attach the
// websocket identified by token.
func (c *Config) GatewayURL(token string) string {
	return fmt.Sprintf("%s://%s/api/krist/ws/gateway/%s", c.WsScheme(), c.PublicURL, token)
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
