package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/kromer")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/kromer", cfg.DatabaseURL)
	assert.Equal(t, "localhost:8080", cfg.ServerURL) // Default
	assert.Equal(t, "localhost:8080", cfg.PublicURL) // Defaults to ServerURL
	assert.Equal(t, "info", cfg.LogLevel)            // Default
	assert.True(t, cfg.ForceWsInsecure)              // Default
	assert.Empty(t, cfg.NATSURL)
	assert.Empty(t, cfg.InternalAPIKey)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/kromer")
	os.Setenv("SERVER_URL", "0.0.0.0:9090")
	os.Setenv("PUBLIC_URL", "kromer.example.com")
	os.Setenv("FORCE_WS_INSECURE", "false")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("INTERNAL_API_KEY", "hunter2")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "0.0.0.0:9090", cfg.ServerURL)
	assert.Equal(t, "kromer.example.com", cfg.PublicURL)
	assert.False(t, cfg.ForceWsInsecure)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "hunter2", cfg.InternalAPIKey)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		DatabaseURL: "postgres://localhost/kromer",
		ServerURL:   "localhost:8080",
		PublicURL:   "localhost:8080",
	}
	assert.NoError(t, cfg.Validate())

	cfg.DatabaseURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DatabaseURL is required")
}

func TestSchemes(t *testing.T) {
	insecure := &Config{ForceWsInsecure: true, PublicURL: "kromer.example.com"}
	assert.Equal(t, "ws", insecure.WsScheme())
	assert.Equal(t, "http", insecure.HTTPScheme())
	assert.Equal(t,
		"ws://kromer.example.com/api/krist/ws/gateway/abc-123",
		insecure.GatewayURL("abc-123"),
	)

	secure := &Config{ForceWsInsecure: false, PublicURL: "kromer.example.com"}
	assert.Equal(t, "wss", secure.WsScheme())
	assert.Equal(t, "https", secure.HTTPScheme())
	assert.Equal(t,
		"wss://kromer.example.com/api/krist/ws/gateway/abc-123",
		secure.GatewayURL("abc-123"),
	)
}

// cleanupEnv removes all config environment variables set by tests.
func cleanupEnv() {
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("SERVER_URL")
	os.Unsetenv("PUBLIC_URL")
	os.Unsetenv("FORCE_WS_INSECURE")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("NATS_URL")
	os.Unsetenv("INTERNAL_API_KEY")
}
