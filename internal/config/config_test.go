package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noDotenv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadClient_Defaults(t *testing.T) {
	cfg, err := LoadClient(noDotenv(t))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.APIURL)
	assert.Equal(t, "ws://localhost:8080", cfg.WSURL)
	assert.True(t, cfg.SaveAck)
	assert.Equal(t, 15*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadClient_Env(t *testing.T) {
	t.Setenv("BOARD_API_URL", "https://board.example.com/")
	t.Setenv("BOARD_TOKEN", "cred")
	t.Setenv("BOARD_SAVE_ACK", "false")
	t.Setenv("BOARD_LOG_LEVEL", "debug")

	cfg, err := LoadClient(noDotenv(t))
	require.NoError(t, err)

	assert.Equal(t, "https://board.example.com", cfg.APIURL)
	assert.Equal(t, "wss://board.example.com", cfg.WSURL)
	assert.Equal(t, "cred", cfg.Token)
	assert.False(t, cfg.SaveAck)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadClient_DotenvDoesNotOverrideEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BOARD_WS_URL=ws://from-file:1\nBOARD_TOKEN=file-token\n"), 0o600))
	t.Setenv("BOARD_TOKEN", "env-token")
	// godotenv writes into the process env; t.Setenv restores it afterwards.
	// The variable must be unset for the file to apply.
	t.Setenv("BOARD_WS_URL", "")
	require.NoError(t, os.Unsetenv("BOARD_WS_URL"))

	cfg, err := LoadClient(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://from-file:1", cfg.WSURL)
	assert.Equal(t, "env-token", cfg.Token)
}

func TestLoadServer(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadServer(noDotenv(t))
	require.ErrorIs(t, err, ErrMissingSecret)

	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9090")
	t.Setenv("TICKET_TTL", "30s")
	t.Setenv("ALLOWED_ORIGINS", "localhost:*, board.example.com,")

	cfg, err := LoadServer(noDotenv(t))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.TicketTTL)
	assert.Equal(t, 24*time.Hour, cfg.CredentialTTL)
	assert.Equal(t, []string{"localhost:*", "board.example.com"}, cfg.AllowedOrigins)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 20, cfg.DB.MaxOpenConns)
}
