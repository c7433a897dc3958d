package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigFromEnvDefaults(t *testing.T) {
	cfg := NewConfigFromEnv()

	assert.Equal(t, 10, cfg.RecentRollsCap)
	assert.Equal(t, 15*time.Second, cfg.RollTimeout)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
}

func TestNewConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("SOCKET_URL", "wss://game.example.com/ws")
	t.Setenv("ENCRYPTION_KEY", "secret")
	t.Setenv("ROLL_TIMEOUT", "30s")
	t.Setenv("MAX_RECONNECT_ATTEMPTS", "9")

	cfg := NewConfigFromEnv()

	assert.Equal(t, "wss://game.example.com/ws", cfg.SocketURL)
	assert.Equal(t, "secret", cfg.EncryptionKey)
	assert.Equal(t, 30*time.Second, cfg.RollTimeout)
	assert.Equal(t, 9, cfg.MaxReconnectAttempts)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gamelink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"socket_url: wss://override.example.com/ws\nrecent_rolls_cap: 25\n",
	), 0o600))

	cfg := NewConfigFromEnv()
	cfg.EncryptionKey = "keep-me"
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, "wss://override.example.com/ws", cfg.SocketURL)
	assert.Equal(t, 25, cfg.RecentRollsCap)
	assert.Equal(t, "keep-me", cfg.EncryptionKey, "absent fields keep prior values")
}

func TestLoadFileMissing(t *testing.T) {
	cfg := NewConfigFromEnv()
	assert.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")))
}

func TestValidate(t *testing.T) {
	cfg := Config{
		SocketURL:     "wss://game.example.com/ws",
		EncryptionKey: "k",
		ClientID:      "c",
		SessionHash:   "h",
		RollTimeout:   time.Second,
	}
	assert.NoError(t, cfg.Validate())

	cfg.EncryptionKey = ""
	assert.ErrorContains(t, cfg.Validate(), "ENCRYPTION_KEY")

	cfg.EncryptionKey = "k"
	cfg.RollTimeout = 0
	assert.ErrorContains(t, cfg.Validate(), "roll_timeout")
}
