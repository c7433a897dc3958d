// Package config resolves deployment configuration for the synchronizer:
// environment variables with defaults, optionally overlaid by a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything needed to run a synchronized game session. The
// endpoint, key, client id and session hash are opaque values owned by
// deployment configuration.
type Config struct {
	SocketURL     string `yaml:"socket_url"`
	EncryptionKey string `yaml:"encryption_key"`
	ClientID      string `yaml:"client_id"`
	SessionHash   string `yaml:"session_hash"`

	RecentRollsCap       int           `yaml:"recent_rolls_cap"`
	RollTimeout          time.Duration `yaml:"roll_timeout"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectWait        time.Duration `yaml:"reconnect_wait"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
}

// NewConfigFromEnv reads configuration from the environment with defaults.
func NewConfigFromEnv() Config {
	return Config{
		SocketURL:            getEnv("SOCKET_URL", ""),
		EncryptionKey:        getEnv("ENCRYPTION_KEY", ""),
		ClientID:             getEnv("CLIENT_ID", ""),
		SessionHash:          getEnv("SESSION_HASH", ""),
		RecentRollsCap:       getEnvAsInt("RECENT_ROLLS_CAP", 10),
		RollTimeout:          getEnvAsDuration("ROLL_TIMEOUT", 15*time.Second),
		MaxReconnectAttempts: getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 5),
		ReconnectWait:        getEnvAsDuration("RECONNECT_WAIT", 2*time.Second),
		PingInterval:         getEnvAsDuration("PING_INTERVAL", 30*time.Second),
		WriteTimeout:         getEnvAsDuration("WRITE_TIMEOUT", 10*time.Second),
		HandshakeTimeout:     getEnvAsDuration("HANDSHAKE_TIMEOUT", 10*time.Second),
	}
}

// LoadFile overlays values from a YAML file onto c. Fields absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate checks that the opaque deployment values are present.
func (c Config) Validate() error {
	var missing []string
	if c.SocketURL == "" {
		missing = append(missing, "SOCKET_URL")
	}
	if c.EncryptionKey == "" {
		missing = append(missing, "ENCRYPTION_KEY")
	}
	if c.ClientID == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if c.SessionHash == "" {
		missing = append(missing, "SESSION_HASH")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	if c.RollTimeout <= 0 {
		return errors.New("roll_timeout must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
