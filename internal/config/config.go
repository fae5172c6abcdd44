// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all client configuration.
type Config struct {
	APIURL      string
	WSURL       string
	APIKey      string
	StatePath   string
	HTTPTimeout time.Duration
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		APIURL:      getEnv("USTABOR_API_URL", "http://localhost:8000"),
		WSURL:       getEnv("USTABOR_WS_URL", ""),
		APIKey:      getEnv("USTABOR_API_KEY", ""),
		StatePath:   getEnv("USTABOR_STATE_PATH", defaultStatePath()),
		HTTPTimeout: time.Duration(getEnvInt("USTABOR_HTTP_TIMEOUT_SEC", 30)) * time.Second,
		AccessTTL:   24 * time.Hour,
		RefreshTTL:  7 * 24 * time.Hour,
	}

	if cfg.WSURL == "" {
		cfg.WSURL = deriveWSURL(cfg.APIURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("USTABOR_API_URL cannot be empty")
	}
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("USTABOR_API_URL must start with http:// or https://")
	}
	if c.WSURL == "" {
		return fmt.Errorf("USTABOR_WS_URL cannot be empty")
	}
	if c.StatePath == "" {
		return fmt.Errorf("USTABOR_STATE_PATH cannot be empty")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("USTABOR_HTTP_TIMEOUT_SEC must be > 0")
	}
	return nil
}

// deriveWSURL maps an http(s) base URL to its ws(s) counterpart.
func deriveWSURL(apiURL string) string {
	switch {
	case strings.HasPrefix(apiURL, "https://"):
		return "wss://" + strings.TrimPrefix(apiURL, "https://")
	case strings.HasPrefix(apiURL, "http://"):
		return "ws://" + strings.TrimPrefix(apiURL, "http://")
	default:
		return apiURL
	}
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data/ustabor.db"
	}
	return filepath.Join(home, ".ustabor", "state.db")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
