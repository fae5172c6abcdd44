package config

import (
	"os"
	"testing"
	"time"
)

// unsetenv clears key for the test while keeping t.Setenv's restore.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"USTABOR_API_URL", "USTABOR_WS_URL", "USTABOR_API_KEY",
		"USTABOR_STATE_PATH", "USTABOR_HTTP_TIMEOUT_SEC",
	} {
		unsetenv(t, key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL == "" {
		t.Error("expected a default API URL")
	}
	if cfg.WSURL == "" {
		t.Error("expected a derived WS URL")
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("expected 30s default timeout, got %v", cfg.HTTPTimeout)
	}
	if cfg.StatePath == "" {
		t.Error("expected a default state path")
	}
	if cfg.AccessTTL != 24*time.Hour || cfg.RefreshTTL != 7*24*time.Hour {
		t.Errorf("unexpected token TTLs: %v / %v", cfg.AccessTTL, cfg.RefreshTTL)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("USTABOR_API_URL", "https://api.example.uz")
	t.Setenv("USTABOR_WS_URL", "wss://ws.example.uz")
	t.Setenv("USTABOR_API_KEY", "k-1")
	t.Setenv("USTABOR_HTTP_TIMEOUT_SEC", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "https://api.example.uz" {
		t.Errorf("unexpected API URL %q", cfg.APIURL)
	}
	if cfg.WSURL != "wss://ws.example.uz" {
		t.Errorf("expected explicit WS URL kept, got %q", cfg.WSURL)
	}
	if cfg.APIKey != "k-1" {
		t.Errorf("unexpected API key %q", cfg.APIKey)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("unexpected timeout %v", cfg.HTTPTimeout)
	}
}

func TestDeriveWSURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"http://localhost:8000", "ws://localhost:8000"},
		{"https://api.example.uz", "wss://api.example.uz"},
	}
	for _, tc := range cases {
		if got := deriveWSURL(tc.in); got != tc.want {
			t.Errorf("deriveWSURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := &Config{
		APIURL:      "http://localhost:8000",
		WSURL:       "ws://localhost:8000",
		StatePath:   "/tmp/state.db",
		HTTPTimeout: 30 * time.Second,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty api url", func(c *Config) { c.APIURL = "" }},
		{"bad api scheme", func(c *Config) { c.APIURL = "ftp://x" }},
		{"empty ws url", func(c *Config) { c.WSURL = "" }},
		{"empty state path", func(c *Config) { c.StatePath = "" }},
		{"zero timeout", func(c *Config) { c.HTTPTimeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := *valid
			tc.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
