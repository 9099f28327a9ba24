// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the command-line tool configuration.
type Config struct {
	// Application credentials
	ConsumerKey    string
	ConsumerSecret string

	// Session defaults
	SSL         bool
	Mode        string
	SessionFile string
	Timeout     time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Servers started by serve-pingback
	PingbackAddr string
	MetricsAddr  string

	// Memoization of read operations (0 disables)
	MemoSize int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ConsumerKey:    envOr("DROPBOX_CONSUMER_KEY", ""),
		ConsumerSecret: envOr("DROPBOX_CONSUMER_SECRET", ""),
		SSL:            envBool("DROPBOX_SSL", true),
		Mode:           envOr("DROPBOX_MODE", "sandbox"),
		SessionFile:    envOr("DROPBOX_SESSION_FILE", defaultSessionFile()),
		Timeout:        envDuration("DROPBOX_TIMEOUT", 60*time.Second),
		LogLevel:       envOr("LOG_LEVEL", "warn"),
		LogFormat:      envOr("LOG_FORMAT", "console"),
		PingbackAddr:   envOr("PINGBACK_ADDR", ":8080"),
		MetricsAddr:    envOr("METRICS_ADDR", ""),
		MemoSize:       envInt("DROPBOX_MEMO_SIZE", 256),
	}

	if cfg.ConsumerKey == "" {
		return nil, fmt.Errorf("DROPBOX_CONSUMER_KEY is required")
	}
	if cfg.ConsumerSecret == "" {
		return nil, fmt.Errorf("DROPBOX_CONSUMER_SECRET is required")
	}

	return cfg, nil
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".dropbox-session.yaml"
	}
	return filepath.Join(dir, "dropbox", "session.yaml")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
