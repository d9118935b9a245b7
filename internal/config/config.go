// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all client configuration. It is constructed once in main and
// passed by reference; library packages never read the environment directly.
type Config struct {
	APIBaseURL    string
	WSBaseURL     string
	DBPath        string
	Room          string
	ChannelKind   string // "ai" or "chat"
	AssistantName string

	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration

	TranscriptLog TranscriptLogConfig
}

// TranscriptLogConfig controls NDJSON transcript logging.
type TranscriptLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 256)
	if queueSize <= 0 {
		queueSize = 256
	}

	cfg := &Config{
		APIBaseURL:           getEnv("API_BASE_URL", "http://localhost:8000"),
		WSBaseURL:            getEnv("WS_BASE_URL", "ws://localhost:8000"),
		DBPath:               getEnv("DB_PATH", "./data/mira.db"),
		Room:                 getEnv("CHAT_ROOM", "lobby"),
		ChannelKind:          getEnv("CHAT_CHANNEL_KIND", "ai"),
		AssistantName:        getEnv("ASSISTANT_NAME", "Mira"),
		MaxReconnectAttempts: getEnvInt("WS_MAX_RECONNECT_ATTEMPTS", 3),
		ReconnectBaseDelay:   getEnvDuration("WS_RECONNECT_BASE_DELAY", 500*time.Millisecond),
		TranscriptLog: TranscriptLogConfig{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", false),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/transcripts"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL cannot be empty")
	}
	if c.WSBaseURL == "" {
		return fmt.Errorf("WS_BASE_URL cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Room == "" {
		return fmt.Errorf("CHAT_ROOM cannot be empty")
	}
	if c.ChannelKind != "ai" && c.ChannelKind != "chat" {
		return fmt.Errorf("CHAT_CHANNEL_KIND must be \"ai\" or \"chat\", got %q", c.ChannelKind)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("WS_MAX_RECONNECT_ATTEMPTS cannot be negative")
	}
	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("WS_RECONNECT_BASE_DELAY must be > 0")
	}
	if c.TranscriptLog.Enabled && c.TranscriptLog.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
