// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8000"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	CORSOrigins string `env:"CORS_ORIGINS" default:"*"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	// PollInterval is the period between price fetches for an armed
	// subscription. The first fetch happens immediately on arm.
	PollInterval time.Duration `env:"POLL_INTERVAL" default:"30m"`

	// KeepaliveInterval bounds how long a stream stays silent before a
	// keepalive event is emitted.
	KeepaliveInterval time.Duration `env:"KEEPALIVE_INTERVAL" default:"30s"`

	SessionTTL time.Duration `env:"SESSION_TTL" default:"168h"` // 7 days

	// ScrapeRate limits outbound page fetches per second across all jobs.
	ScrapeRate float64 `env:"SCRAPE_RATE" default:"1"`

	// ChannelBuffer is the per-connection delivery queue size. A full
	// queue counts as a delivery failure and evicts the connection.
	ChannelBuffer int `env:"CHANNEL_BUFFER" default:"16"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
		"REDIS_URL":    cfg.RedisURL,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}
	if cfg.KeepaliveInterval <= 0 {
		return fmt.Errorf("KEEPALIVE_INTERVAL must be positive, got %s", cfg.KeepaliveInterval)
	}
	if cfg.ChannelBuffer < 1 {
		return fmt.Errorf("CHANNEL_BUFFER must be at least 1, got %d", cfg.ChannelBuffer)
	}

	return nil
}
