// Package config loads service configuration from CRUSO_-prefixed
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the configuration for the chat service and the document worker.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP server
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Store driver selection: postgres or sqlite.
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/cruso.db"`

	// Processing backend (document ingestion + answer generation).
	BackendURL            string `envconfig:"BACKEND_URL" default:"http://localhost:8000"`
	BackendTimeoutSeconds int    `envconfig:"BACKEND_TIMEOUT_SECONDS" default:"30"`

	// Fixed-window admission control applied to mutating endpoints.
	RateLimitMaxRequests   int `envconfig:"RATE_LIMIT_MAX_REQUESTS" default:"100"`
	RateLimitWindowMinutes int `envconfig:"RATE_LIMIT_WINDOW_MINUTES" default:"15"`

	// Uploaded files are staged here before the backend ingests them.
	UploadDir string `envconfig:"UPLOAD_DIR" default:"data/uploads"`

	// Document job worker
	WorkerBatchSize       int `envconfig:"WORKER_BATCH_SIZE" default:"50"`
	WorkerIntervalSeconds int `envconfig:"WORKER_INTERVAL_SECONDS" default:"2"`

	// Health monitoring
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`

	// API keys accepted by the static authorizer, "key=userId" pairs.
	// Empty means the local development key only.
	APIKeys []string `envconfig:"API_KEYS" default:""`
}

// New creates a Config by parsing CRUSO_-prefixed environment variables.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("CRUSO", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks driver selection and limiter bounds.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("CRUSO_POSTGRES_DSN is required with DB_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("CRUSO_SQLITE_PATH is required with DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.RateLimitMaxRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive")
	}
	if c.RateLimitWindowMinutes <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_MINUTES must be positive")
	}
	return nil
}

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool { return c.Environment == "production" }

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }

// BackendTimeout returns the processing backend call timeout.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutSeconds) * time.Second
}

// RateLimitWindow returns the fixed admission window duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMinutes) * time.Minute
}
