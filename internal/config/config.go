// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing

	// Model training
	TrainingWindowDays int // history window for training samples
	TrainingMaxSamples int // cap on most-recent samples per run
	TrainingMinSamples int // below this, training fails and keeps the old model

	// Approval workflow
	ApprovalTTL   time.Duration // pending request lifetime
	SweepInterval time.Duration // expiry sweep period
}

// Defaults
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultTrainingWindowDays = 90
	DefaultTrainingMaxSamples = 10000
	DefaultTrainingMinSamples = 100
	DefaultApprovalTTL        = 24 * time.Hour
	DefaultSweepInterval      = 5 * time.Minute
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TrainingWindowDays: getEnvInt("TRAINING_WINDOW_DAYS", DefaultTrainingWindowDays),
		TrainingMaxSamples: getEnvInt("TRAINING_MAX_SAMPLES", DefaultTrainingMaxSamples),
		TrainingMinSamples: getEnvInt("TRAINING_MIN_SAMPLES", DefaultTrainingMinSamples),
		ApprovalTTL:        getEnvDuration("APPROVAL_TTL", DefaultApprovalTTL),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	if c.TrainingMinSamples <= 0 {
		return fmt.Errorf("TRAINING_MIN_SAMPLES must be positive")
	}
	if c.TrainingMaxSamples < c.TrainingMinSamples {
		return fmt.Errorf("TRAINING_MAX_SAMPLES must be >= TRAINING_MIN_SAMPLES")
	}
	if c.ApprovalTTL <= 0 {
		return fmt.Errorf("APPROVAL_TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
