package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "")
	setEnv(t, "TRAINING_WINDOW_DAYS", "")
	setEnv(t, "APPROVAL_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultTrainingWindowDays, cfg.TrainingWindowDays)
	assert.Equal(t, DefaultTrainingMaxSamples, cfg.TrainingMaxSamples)
	assert.Equal(t, DefaultTrainingMinSamples, cfg.TrainingMinSamples)
	assert.Equal(t, DefaultApprovalTTL, cfg.ApprovalTTL)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "TRAINING_WINDOW_DAYS", "30")
	setEnv(t, "TRAINING_MAX_SAMPLES", "5000")
	setEnv(t, "APPROVAL_TTL", "2h")
	setEnv(t, "SWEEP_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 30, cfg.TrainingWindowDays)
	assert.Equal(t, 5000, cfg.TrainingMaxSamples)
	assert.Equal(t, 2*time.Hour, cfg.ApprovalTTL)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
}

func TestLoad_IgnoresMalformedValues(t *testing.T) {
	setEnv(t, "TRAINING_WINDOW_DAYS", "not-a-number")
	setEnv(t, "APPROVAL_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultTrainingWindowDays, cfg.TrainingWindowDays)
	assert.Equal(t, DefaultApprovalTTL, cfg.ApprovalTTL)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		TrainingMinSamples: 100,
		TrainingMaxSamples: 10000,
		ApprovalTTL:        24 * time.Hour,
		SweepInterval:      5 * time.Minute,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "min samples must be positive",
			mutate:  func(c *Config) { c.TrainingMinSamples = 0 },
			wantErr: "TRAINING_MIN_SAMPLES",
		},
		{
			name:    "max samples below min",
			mutate:  func(c *Config) { c.TrainingMaxSamples = 50 },
			wantErr: "TRAINING_MAX_SAMPLES",
		},
		{
			name:    "ttl must be positive",
			mutate:  func(c *Config) { c.ApprovalTTL = 0 },
			wantErr: "APPROVAL_TTL",
		},
		{
			name:    "sweep interval must be positive",
			mutate:  func(c *Config) { c.SweepInterval = -time.Second },
			wantErr: "SWEEP_INTERVAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestEnvModeHelpers(t *testing.T) {
	dev := Config{Env: "development"}
	prod := Config{Env: "production"}

	assert.True(t, dev.IsDevelopment())
	assert.False(t, dev.IsProduction())
	assert.True(t, prod.IsProduction())
	assert.False(t, prod.IsDevelopment())
}
