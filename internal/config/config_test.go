package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultCurrency, cfg.Currency)
	assert.Equal(t, DefaultAutoReleaseAfter, cfg.AutoReleaseAfter)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "staging")
	t.Setenv("AUTO_RELEASE_AFTER", "48h")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("RATE_LIMIT_RPM", "600")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, 48*time.Hour, cfg.AutoReleaseAfter)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 600, cfg.RateLimitRPM)
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
}

func TestValidate_ProductionRequirements(t *testing.T) {
	cfg := &Config{
		Env:              "production",
		AutoReleaseAfter: DefaultAutoReleaseAfter,
		SweepInterval:    DefaultSweepInterval,
	}
	require.Error(t, cfg.Validate())

	cfg.StripeAPIKey = "sk_test_123"
	require.Error(t, cfg.Validate(), "still missing DATABASE_URL")

	cfg.DatabaseURL = "postgres://localhost/escrowd"
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveIntervals(t *testing.T) {
	cfg := &Config{Env: "development", AutoReleaseAfter: 0, SweepInterval: time.Minute}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Env: "development", AutoReleaseAfter: time.Hour, SweepInterval: 0}
	assert.Error(t, cfg.Validate())
}
