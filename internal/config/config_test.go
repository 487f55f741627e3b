package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "serve" }, "unknown mode"},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }, "unknown log_level"},
		{"zero interval", func(c *Config) { c.Detection.IntervalSeconds = 0 }, "interval_seconds"},
		{"inverted thresholds", func(c *Config) { c.Detection.MaxThreshold = c.Detection.MinThreshold }, "max_threshold"},
		{"one exchange", func(c *Config) { c.Detection.MonitoredExchanges = []string{"binance"} }, "monitored_exchanges"},
		{"no pairs", func(c *Config) { c.Detection.MonitoredPairs = nil }, "monitored_pairs"},
		{"negative staleness ceiling", func(c *Config) { c.Detection.Staleness.CeilingSeconds = -1 }, "ceiling_seconds"},
		{"unknown strategy", func(c *Config) { c.Distribution.Strategy = "weighted" }, "unknown strategy"},
		{"daily below hourly", func(c *Config) { c.Distribution.Fairness.MaxPerUserPerDay = 1 }, "per_user_per_day"},
		{"zero tier multiplier", func(c *Config) { c.Distribution.Fairness.TierMultipliers["free"] = 0 }, "tier_multipliers[free]"},
		{"empty redis addr", func(c *Config) { c.Redis.Addr = "" }, "redis: addr"},
		{"pool min above max", func(c *Config) { c.Postgres.PoolMinConns = 99 }, "pool_min_conns"},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.S3.Bucket = ""
		}, "s3: bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Redis.Addr = ""
	cfg.Detection.IntervalSeconds = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "unknown mode")
	assert.ErrorContains(t, err, "redis: addr")
	assert.ErrorContains(t, err, "interval_seconds")
}

func TestValidateDSNSkipsHostChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://app@db:5432/arbradar"
	cfg.Postgres.Host = ""
	cfg.Postgres.Port = 0
	cfg.Postgres.Database = ""

	require.NoError(t, cfg.Validate())
}

func TestTierMultiplier(t *testing.T) {
	f := Defaults().Distribution.Fairness
	assert.Equal(t, 2.0, f.TierMultiplier("premium"))
	assert.Equal(t, 2.0, f.TierMultiplier("PREMIUM"))
	assert.Equal(t, 1.0, f.TierMultiplier("platinum"))
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "detect"

[detection]
min_threshold = 0.005

[redis]
addr = "redis.internal:6379"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "detect", cfg.Mode)
	assert.Equal(t, 0.005, cfg.Detection.MinThreshold)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)

	// Untouched fields keep their defaults.
	assert.Equal(t, 0.02, cfg.Detection.MaxThreshold)
	assert.Equal(t, "round_robin", cfg.Distribution.Strategy)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "full"`), 0o644))

	t.Setenv("ARBRADAR_MODE", "archive")
	t.Setenv("ARBRADAR_REDIS_PASSWORD", "hunter2")
	t.Setenv("ARBRADAR_DETECTION_MONITORED_PAIRS", "BTC/USDT, ETH/USDT")
	t.Setenv("ARBRADAR_FAIRNESS_MAX_PER_USER_PER_HOUR", "7")
	t.Setenv("ARBRADAR_ARCHIVE_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "archive", cfg.Mode)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Detection.MonitoredPairs)
	assert.Equal(t, 7, cfg.Distribution.Fairness.MaxPerUserPerHour)
	assert.True(t, cfg.Archive.Enabled)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Password = "redis-secret"
	cfg.Postgres.Password = "pg-secret"
	cfg.S3.AccessKey = "AKIA123"
	cfg.S3.SecretKey = "shhh"
	cfg.Delivery.TelegramToken = "123:abc"
	cfg.Alerts.DiscordWebhookURL = "https://discord.example/hook"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.AccessKey)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Delivery.TelegramToken)
	assert.Equal(t, "***", red.Alerts.DiscordWebhookURL)

	// Empty secrets stay empty rather than being replaced.
	assert.Empty(t, red.Postgres.DSN)

	// Originals are untouched, and the copy does not alias the original maps.
	assert.Equal(t, "redis-secret", cfg.Redis.Password)
	red.Distribution.Fairness.TierMultipliers["free"] = 99
	assert.Equal(t, 1.0, cfg.Distribution.Fairness.TierMultipliers["free"])
}
