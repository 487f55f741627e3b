// Package config defines the top-level configuration for the arbradar
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBRADAR_* environment
// variables.
type Config struct {
	Detection    DetectionConfig           `toml:"detection"`
	Cache        CacheConfig               `toml:"cache"`
	Distribution DistributionConfig        `toml:"distribution"`
	Redis        RedisConfig               `toml:"redis"`
	Postgres     PostgresConfig            `toml:"postgres"`
	S3           S3Config                  `toml:"s3"`
	Archive      ArchiveConfig             `toml:"archive"`
	Delivery     DeliveryConfig            `toml:"delivery"`
	Alerts       AlertsConfig              `toml:"alerts"`
	Exchanges    map[string]ExchangeConfig `toml:"exchanges"`
	Mode         string                    `toml:"mode"`
	LogLevel     string                    `toml:"log_level"`
}

// DetectionConfig holds opportunity detection parameters.
type DetectionConfig struct {
	IntervalSeconds         int      `toml:"interval_seconds"`
	MinThreshold            float64  `toml:"min_threshold"`
	MaxThreshold            float64  `toml:"max_threshold"`
	MaxQueueSize            int      `toml:"max_queue_size"`
	OpportunityTTLMinutes   int      `toml:"opportunity_ttl_minutes"`
	MaxOpportunitiesPerPair int      `toml:"max_opportunities_per_pair"`
	MaxParticipants         int      `toml:"max_participants"`
	MonitoredExchanges      []string `toml:"monitored_exchanges"`
	MonitoredPairs          []string `toml:"monitored_pairs"`

	CircuitBreaker BreakerConfig    `toml:"circuit_breaker"`
	Staleness      StalenessConfig  `toml:"staleness"`
	Validation     ValidationConfig `toml:"validation"`
}

// BreakerConfig holds per-source circuit breaker parameters.
type BreakerConfig struct {
	FailureThreshold   int `toml:"failure_threshold"`
	OpenTimeoutSeconds int `toml:"open_timeout_seconds"`
	HalfOpenMaxCalls   int `toml:"half_open_max_calls"`
}

// StalenessConfig controls the emergency stale-cache fallback. A ceiling of
// zero disables the feature entirely (fail closed).
type StalenessConfig struct {
	CeilingSeconds int `toml:"ceiling_seconds"`
}

// ValidationConfig holds snapshot quality-check parameters.
type ValidationConfig struct {
	SigmaThreshold       float64 `toml:"sigma_threshold"`
	MaxAgeSeconds        int     `toml:"max_age_seconds"`
	MaxFutureSkewSeconds int     `toml:"max_future_skew_seconds"`
	DivergenceCeiling    float64 `toml:"divergence_ceiling"`
}

// CacheConfig holds category TTLs and the compression threshold for the
// Redis snapshot cache.
type CacheConfig struct {
	TickerTTLSeconds          int `toml:"ticker_ttl_seconds"`
	FundingTTLSeconds         int `toml:"funding_ttl_seconds"`
	AnalyticsTTLSeconds       int `toml:"analytics_ttl_seconds"`
	CompressionThresholdBytes int `toml:"compression_threshold_bytes"`
}

// DistributionConfig holds delivery and fairness parameters.
type DistributionConfig struct {
	Strategy               string         `toml:"strategy"`
	BatchSize              int            `toml:"batch_size"`
	RatePerSecond          float64        `toml:"rate_per_second"`
	DeliveryTimeoutSeconds int            `toml:"delivery_timeout_seconds"`
	MaxRetries             int            `toml:"max_retries"`
	Fairness               FairnessConfig `toml:"fairness"`
}

// FairnessConfig bounds how often any one user receives opportunities.
type FairnessConfig struct {
	RotationIntervalMinutes int                `toml:"rotation_interval_minutes"`
	MaxPerUserPerHour       int                `toml:"max_opportunities_per_user_per_hour"`
	MaxPerUserPerDay        int                `toml:"max_opportunities_per_user_per_day"`
	TierMultipliers         map[string]float64 `toml:"tier_multipliers"`
	ActivityBoostFactor     float64            `toml:"activity_boost_factor"`
	CooldownPeriodMinutes   int                `toml:"cooldown_period_minutes"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// DeliveryConfig holds delivery channel credentials.
type DeliveryConfig struct {
	TelegramToken string `toml:"telegram_token"`
	WebhookURL    string `toml:"webhook_url"`
}

// AlertsConfig holds operator-facing alerting parameters. Alerts are separate
// from user delivery: they notify the operations channel about system events
// such as detected opportunities.
type AlertsConfig struct {
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ExchangeConfig holds per-exchange endpoint overrides.
type ExchangeConfig struct {
	RestURL string `toml:"rest_url"`
	WsURL   string `toml:"ws_url"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Detection: DetectionConfig{
			IntervalSeconds:         120,
			MinThreshold:            0.001,
			MaxThreshold:            0.02,
			MaxQueueSize:            100,
			OpportunityTTLMinutes:   15,
			MaxOpportunitiesPerPair: 5,
			MaxParticipants:         100,
			MonitoredExchanges:      []string{"coinbase", "okx", "binance", "bybit", "bitget"},
			MonitoredPairs:          []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"},
			CircuitBreaker: BreakerConfig{
				FailureThreshold:   5,
				OpenTimeoutSeconds: 60,
				HalfOpenMaxCalls:   3,
			},
			Staleness: StalenessConfig{
				CeilingSeconds: 0, // disabled: fail closed
			},
			Validation: ValidationConfig{
				SigmaThreshold:       4.0,
				MaxAgeSeconds:        300,
				MaxFutureSkewSeconds: 5,
				DivergenceCeiling:    0.5,
			},
		},
		Cache: CacheConfig{
			TickerTTLSeconds:          300,
			FundingTTLSeconds:         900,
			AnalyticsTTLSeconds:       1800,
			CompressionThresholdBytes: 10 * 1024,
		},
		Distribution: DistributionConfig{
			Strategy:               "round_robin",
			BatchSize:              50,
			RatePerSecond:          25,
			DeliveryTimeoutSeconds: 5,
			MaxRetries:             3,
			Fairness: FairnessConfig{
				RotationIntervalMinutes: 15,
				MaxPerUserPerHour:       2,
				MaxPerUserPerDay:        10,
				TierMultipliers: map[string]float64{
					"free":       1.0,
					"basic":      1.5,
					"premium":    2.0,
					"enterprise": 3.0,
				},
				ActivityBoostFactor:   1.2,
				CooldownPeriodMinutes: 5,
			},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbradar",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbradar-audit",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 * * *",
			RetentionDays: 90,
		},
		Exchanges: map[string]ExchangeConfig{},
		Mode:      "full",
		LogLevel:  "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"detect":     true,
	"distribute": true,
	"archive":    true,
	"full":       true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validStrategies enumerates the accepted distribution strategies.
var validStrategies = map[string]bool{
	"round_robin":    true,
	"broadcast":      true,
	"priority_based": true,
	"geographic":     true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found. Configuration errors are
// fatal at startup only.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: detect, distribute, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Detection
	d := &c.Detection
	if d.IntervalSeconds <= 0 {
		errs = append(errs, "detection: interval_seconds must be > 0")
	}
	if d.MinThreshold <= 0 {
		errs = append(errs, "detection: min_threshold must be > 0")
	}
	if d.MaxThreshold <= d.MinThreshold {
		errs = append(errs, "detection: max_threshold must be > min_threshold")
	}
	if d.MaxQueueSize < 1 {
		errs = append(errs, "detection: max_queue_size must be >= 1")
	}
	if d.OpportunityTTLMinutes <= 0 {
		errs = append(errs, "detection: opportunity_ttl_minutes must be > 0")
	}
	if d.MaxOpportunitiesPerPair < 1 {
		errs = append(errs, "detection: max_opportunities_per_pair must be >= 1")
	}
	if len(d.MonitoredExchanges) < 2 {
		errs = append(errs, "detection: at least two monitored_exchanges are required")
	}
	if len(d.MonitoredPairs) == 0 {
		errs = append(errs, "detection: monitored_pairs must not be empty")
	}
	if d.CircuitBreaker.FailureThreshold < 1 {
		errs = append(errs, "detection: circuit_breaker.failure_threshold must be >= 1")
	}
	if d.CircuitBreaker.OpenTimeoutSeconds < 1 {
		errs = append(errs, "detection: circuit_breaker.open_timeout_seconds must be >= 1")
	}
	if d.CircuitBreaker.HalfOpenMaxCalls < 1 {
		errs = append(errs, "detection: circuit_breaker.half_open_max_calls must be >= 1")
	}
	if d.Staleness.CeilingSeconds < 0 {
		errs = append(errs, "detection: staleness.ceiling_seconds must be >= 0")
	}
	if d.Validation.SigmaThreshold <= 0 {
		errs = append(errs, "detection: validation.sigma_threshold must be > 0")
	}
	if d.Validation.DivergenceCeiling <= 0 {
		errs = append(errs, "detection: validation.divergence_ceiling must be > 0")
	}

	// Cache
	if c.Cache.TickerTTLSeconds <= 0 || c.Cache.FundingTTLSeconds <= 0 || c.Cache.AnalyticsTTLSeconds <= 0 {
		errs = append(errs, "cache: all category TTLs must be > 0")
	}
	if c.Cache.CompressionThresholdBytes < 0 {
		errs = append(errs, "cache: compression_threshold_bytes must be >= 0")
	}

	// Distribution
	dist := &c.Distribution
	if !validStrategies[strings.ToLower(dist.Strategy)] {
		errs = append(errs, fmt.Sprintf("distribution: unknown strategy %q (valid: round_robin, broadcast, priority_based, geographic)", dist.Strategy))
	}
	if dist.BatchSize < 1 {
		errs = append(errs, "distribution: batch_size must be >= 1")
	}
	if dist.RatePerSecond <= 0 {
		errs = append(errs, "distribution: rate_per_second must be > 0")
	}
	if dist.DeliveryTimeoutSeconds <= 0 {
		errs = append(errs, "distribution: delivery_timeout_seconds must be > 0")
	}
	if dist.MaxRetries < 0 {
		errs = append(errs, "distribution: max_retries must be >= 0")
	}
	f := &dist.Fairness
	if f.MaxPerUserPerHour < 1 {
		errs = append(errs, "distribution: fairness.max_opportunities_per_user_per_hour must be >= 1")
	}
	if f.MaxPerUserPerDay < f.MaxPerUserPerHour {
		errs = append(errs, "distribution: fairness.max_opportunities_per_user_per_day must be >= the hourly cap")
	}
	if f.CooldownPeriodMinutes < 0 {
		errs = append(errs, "distribution: fairness.cooldown_period_minutes must be >= 0")
	}
	if f.ActivityBoostFactor < 1.0 {
		errs = append(errs, "distribution: fairness.activity_boost_factor must be >= 1.0")
	}
	for tier, mult := range f.TierMultipliers {
		if mult <= 0 {
			errs = append(errs, fmt.Sprintf("distribution: fairness.tier_multipliers[%s] must be > 0", tier))
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty when archive is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TierMultiplier returns the configured multiplier for a tier, defaulting to
// 1.0 for unknown tiers.
func (f FairnessConfig) TierMultiplier(tier string) float64 {
	if m, ok := f.TierMultipliers[strings.ToLower(tier)]; ok {
		return m
	}
	return 1.0
}
