package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBRADAR_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBRADAR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Detection ──
	setInt(&cfg.Detection.IntervalSeconds, "ARBRADAR_DETECTION_INTERVAL_SECONDS")
	setFloat64(&cfg.Detection.MinThreshold, "ARBRADAR_DETECTION_MIN_THRESHOLD")
	setFloat64(&cfg.Detection.MaxThreshold, "ARBRADAR_DETECTION_MAX_THRESHOLD")
	setInt(&cfg.Detection.MaxQueueSize, "ARBRADAR_DETECTION_MAX_QUEUE_SIZE")
	setInt(&cfg.Detection.OpportunityTTLMinutes, "ARBRADAR_DETECTION_OPPORTUNITY_TTL_MINUTES")
	setInt(&cfg.Detection.MaxOpportunitiesPerPair, "ARBRADAR_DETECTION_MAX_OPPORTUNITIES_PER_PAIR")
	setStringSlice(&cfg.Detection.MonitoredExchanges, "ARBRADAR_DETECTION_MONITORED_EXCHANGES")
	setStringSlice(&cfg.Detection.MonitoredPairs, "ARBRADAR_DETECTION_MONITORED_PAIRS")
	setInt(&cfg.Detection.CircuitBreaker.FailureThreshold, "ARBRADAR_BREAKER_FAILURE_THRESHOLD")
	setInt(&cfg.Detection.CircuitBreaker.OpenTimeoutSeconds, "ARBRADAR_BREAKER_OPEN_TIMEOUT_SECONDS")
	setInt(&cfg.Detection.CircuitBreaker.HalfOpenMaxCalls, "ARBRADAR_BREAKER_HALF_OPEN_MAX_CALLS")
	setInt(&cfg.Detection.Staleness.CeilingSeconds, "ARBRADAR_STALENESS_CEILING_SECONDS")

	// ── Cache ──
	setInt(&cfg.Cache.TickerTTLSeconds, "ARBRADAR_CACHE_TICKER_TTL_SECONDS")
	setInt(&cfg.Cache.FundingTTLSeconds, "ARBRADAR_CACHE_FUNDING_TTL_SECONDS")
	setInt(&cfg.Cache.AnalyticsTTLSeconds, "ARBRADAR_CACHE_ANALYTICS_TTL_SECONDS")
	setInt(&cfg.Cache.CompressionThresholdBytes, "ARBRADAR_CACHE_COMPRESSION_THRESHOLD_BYTES")

	// ── Distribution ──
	setStr(&cfg.Distribution.Strategy, "ARBRADAR_DISTRIBUTION_STRATEGY")
	setInt(&cfg.Distribution.BatchSize, "ARBRADAR_DISTRIBUTION_BATCH_SIZE")
	setFloat64(&cfg.Distribution.RatePerSecond, "ARBRADAR_DISTRIBUTION_RATE_PER_SECOND")
	setInt(&cfg.Distribution.DeliveryTimeoutSeconds, "ARBRADAR_DISTRIBUTION_DELIVERY_TIMEOUT_SECONDS")
	setInt(&cfg.Distribution.MaxRetries, "ARBRADAR_DISTRIBUTION_MAX_RETRIES")
	setInt(&cfg.Distribution.Fairness.RotationIntervalMinutes, "ARBRADAR_FAIRNESS_ROTATION_INTERVAL_MINUTES")
	setInt(&cfg.Distribution.Fairness.MaxPerUserPerHour, "ARBRADAR_FAIRNESS_MAX_PER_USER_PER_HOUR")
	setInt(&cfg.Distribution.Fairness.MaxPerUserPerDay, "ARBRADAR_FAIRNESS_MAX_PER_USER_PER_DAY")
	setFloat64(&cfg.Distribution.Fairness.ActivityBoostFactor, "ARBRADAR_FAIRNESS_ACTIVITY_BOOST_FACTOR")
	setInt(&cfg.Distribution.Fairness.CooldownPeriodMinutes, "ARBRADAR_FAIRNESS_COOLDOWN_PERIOD_MINUTES")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBRADAR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBRADAR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBRADAR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBRADAR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBRADAR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBRADAR_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBRADAR_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBRADAR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBRADAR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBRADAR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBRADAR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBRADAR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBRADAR_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBRADAR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBRADAR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBRADAR_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARBRADAR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBRADAR_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBRADAR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBRADAR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBRADAR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBRADAR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBRADAR_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARBRADAR_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "ARBRADAR_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "ARBRADAR_ARCHIVE_RETENTION_DAYS")

	// ── Delivery ──
	setStr(&cfg.Delivery.TelegramToken, "ARBRADAR_DELIVERY_TELEGRAM_TOKEN")
	setStr(&cfg.Delivery.WebhookURL, "ARBRADAR_DELIVERY_WEBHOOK_URL")

	// ── Alerts ──
	setStr(&cfg.Alerts.DiscordWebhookURL, "ARBRADAR_ALERTS_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Alerts.Events, "ARBRADAR_ALERTS_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBRADAR_MODE")
	setStr(&cfg.LogLevel, "ARBRADAR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
