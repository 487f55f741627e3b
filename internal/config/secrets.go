package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Delivery
	out.Delivery = cfg.Delivery
	redact(&out.Delivery.TelegramToken)
	redact(&out.Delivery.WebhookURL)

	// Alerts
	out.Alerts = cfg.Alerts
	redact(&out.Alerts.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Detection.MonitoredExchanges != nil {
		out.Detection.MonitoredExchanges = make([]string, len(cfg.Detection.MonitoredExchanges))
		copy(out.Detection.MonitoredExchanges, cfg.Detection.MonitoredExchanges)
	}
	if cfg.Detection.MonitoredPairs != nil {
		out.Detection.MonitoredPairs = make([]string, len(cfg.Detection.MonitoredPairs))
		copy(out.Detection.MonitoredPairs, cfg.Detection.MonitoredPairs)
	}

	// Copy maps so mutations to the redacted copy do not affect the original.
	if cfg.Distribution.Fairness.TierMultipliers != nil {
		out.Distribution.Fairness.TierMultipliers = make(map[string]float64, len(cfg.Distribution.Fairness.TierMultipliers))
		for k, v := range cfg.Distribution.Fairness.TierMultipliers {
			out.Distribution.Fairness.TierMultipliers[k] = v
		}
	}
	if cfg.Exchanges != nil {
		out.Exchanges = make(map[string]ExchangeConfig, len(cfg.Exchanges))
		for k, v := range cfg.Exchanges {
			out.Exchanges[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
