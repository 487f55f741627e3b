package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrSourceUnavailable     = errors.New("data source unavailable")
	ErrAllSourcesUnavailable = errors.New("all data sources unavailable")
	ErrBreakerOpen           = errors.New("circuit breaker open")
	ErrDataQuality           = errors.New("data quality check failed")
	ErrStaleData             = errors.New("data past freshness window")
	ErrQuotaExceeded         = errors.New("distribution quota exceeded")
	ErrCoolingDown           = errors.New("user in cooldown")
	ErrDeliveryFailed        = errors.New("delivery failed")
	ErrLockHeld              = errors.New("lock already held")
)
