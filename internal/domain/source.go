package domain

import "time"

// BreakerState is a circuit breaker's position in its state machine.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// SourceStats is a point-in-time view of one data source's health and
// performance, owned and mutated only by the data source manager.
type SourceStats struct {
	Tier             SourceTier    `json:"tier"`
	State            BreakerState  `json:"state"`
	Requests         int64         `json:"requests"`
	Successes        int64         `json:"successes"`
	Failures         int64         `json:"failures"`
	ConsecutiveFails int           `json:"consecutive_fails"`
	Trips            int64         `json:"trips"`
	MinLatency       time.Duration `json:"min_latency"`
	MaxLatency       time.Duration `json:"max_latency"`
	AvgLatency       time.Duration `json:"avg_latency"`
	LastTransition   time.Time     `json:"last_transition"`
	LastError        string        `json:"last_error,omitempty"`
}

// SuccessRate returns the fraction of requests that succeeded, or zero when
// nothing has been recorded yet.
func (s SourceStats) SuccessRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Requests)
}
