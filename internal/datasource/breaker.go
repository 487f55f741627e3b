// Package datasource implements the tiered market data access chain:
// pipeline, cache, database, live API. Each tier sits behind a circuit
// breaker and the manager walks the chain in priority order.
package datasource

import (
	"sync"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

// BreakerConfig holds the circuit breaker thresholds shared by all tiers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker open.
	FailureThreshold int
	// OpenTimeout is how long the breaker stays open before admitting
	// half-open probes.
	OpenTimeout time.Duration
	// HalfOpenMaxCalls is the number of consecutive probe successes required
	// to close the breaker again.
	HalfOpenMaxCalls int
}

// Breaker is a mutex-guarded circuit breaker for one data source tier. It
// also accumulates the tier's request and latency statistics, so health
// reporting and admission control share one lock.
type Breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig

	tier             domain.SourceTier
	state            domain.BreakerState
	consecutiveFails int
	halfOpenCalls    int
	halfOpenOKs      int
	lastTransition   time.Time

	requests     int64
	successes    int64
	failures     int64
	trips        int64
	minLatency   time.Duration
	maxLatency   time.Duration
	totalLatency time.Duration
	lastError    string

	// now is swappable for tests.
	now func() time.Time
}

// NewBreaker creates a closed breaker for the given tier.
func NewBreaker(tier domain.SourceTier, cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg:            cfg,
		tier:           tier,
		state:          domain.BreakerClosed,
		lastTransition: time.Now(),
		now:            time.Now,
	}
}

// Allow reports whether a request may proceed. An open breaker past its
// timeout transitions to half-open and admits a bounded number of probes.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.BreakerClosed:
		return true
	case domain.BreakerOpen:
		if b.now().Sub(b.lastTransition) >= b.cfg.OpenTimeout {
			b.transition(domain.BreakerHalfOpen)
			b.halfOpenCalls = 1
			return true
		}
		return false
	case domain.BreakerHalfOpen:
		if b.halfOpenCalls < b.cfg.HalfOpenMaxCalls {
			b.halfOpenCalls++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess registers a successful request and its latency. Enough
// consecutive half-open successes close the breaker.
func (b *Breaker) RecordSuccess(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests++
	b.successes++
	b.consecutiveFails = 0
	b.observe(latency)

	if b.state == domain.BreakerHalfOpen {
		b.halfOpenOKs++
		if b.halfOpenOKs >= b.cfg.HalfOpenMaxCalls {
			b.transition(domain.BreakerClosed)
		}
	}
}

// RecordFailure registers a failed request. A half-open failure reopens the
// breaker immediately; reaching the consecutive-failure threshold while
// closed trips it.
func (b *Breaker) RecordFailure(err error, latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests++
	b.failures++
	b.consecutiveFails++
	b.observe(latency)
	if err != nil {
		b.lastError = err.Error()
	}

	switch b.state {
	case domain.BreakerHalfOpen:
		b.trips++
		b.transition(domain.BreakerOpen)
	case domain.BreakerClosed:
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.trips++
			b.transition(domain.BreakerOpen)
		}
	}
}

// State returns the current breaker state.
func (b *Breaker) State() domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the tier's health and latency counters.
func (b *Breaker) Stats() domain.SourceStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var avg time.Duration
	if b.requests > 0 {
		avg = b.totalLatency / time.Duration(b.requests)
	}

	return domain.SourceStats{
		Tier:             b.tier,
		State:            b.state,
		Requests:         b.requests,
		Successes:        b.successes,
		Failures:         b.failures,
		ConsecutiveFails: b.consecutiveFails,
		Trips:            b.trips,
		MinLatency:       b.minLatency,
		MaxLatency:       b.maxLatency,
		AvgLatency:       avg,
		LastTransition:   b.lastTransition,
		LastError:        b.lastError,
	}
}

// transition must be called with the lock held.
func (b *Breaker) transition(to domain.BreakerState) {
	b.state = to
	b.lastTransition = b.now()
	if to != domain.BreakerHalfOpen {
		b.halfOpenCalls = 0
	}
	b.halfOpenOKs = 0
	if to == domain.BreakerClosed {
		b.consecutiveFails = 0
	}
}

// observe must be called with the lock held.
func (b *Breaker) observe(latency time.Duration) {
	if latency <= 0 {
		return
	}
	b.totalLatency += latency
	if b.minLatency == 0 || latency < b.minLatency {
		b.minLatency = latency
	}
	if latency > b.maxLatency {
		b.maxLatency = latency
	}
}
