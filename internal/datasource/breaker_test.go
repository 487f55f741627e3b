package datasource

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arbradar/arbradar/internal/domain"
)

func testBreaker() (*Breaker, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(domain.TierLiveAPI, BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      60 * time.Second,
		HalfOpenMaxCalls: 3,
	})
	b.now = func() time.Time { return now }
	return b, &now
}

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		b.RecordFailure(errors.New("connection refused"), time.Millisecond)
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b, _ := testBreaker()

	failN(b, 4)
	require.Equal(t, domain.BreakerClosed, b.State())
	require.True(t, b.Allow())

	failN(b, 1)
	require.Equal(t, domain.BreakerOpen, b.State())
	require.False(t, b.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker()

	failN(b, 4)
	b.RecordSuccess(time.Millisecond)
	failN(b, 4)
	require.Equal(t, domain.BreakerClosed, b.State())
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b, now := testBreaker()
	failN(b, 5)

	// Still open before the timeout elapses.
	*now = now.Add(59 * time.Second)
	require.False(t, b.Allow())

	*now = now.Add(time.Second)
	require.True(t, b.Allow())
	require.Equal(t, domain.BreakerHalfOpen, b.State())

	// Two more probes admitted, then the window is exhausted.
	require.True(t, b.Allow())
	require.True(t, b.Allow())
	require.False(t, b.Allow())
}

func TestBreakerClosesAfterProbeSuccesses(t *testing.T) {
	b, now := testBreaker()
	failN(b, 5)
	*now = now.Add(60 * time.Second)
	require.True(t, b.Allow())

	b.RecordSuccess(time.Millisecond)
	b.RecordSuccess(time.Millisecond)
	require.Equal(t, domain.BreakerHalfOpen, b.State())

	b.RecordSuccess(time.Millisecond)
	require.Equal(t, domain.BreakerClosed, b.State())
	require.True(t, b.Allow())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b, now := testBreaker()
	failN(b, 5)
	*now = now.Add(60 * time.Second)
	require.True(t, b.Allow())

	b.RecordSuccess(time.Millisecond)
	b.RecordFailure(errors.New("timeout"), time.Millisecond)
	require.Equal(t, domain.BreakerOpen, b.State())
	require.False(t, b.Allow())

	// The full open timeout applies again.
	*now = now.Add(60 * time.Second)
	require.True(t, b.Allow())
	require.Equal(t, domain.BreakerHalfOpen, b.State())
}

func TestBreakerStats(t *testing.T) {
	b, _ := testBreaker()

	b.RecordSuccess(10 * time.Millisecond)
	b.RecordSuccess(30 * time.Millisecond)
	b.RecordFailure(errors.New("boom"), 20*time.Millisecond)

	stats := b.Stats()
	require.Equal(t, domain.TierLiveAPI, stats.Tier)
	require.Equal(t, int64(3), stats.Requests)
	require.Equal(t, int64(2), stats.Successes)
	require.Equal(t, int64(1), stats.Failures)
	require.Equal(t, 10*time.Millisecond, stats.MinLatency)
	require.Equal(t, 30*time.Millisecond, stats.MaxLatency)
	require.Equal(t, 20*time.Millisecond, stats.AvgLatency)
	require.Equal(t, "boom", stats.LastError)
	require.Zero(t, stats.Trips)
}
