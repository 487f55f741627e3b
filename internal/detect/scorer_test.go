package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arbradar/arbradar/internal/domain"
)

func snap(bid, ask, volume float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Exchange:  "binance",
		Pair:      "BTC/USDT",
		Kind:      domain.KindTicker,
		Bid:       bid,
		Ask:       ask,
		Volume:    volume,
		Timestamp: time.Now().UTC(),
	}
}

func TestConfidenceBounds(t *testing.T) {
	s := NewScorer(0.001)

	// Worthless inputs still score at least the floor.
	low := s.Confidence(snap(0, 0, 0), snap(0, 0, 0), 0)
	require.Equal(t, 0.1, low)

	// Saturated volume, max price component, and perfect books hit the
	// ceiling, never 1.0.
	high := s.Confidence(snap(100, 100, 2_000_000), snap(100, 100, 2_000_000), 0.01)
	require.Equal(t, 0.95, high)
}

func TestConfidenceStaleDiscount(t *testing.T) {
	s := NewScorer(0.001)

	a := snap(100, 100.01, 1_000_000)
	b := snap(100.5, 100.51, 1_000_000)
	fresh := s.Confidence(a, b, 0.005)

	b.Stale = true
	discounted := s.Confidence(a, b, 0.005)
	require.Less(t, discounted, fresh)
	require.InDelta(t, fresh*0.75, discounted, 0.0001)
}

func TestConfidenceRewardsTighterBooks(t *testing.T) {
	s := NewScorer(0.001)

	tight := s.Confidence(snap(100, 100.01, 500_000), snap(100, 100.01, 500_000), 0.002)
	wide := s.Confidence(snap(100, 101.5, 500_000), snap(100, 101.5, 500_000), 0.002)
	require.Greater(t, tight, wide)
}

func TestPriorityScalesWithDifferentialAndConfidence(t *testing.T) {
	s := NewScorer(0.001)
	ttl := 15 * time.Minute

	require.InDelta(t, 0.005*0.8, s.Priority(0.005, 0.8, 0, ttl), 1e-12)
	// Magnitude only: a negative differential ranks the same.
	require.Equal(t, s.Priority(0.005, 0.8, 0, ttl), s.Priority(-0.005, 0.8, 0, ttl))
	require.Greater(t, s.Priority(0.01, 0.8, 0, ttl), s.Priority(0.005, 0.8, 0, ttl))
}

func TestPriorityDecaysWithAge(t *testing.T) {
	s := NewScorer(0.001)
	ttl := 10 * time.Minute

	fresh := s.Priority(0.005, 0.8, 0, ttl)
	aged := s.Priority(0.005, 0.8, 5*time.Minute, ttl)
	require.Less(t, aged, fresh)
	require.InDelta(t, fresh*0.5, aged, 1e-12)

	// An equally strong but older entry loses to a fresh one.
	require.Greater(t, fresh, s.Priority(0.005, 0.8, 9*time.Minute, ttl))

	// Decay bottoms out at the floor rather than hitting zero.
	atExpiry := s.Priority(0.005, 0.8, ttl, ttl)
	require.InDelta(t, fresh*0.1, atExpiry, 1e-12)
	require.Equal(t, atExpiry, s.Priority(0.005, 0.8, 2*ttl, ttl))

	// No lifetime to decay over means no decay.
	require.Equal(t, fresh, s.Priority(0.005, 0.8, 5*time.Minute, 0))
}
