package datasource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arbradar/arbradar/internal/domain"
)

// stubSource is a scriptable tier for manager tests.
type stubSource struct {
	tier  domain.SourceTier
	snap  domain.MarketSnapshot
	err   error
	calls int
}

func (s *stubSource) Tier() domain.SourceTier { return s.tier }

func (s *stubSource) Fetch(ctx context.Context, req Request) (domain.MarketSnapshot, error) {
	s.calls++
	return s.snap, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tickerSnap(exchange string, age time.Duration) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Exchange:  exchange,
		Pair:      "BTC/USDT",
		Kind:      domain.KindTicker,
		Bid:       100,
		Ask:       100.1,
		Timestamp: time.Now().Add(-age),
	}
}

func newTestManager(cfg ManagerConfig, sources ...Source) *Manager {
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker = BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      60 * time.Second,
			HalfOpenMaxCalls: 3,
		}
	}
	return NewManager(cfg, sources, nil, discardLogger())
}

func TestManagerReturnsFirstFreshHit(t *testing.T) {
	pipeline := &stubSource{tier: domain.TierPipeline, snap: tickerSnap("binance", 0)}
	cache := &stubSource{tier: domain.TierCache, snap: tickerSnap("binance", 0)}
	m := newTestManager(ManagerConfig{}, pipeline, cache)

	snap, err := m.Fetch(context.Background(), Request{Exchange: "binance", Pair: "BTC/USDT", Kind: domain.KindTicker})
	require.NoError(t, err)
	require.Equal(t, "binance", snap.Exchange)
	require.Equal(t, 1, pipeline.calls)
	require.Zero(t, cache.calls, "lower tiers must not be touched on a hit")
}

func TestManagerFallsThroughFailedTiers(t *testing.T) {
	pipeline := &stubSource{tier: domain.TierPipeline, err: fmt.Errorf("pipeline: %w", domain.ErrNotFound)}
	cache := &stubSource{tier: domain.TierCache, err: fmt.Errorf("cache: %w", domain.ErrNotFound)}
	db := &stubSource{tier: domain.TierDatabase, snap: tickerSnap("okx", 0)}
	m := newTestManager(ManagerConfig{}, pipeline, cache, db)

	snap, err := m.Fetch(context.Background(), Request{Exchange: "okx", Pair: "BTC/USDT", Kind: domain.KindTicker})
	require.NoError(t, err)
	require.Equal(t, "okx", snap.Exchange)
	require.Equal(t, 1, pipeline.calls)
	require.Equal(t, 1, cache.calls)
}

func TestManagerNormalizesSourceOrder(t *testing.T) {
	// Sources handed over backwards are still walked pipeline-first.
	pipeline := &stubSource{tier: domain.TierPipeline, snap: tickerSnap("binance", 0)}
	live := &stubSource{tier: domain.TierLiveAPI, snap: tickerSnap("binance", 0)}
	m := newTestManager(ManagerConfig{}, live, pipeline)

	_, err := m.Fetch(context.Background(), Request{Exchange: "binance", Pair: "BTC/USDT", Kind: domain.KindTicker})
	require.NoError(t, err)
	require.Equal(t, 1, pipeline.calls)
	require.Zero(t, live.calls)
}

func TestManagerAllTiersFailClosed(t *testing.T) {
	pipeline := &stubSource{tier: domain.TierPipeline, err: fmt.Errorf("pipeline: %w", domain.ErrNotFound)}
	live := &stubSource{tier: domain.TierLiveAPI, err: fmt.Errorf("live: %w", domain.ErrSourceUnavailable)}
	m := newTestManager(ManagerConfig{}, pipeline, live)

	_, err := m.Fetch(context.Background(), Request{Exchange: "binance", Pair: "BTC/USDT", Kind: domain.KindTicker})
	require.ErrorIs(t, err, domain.ErrAllSourcesUnavailable)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestManagerStaleFallbackWithinCeiling(t *testing.T) {
	stale := tickerSnap("binance", 2*time.Minute)
	stale.SourceTier = domain.TierDatabase
	db := &stubSource{tier: domain.TierDatabase, snap: stale, err: fmt.Errorf("db: %w", domain.ErrStaleData)}
	live := &stubSource{tier: domain.TierLiveAPI, err: fmt.Errorf("live: %w", domain.ErrSourceUnavailable)}

	m := newTestManager(ManagerConfig{StalenessCeiling: 5 * time.Minute}, db, live)

	snap, err := m.Fetch(context.Background(), Request{Exchange: "binance", Pair: "BTC/USDT", Kind: domain.KindTicker})
	require.NoError(t, err)
	require.True(t, snap.Stale)
	require.Equal(t, domain.TierDatabase, snap.SourceTier)
}

func TestManagerStaleFallbackDisabledByDefault(t *testing.T) {
	stale := tickerSnap("binance", 2*time.Minute)
	db := &stubSource{tier: domain.TierDatabase, snap: stale, err: fmt.Errorf("db: %w", domain.ErrStaleData)}

	// Ceiling zero: fail closed even though a stale candidate exists.
	m := newTestManager(ManagerConfig{}, db)

	_, err := m.Fetch(context.Background(), Request{Exchange: "binance", Pair: "BTC/USDT", Kind: domain.KindTicker})
	require.ErrorIs(t, err, domain.ErrAllSourcesUnavailable)
}

func TestManagerStaleFallbackRespectsCeiling(t *testing.T) {
	stale := tickerSnap("binance", 10*time.Minute)
	db := &stubSource{tier: domain.TierDatabase, snap: stale, err: fmt.Errorf("db: %w", domain.ErrStaleData)}

	m := newTestManager(ManagerConfig{StalenessCeiling: 5 * time.Minute}, db)

	_, err := m.Fetch(context.Background(), Request{Exchange: "binance", Pair: "BTC/USDT", Kind: domain.KindTicker})
	require.ErrorIs(t, err, domain.ErrAllSourcesUnavailable)
}

func TestManagerSkipsOpenBreaker(t *testing.T) {
	failing := &stubSource{tier: domain.TierPipeline, err: fmt.Errorf("pipeline: %w", domain.ErrSourceUnavailable)}
	backup := &stubSource{tier: domain.TierCache, snap: tickerSnap("binance", 0)}
	m := newTestManager(ManagerConfig{
		Breaker: BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute, HalfOpenMaxCalls: 1},
	}, failing, backup)

	req := Request{Exchange: "binance", Pair: "BTC/USDT", Kind: domain.KindTicker}
	for i := 0; i < 2; i++ {
		_, err := m.Fetch(context.Background(), req)
		require.NoError(t, err)
	}

	// Breaker is now open; the failing tier is skipped without a call.
	before := failing.calls
	_, err := m.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, before, failing.calls)

	stats := m.Stats()
	require.Equal(t, domain.TierPipeline, stats[0].Tier)
	require.Equal(t, domain.BreakerOpen, stats[0].State)
	require.Equal(t, int64(1), stats[0].Trips)
}

func TestManagerStaleHitCountsAsBreakerSuccess(t *testing.T) {
	stale := tickerSnap("binance", 2*time.Minute)
	db := &stubSource{tier: domain.TierDatabase, snap: stale, err: fmt.Errorf("db: %w", domain.ErrStaleData)}
	m := newTestManager(ManagerConfig{
		Breaker: BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute, HalfOpenMaxCalls: 1},
	}, db)

	req := Request{Exchange: "binance", Pair: "BTC/USDT", Kind: domain.KindTicker}
	for i := 0; i < 5; i++ {
		_, err := m.Fetch(context.Background(), req)
		require.Error(t, err)
	}

	// Stale answers mean the tier itself is healthy.
	stats := m.Stats()
	require.Equal(t, domain.BreakerClosed, stats[0].State)
	require.Equal(t, int64(5), stats[0].Successes)
}
