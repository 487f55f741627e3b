package datasource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arbradar/arbradar/internal/domain"
)

func testValidator() *Validator {
	return NewValidator(ValidatorConfig{
		SigmaThreshold:    4.0,
		MaxAge:            5 * time.Minute,
		MaxFutureSkew:     5 * time.Second,
		DivergenceCeiling: 0.5,
	}, nil, discardLogger())
}

func validSnap() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Exchange:  "binance",
		Pair:      "BTC/USDT",
		Kind:      domain.KindTicker,
		Bid:       100,
		Ask:       100.1,
		Volume:    1000,
		Timestamp: time.Now(),
	}
}

func TestValidateAcceptsHealthySnapshot(t *testing.T) {
	v := testValidator()
	require.NoError(t, v.Validate(context.Background(), validSnap()))
}

func TestValidateHardChecks(t *testing.T) {
	v := testValidator()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*domain.MarketSnapshot)
	}{
		{"zero bid", func(s *domain.MarketSnapshot) { s.Bid = 0 }},
		{"negative ask", func(s *domain.MarketSnapshot) { s.Ask = -1 }},
		{"crossed book", func(s *domain.MarketSnapshot) { s.Bid = 101; s.Ask = 100 }},
		{"negative volume", func(s *domain.MarketSnapshot) { s.Volume = -5 }},
		{"too old", func(s *domain.MarketSnapshot) { s.Timestamp = time.Now().Add(-10 * time.Minute) }},
		{"future timestamp", func(s *domain.MarketSnapshot) { s.Timestamp = time.Now().Add(time.Minute) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := validSnap()
			tt.mutate(&snap)
			require.ErrorIs(t, v.Validate(ctx, snap), domain.ErrDataQuality)
		})
	}
}

func TestValidateRejectsSigmaOutlier(t *testing.T) {
	v := testValidator()
	ctx := context.Background()

	// Feed a drifting-but-sane price series to build the rolling window.
	for i := 0; i < 20; i++ {
		snap := validSnap()
		snap.Bid = 100 + float64(i%5)
		snap.Ask = snap.Bid + 0.1
		require.NoError(t, v.Validate(ctx, snap))
	}

	outlier := validSnap()
	outlier.Bid = 500
	outlier.Ask = 500.1
	require.ErrorIs(t, v.Validate(ctx, outlier), domain.ErrDataQuality)

	// The outlier must not have entered the window.
	require.NoError(t, v.Validate(ctx, validSnap()))
}

func TestValidateSigmaCheckNeedsSamples(t *testing.T) {
	v := testValidator()
	ctx := context.Background()

	snap := validSnap()
	require.NoError(t, v.Validate(ctx, snap))

	// With almost no history even a wild price passes the sigma check.
	wild := validSnap()
	wild.Bid = 900
	wild.Ask = 900.1
	require.NoError(t, v.Validate(ctx, wild))
}

func TestValidateWindowsArePerExchange(t *testing.T) {
	v := testValidator()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		snap := validSnap()
		snap.Bid = 100 + float64(i%3)
		snap.Ask = snap.Bid + 0.1
		require.NoError(t, v.Validate(ctx, snap))
	}

	// A very different price on another exchange has its own window.
	other := validSnap()
	other.Exchange = "okx"
	other.Bid = 700
	other.Ask = 700.1
	require.NoError(t, v.Validate(ctx, other))
}

func TestFlagDivergent(t *testing.T) {
	v := testValidator()

	mk := func(exchange string, mid float64) domain.MarketSnapshot {
		s := validSnap()
		s.Exchange = exchange
		s.Bid = mid - 0.05
		s.Ask = mid + 0.05
		return s
	}

	snaps := []domain.MarketSnapshot{
		mk("binance", 100),
		mk("okx", 101),
		mk("bybit", 99),
		mk("coinbase", 300), // 3x the median
	}

	out := v.FlagDivergent(context.Background(), snaps)
	require.Len(t, out, 4)
	require.False(t, out[0].Flagged)
	require.False(t, out[1].Flagged)
	require.False(t, out[2].Flagged)
	require.True(t, out[3].Flagged)
}

func TestFlagDivergentNeedsTwoSnapshots(t *testing.T) {
	v := testValidator()
	single := []domain.MarketSnapshot{validSnap()}
	out := v.FlagDivergent(context.Background(), single)
	require.Len(t, out, 1)
	require.False(t, out[0].Flagged)
}
