package redis

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbradar/arbradar/internal/domain"
)

func codecCache(threshold int) *SnapshotCache {
	return &SnapshotCache{cfg: SnapshotCacheConfig{
		TickerTTL:            30 * time.Second,
		FundingTTL:           5 * time.Minute,
		AnalyticsTTL:         time.Hour,
		CompressionThreshold: threshold,
	}}
}

func codecSnap() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Exchange:   "binance",
		Pair:       "BTC/USDT",
		Kind:       domain.KindTicker,
		Bid:        64100.5,
		Ask:        64101.0,
		Volume:     125000,
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SourceTier: domain.TierPipeline,
	}
}

func TestSnapshotCodecRaw(t *testing.T) {
	sc := codecCache(1 << 20)

	payload, err := sc.encode(codecSnap())
	require.NoError(t, err)
	assert.Equal(t, schemeRaw, payload[0])

	got, err := sc.decode(payload)
	require.NoError(t, err)
	assert.Equal(t, codecSnap(), got)
}

func TestSnapshotCodecGzipOverThreshold(t *testing.T) {
	sc := codecCache(64)
	snap := codecSnap()
	snap.Pair = strings.Repeat("X", 128) // force the payload past the threshold

	payload, err := sc.encode(snap)
	require.NoError(t, err)
	assert.Equal(t, schemeGzip, payload[0])

	got, err := sc.decode(payload)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestSnapshotCodecCompressionDisabled(t *testing.T) {
	sc := codecCache(0)
	snap := codecSnap()
	snap.Pair = strings.Repeat("X", 4096)

	payload, err := sc.encode(snap)
	require.NoError(t, err)
	assert.Equal(t, schemeRaw, payload[0])
}

func TestSnapshotDecodeRejectsBadPayloads(t *testing.T) {
	sc := codecCache(0)

	_, err := sc.decode(nil)
	require.Error(t, err)

	_, err = sc.decode([]byte{0x7f, '{', '}'})
	require.ErrorContains(t, err, "unknown scheme")

	_, err = sc.decode([]byte{schemeGzip, 0x00, 0x01})
	require.Error(t, err)
}

func TestSnapshotKeySchema(t *testing.T) {
	assert.Equal(t, "snap:ticker:binance:BTC/USDT",
		snapKey("binance", "BTC/USDT", domain.KindTicker))
	assert.Equal(t, "snap:funding:okx:ETH/USDT",
		snapKey("okx", "ETH/USDT", domain.KindFundingRate))
}

func TestSnapshotTTLPerKind(t *testing.T) {
	sc := codecCache(0)
	assert.Equal(t, 30*time.Second, sc.ttl(domain.KindTicker))
	assert.Equal(t, 5*time.Minute, sc.ttl(domain.KindFundingRate))
	assert.Equal(t, time.Hour, sc.ttl(domain.KindAnalytics))
}
