package redis

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arbradar/arbradar/internal/domain"
)

// Payload scheme prefixes. The first byte of every stored value identifies
// the encoding of the rest.
const (
	schemeRaw  byte = 0x00
	schemeGzip byte = 0x01
)

// staleRetention is how many TTL multiples a snapshot is kept past its
// freshness window. Reads within the retention period return the value
// labeled stale alongside domain.ErrStaleData; after retention the key
// expires and reads return domain.ErrNotFound.
const staleRetention = 4

// SnapshotCacheConfig holds per-kind freshness TTLs and the compression
// threshold.
type SnapshotCacheConfig struct {
	TickerTTL            time.Duration
	FundingTTL           time.Duration
	AnalyticsTTL         time.Duration
	CompressionThreshold int
}

// SnapshotCache implements domain.SnapshotCache using Redis string values.
// Snapshots are JSON-serialized and gzip-compressed when the payload exceeds
// the configured threshold.
//
// Key schema:
//
//	snap:{kind}:{exchange}:{pair} - scheme byte + (raw | gzip) JSON
type SnapshotCache struct {
	rdb *redis.Client
	cfg SnapshotCacheConfig
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client, cfg SnapshotCacheConfig) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying(), cfg: cfg}
}

func snapKey(exchange, pair string, kind domain.SnapshotKind) string {
	return "snap:" + string(kind) + ":" + exchange + ":" + pair
}

func (sc *SnapshotCache) ttl(kind domain.SnapshotKind) time.Duration {
	switch kind {
	case domain.KindFundingRate:
		return sc.cfg.FundingTTL
	case domain.KindAnalytics:
		return sc.cfg.AnalyticsTTL
	default:
		return sc.cfg.TickerTTL
	}
}

// Set stores a snapshot under its kind-specific TTL. The key is retained
// past the freshness window so stale reads can still be served.
func (sc *SnapshotCache) Set(ctx context.Context, snap domain.MarketSnapshot) error {
	payload, err := sc.encode(snap)
	if err != nil {
		return err
	}

	key := snapKey(snap.Exchange, snap.Pair, snap.Kind)
	expiry := sc.ttl(snap.Kind) * staleRetention
	if err := sc.rdb.Set(ctx, key, payload, expiry).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", key, err)
	}
	return nil
}

// Get retrieves a snapshot. It returns domain.ErrNotFound when no entry
// exists, and domain.ErrStaleData together with the stale-labeled snapshot
// when the entry is past its freshness TTL but still retained.
func (sc *SnapshotCache) Get(ctx context.Context, exchange, pair string, kind domain.SnapshotKind) (domain.MarketSnapshot, error) {
	key := snapKey(exchange, pair, kind)
	payload, err := sc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", key, err)
	}

	snap, err := sc.decode(payload)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: decode snapshot %s: %w", key, err)
	}

	if snap.Age(time.Now()) > sc.ttl(kind) {
		snap.Stale = true
		return snap, domain.ErrStaleData
	}
	return snap, nil
}

// Invalidate removes a snapshot from the cache.
func (sc *SnapshotCache) Invalidate(ctx context.Context, exchange, pair string, kind domain.SnapshotKind) error {
	key := snapKey(exchange, pair, kind)
	if err := sc.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshot %s: %w", key, err)
	}
	return nil
}

func (sc *SnapshotCache) encode(snap domain.MarketSnapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("redis: marshal snapshot %s/%s: %w", snap.Exchange, snap.Pair, err)
	}

	if sc.cfg.CompressionThreshold <= 0 || len(data) <= sc.cfg.CompressionThreshold {
		return append([]byte{schemeRaw}, data...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(schemeGzip)
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("redis: gzip snapshot %s/%s: %w", snap.Exchange, snap.Pair, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("redis: gzip snapshot %s/%s: %w", snap.Exchange, snap.Pair, err)
	}
	return buf.Bytes(), nil
}

func (sc *SnapshotCache) decode(payload []byte) (domain.MarketSnapshot, error) {
	if len(payload) == 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("empty payload")
	}

	data := payload[1:]
	switch payload[0] {
	case schemeRaw:
	case schemeGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return domain.MarketSnapshot{}, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return domain.MarketSnapshot{}, fmt.Errorf("gzip read: %w", err)
		}
	default:
		return domain.MarketSnapshot{}, fmt.Errorf("unknown scheme 0x%02x", payload[0])
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("unmarshal: %w", err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
