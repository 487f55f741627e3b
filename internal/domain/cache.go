package domain

import (
	"context"
	"time"
)

// SnapshotCache is the Cache tier: a TTL-keyed snapshot store with
// category-specific freshness windows. Get returns ErrStaleData together
// with the labeled stale value when the entry exists but is past its TTL, so
// the coordinator can apply the staleness-ceiling policy.
type SnapshotCache interface {
	Set(ctx context.Context, snap MarketSnapshot) error
	Get(ctx context.Context, exchange, pair string, kind SnapshotKind) (MarketSnapshot, error)
	Invalidate(ctx context.Context, exchange, pair string, kind SnapshotKind) error
}

// FairnessCache holds per-user distribution windows and the round-robin
// rotation offset. Windows are reset by boundary checks on access, never by
// timers.
type FairnessCache interface {
	Window(ctx context.Context, userID string) (FairnessWindow, error)
	SetWindow(ctx context.Context, w FairnessWindow) error
	RotationOffset(ctx context.Context) (int, time.Time, error)
	SetRotationOffset(ctx context.Context, offset int, rotatedAt time.Time) error
}

// LockManager provides distributed locking. Acquire returns ErrLockHeld when
// the lock is already taken.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter throttles outbound live-API calls across instances. Allow
// counts the request when it is permitted.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// StreamMessage is a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries detected-opportunity events from the detector to the
// distributor trigger loop.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
