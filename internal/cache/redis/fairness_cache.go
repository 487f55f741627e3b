package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arbradar/arbradar/internal/domain"
)

// fairnessTTL bounds how long an idle user's window survives. A window older
// than this is past every quota boundary anyway.
const fairnessTTL = 48 * time.Hour

// FairnessCache implements domain.FairnessCache using Redis.
//
// Key schema:
//
//	fair:window:{userID} - JSON FairnessWindow
//	fair:rotation        - hash with fields "offset" and "rotated_at"
type FairnessCache struct {
	rdb *redis.Client
}

// NewFairnessCache creates a FairnessCache backed by the given Client.
func NewFairnessCache(c *Client) *FairnessCache {
	return &FairnessCache{rdb: c.Underlying()}
}

func windowKey(userID string) string { return "fair:window:" + userID }

const rotationKey = "fair:rotation"

// Window returns the stored window for a user. A user with no stored window
// gets a zero window carrying their ID, so first deliveries need no
// special-casing upstream.
func (fc *FairnessCache) Window(ctx context.Context, userID string) (domain.FairnessWindow, error) {
	data, err := fc.rdb.Get(ctx, windowKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.FairnessWindow{UserID: userID}, nil
		}
		return domain.FairnessWindow{}, fmt.Errorf("redis: get window %s: %w", userID, err)
	}

	var w domain.FairnessWindow
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.FairnessWindow{}, fmt.Errorf("redis: unmarshal window %s: %w", userID, err)
	}
	return w, nil
}

// SetWindow stores a user's window.
func (fc *FairnessCache) SetWindow(ctx context.Context, w domain.FairnessWindow) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("redis: marshal window %s: %w", w.UserID, err)
	}
	if err := fc.rdb.Set(ctx, windowKey(w.UserID), data, fairnessTTL).Err(); err != nil {
		return fmt.Errorf("redis: set window %s: %w", w.UserID, err)
	}
	return nil
}

// RotationOffset returns the round-robin rotation offset and when it last
// advanced. A missing key yields offset 0 and a zero time.
func (fc *FairnessCache) RotationOffset(ctx context.Context) (int, time.Time, error) {
	vals, err := fc.rdb.HGetAll(ctx, rotationKey).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get rotation: %w", err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, nil
	}

	offset, err := strconv.Atoi(vals["offset"])
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse rotation offset: %w", err)
	}
	nanos, err := strconv.ParseInt(vals["rotated_at"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse rotation time: %w", err)
	}
	return offset, time.Unix(0, nanos).UTC(), nil
}

// SetRotationOffset stores the rotation offset and its advance time.
func (fc *FairnessCache) SetRotationOffset(ctx context.Context, offset int, rotatedAt time.Time) error {
	fields := map[string]interface{}{
		"offset":     strconv.Itoa(offset),
		"rotated_at": strconv.FormatInt(rotatedAt.UnixNano(), 10),
	}
	if err := fc.rdb.HSet(ctx, rotationKey, fields).Err(); err != nil {
		return fmt.Errorf("redis: set rotation: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.FairnessCache = (*FairnessCache)(nil)
