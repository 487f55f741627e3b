package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbradar/arbradar/internal/domain"
)

type stubChannel struct {
	name  string
	err   error
	calls int
}

func (c *stubChannel) Deliver(context.Context, domain.UserProfile, domain.Opportunity) error {
	c.calls++
	return c.err
}

func (c *stubChannel) Name() string { return c.name }

func alertOpp() domain.Opportunity {
	return domain.Opportunity{
		ID:             "a1b2",
		Strategy:       "funding_rate",
		Pair:           "BTC/USDT",
		LongExchange:   "binance",
		ShortExchange:  "okx",
		LongRate:       0.0001,
		ShortRate:      0.0045,
		RateDifference: 0.0044,
		Confidence:     0.82,
		ExpiresAt:      time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC),
	}
}

func TestFanoutFirstChannelWins(t *testing.T) {
	first := &stubChannel{name: "telegram"}
	second := &stubChannel{name: "webhook"}
	f := NewFanout(first, second)

	err := f.Deliver(context.Background(), domain.UserProfile{ID: "u1"}, alertOpp())
	require.NoError(t, err)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls)
}

func TestFanoutSkipsChannelsWithoutTarget(t *testing.T) {
	first := &stubChannel{name: "telegram", err: fmt.Errorf("telegram: %w", ErrNoTarget)}
	second := &stubChannel{name: "webhook"}
	f := NewFanout(first, second)

	err := f.Deliver(context.Background(), domain.UserProfile{ID: "u1"}, alertOpp())
	require.NoError(t, err)
	assert.Equal(t, 1, second.calls)
}

func TestFanoutUnreachableUser(t *testing.T) {
	f := NewFanout(
		&stubChannel{name: "telegram", err: fmt.Errorf("telegram: %w", ErrNoTarget)},
		&stubChannel{name: "webhook", err: fmt.Errorf("webhook: %w", ErrNoTarget)},
	)

	err := f.Deliver(context.Background(), domain.UserProfile{ID: "u1"}, alertOpp())
	require.ErrorIs(t, err, domain.ErrDeliveryFailed)
	assert.ErrorContains(t, err, "unreachable")
}

func TestFanoutCollectsRealFailures(t *testing.T) {
	boom := errors.New("timeout")
	f := NewFanout(
		&stubChannel{name: "telegram", err: fmt.Errorf("telegram: %w", boom)},
		&stubChannel{name: "webhook", err: fmt.Errorf("webhook: %w", ErrNoTarget)},
	)

	err := f.Deliver(context.Background(), domain.UserProfile{ID: "u1"}, alertOpp())
	require.ErrorIs(t, err, domain.ErrDeliveryFailed)
	require.ErrorIs(t, err, boom)
}

func TestFormatMessage(t *testing.T) {
	msg := FormatMessage(alertOpp())
	assert.Contains(t, msg, "funding_rate arbitrage: BTC/USDT")
	assert.Contains(t, msg, "Long binance @ 0.000100")
	assert.Contains(t, msg, "Short okx @ 0.004500")
	assert.Contains(t, msg, "Difference: 0.4400%")
	assert.Contains(t, msg, "Confidence: 82%")
	assert.Contains(t, msg, "12:15:00 UTC")
}
