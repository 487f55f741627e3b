package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/arbradar/arbradar/internal/domain"
)

// ErrNoTarget marks a user who has no delivery target for a channel, e.g. no
// chat ID for Telegram. The fanout treats it as "try the next channel", not
// as a failed delivery.
var ErrNoTarget = errors.New("notify: no delivery target")

// Fanout tries each inner channel in order and succeeds on the first
// delivery. Channels that have no target for the user are skipped; a user
// reachable through no channel at all is a delivery failure.
type Fanout struct {
	channels []domain.DeliveryChannel
}

// NewFanout creates a Fanout over the given channels, tried in order.
func NewFanout(channels ...domain.DeliveryChannel) *Fanout {
	return &Fanout{channels: channels}
}

// Deliver attempts the channels in order.
func (f *Fanout) Deliver(ctx context.Context, user domain.UserProfile, opp domain.Opportunity) error {
	var errs []error
	for _, ch := range f.channels {
		err := ch.Deliver(ctx, user, opp)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNoTarget) {
			continue
		}
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return fmt.Errorf("notify: user %s unreachable on all channels: %w", user.ID, domain.ErrDeliveryFailed)
	}
	return fmt.Errorf("notify: user %s: %w: %w", user.ID, domain.ErrDeliveryFailed, errors.Join(errs...))
}

// Name returns the channel identifier.
func (f *Fanout) Name() string {
	return "fanout"
}

// FormatMessage renders an opportunity as a human-readable alert.
func FormatMessage(opp domain.Opportunity) string {
	return fmt.Sprintf(
		"*%s arbitrage: %s*\nLong %s @ %.6f / Short %s @ %.6f\nDifference: %.4f%%\nConfidence: %.0f%%\nExpires: %s",
		opp.Strategy, opp.Pair,
		opp.LongExchange, opp.LongRate,
		opp.ShortExchange, opp.ShortRate,
		opp.RateDifference*100, opp.Confidence*100,
		opp.ExpiresAt.UTC().Format("15:04:05 MST"),
	)
}
