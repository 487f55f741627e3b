package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/arbradar/arbradar/internal/domain"
)

// opportunityDetectedEvent is the event type emitted for each opportunity
// observed on the signal bus.
const opportunityDetectedEvent = "opportunity_detected"

// AlertsRunner forwards detected opportunities from the signal bus to the
// operator notification channels. It is a monitoring surface for operations,
// independent of user-facing delivery.
type AlertsRunner struct {
	bus      domain.SignalBus
	notifier *Notifier
	channel  string
	logger   *slog.Logger
}

// NewAlertsRunner creates a runner that subscribes to the given bus channel
// and dispatches each message through the notifier.
func NewAlertsRunner(bus domain.SignalBus, notifier *Notifier, channel string, logger *slog.Logger) *AlertsRunner {
	return &AlertsRunner{
		bus:      bus,
		notifier: notifier,
		channel:  channel,
		logger:   logger.With(slog.String("component", "alerts")),
	}
}

// Run subscribes and forwards messages until the context is cancelled.
func (r *AlertsRunner) Run(ctx context.Context) error {
	ch, err := r.bus.Subscribe(ctx, r.channel)
	if err != nil {
		return fmt.Errorf("alerts: subscribe %s: %w", r.channel, err)
	}

	r.logger.InfoContext(ctx, "operator alerts running", slog.String("channel", r.channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var opp domain.Opportunity
			if err := json.Unmarshal(payload, &opp); err != nil {
				r.logger.WarnContext(ctx, "alerts: bad payload", slog.String("error", err.Error()))
				continue
			}
			title := fmt.Sprintf("Opportunity %s (%s)", opp.ID, opp.Pair)
			if err := r.notifier.Notify(ctx, opportunityDetectedEvent, title, FormatMessage(opp)); err != nil {
				r.logger.WarnContext(ctx, "alerts: notify failed",
					slog.String("id", opp.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
