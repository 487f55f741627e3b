package distribute

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/arbradar/arbradar/internal/domain"
	"github.com/arbradar/arbradar/internal/retrier"
)

// distributeLockPrefix scopes the per-opportunity distribution lock.
const distributeLockPrefix = "distribute:"

// Config holds distribution run parameters.
type Config struct {
	BatchSize       int
	RatePerSecond   float64
	DeliveryTimeout time.Duration
	MaxRetries      int
	LockTTL         time.Duration
}

// Distributor walks the strategy-ordered subscriber list for each detected
// opportunity and delivers it to every user the fairness gate admits,
// throttled by a global rate limiter.
type Distributor struct {
	cfg       Config
	strategy  Strategy
	fairness  *Fairness
	directory domain.UserDirectory
	opps      domain.OpportunityStore
	activity  domain.ActivityStore
	channel   domain.DeliveryChannel
	bus       domain.SignalBus
	locks     domain.LockManager
	audit     domain.AuditStore
	limiter   *rate.Limiter
	retry     *retrier.Retrier
	logger    *slog.Logger
}

// NewDistributor wires a Distributor.
func NewDistributor(
	cfg Config,
	strategy Strategy,
	fairness *Fairness,
	directory domain.UserDirectory,
	opps domain.OpportunityStore,
	activity domain.ActivityStore,
	channel domain.DeliveryChannel,
	bus domain.SignalBus,
	locks domain.LockManager,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Distributor {
	burst := int(cfg.RatePerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Distributor{
		cfg:       cfg,
		strategy:  strategy,
		fairness:  fairness,
		directory: directory,
		opps:      opps,
		activity:  activity,
		channel:   channel,
		bus:       bus,
		locks:     locks,
		audit:     audit,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
		retry: retrier.New(
			retrier.WithMaxRetries(cfg.MaxRetries),
			retrier.WithInitialInterval(500*time.Millisecond),
			retrier.WithMaxInterval(5*time.Second),
		),
		logger: logger.With(slog.String("component", "distributor")),
	}
}

// Run consumes detected opportunities off the signal bus and distributes
// each one, until ctx ends.
func (d *Distributor) Run(ctx context.Context, channel string) error {
	msgs, err := d.bus.Subscribe(ctx, channel)
	if err != nil {
		return err
	}

	d.logger.Info("distributor listening", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			var opp domain.Opportunity
			if err := json.Unmarshal(payload, &opp); err != nil {
				d.logger.Warn("malformed opportunity payload", slog.String("error", err.Error()))
				continue
			}
			if err := d.Distribute(ctx, opp); err != nil && !errors.Is(err, domain.ErrLockHeld) {
				d.logger.Error("distribution failed",
					slog.String("id", opp.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Distribute delivers one opportunity. The run is serialized per opportunity
// via a distributed lock; a second instance gets domain.ErrLockHeld and
// moves on. An opportunity that expires or fills its participant cap mid-run
// stops there and is marked partially distributed.
func (d *Distributor) Distribute(ctx context.Context, opp domain.Opportunity) error {
	if opp.Expired(time.Now()) {
		return nil
	}

	if d.locks != nil {
		unlock, err := d.locks.Acquire(ctx, distributeLockPrefix+opp.ID, d.lockTTL())
		if err != nil {
			return err
		}
		defer unlock()
	}

	// Re-read: the queue copy may be behind the store after a re-detection.
	if stored, err := d.opps.GetByID(ctx, opp.ID); err == nil {
		opp = stored
	}
	if opp.Status == domain.StatusDistributed || opp.Status == domain.StatusExpired {
		return nil
	}

	if err := d.opps.UpdateStatus(ctx, opp.ID, domain.StatusDistributing); err != nil {
		return err
	}

	users, err := d.directory.ListSubscribers(ctx)
	if err != nil {
		return err
	}
	ordered, err := d.strategy.Order(ctx, opp, users)
	if err != nil {
		return err
	}

	delivered := opp.Participants
	halted := false

	for start := 0; start < len(ordered) && !halted; start += d.batchSize() {
		end := start + d.batchSize()
		if end > len(ordered) {
			end = len(ordered)
		}

		for _, user := range ordered[start:end] {
			now := time.Now()

			if opp.Expired(now) {
				d.logger.Info("opportunity expired mid-distribution",
					slog.String("id", opp.ID),
					slog.Int("delivered", delivered),
				)
				halted = true
				break
			}
			if opp.MaxParticipants > 0 && delivered >= opp.MaxParticipants {
				halted = true
				break
			}

			if err := d.fairness.Check(ctx, user, opp, now); err != nil {
				d.logger.Debug("user skipped",
					slog.String("user", user.ID),
					slog.String("id", opp.ID),
					slog.String("reason", err.Error()),
				)
				continue
			}

			if err := d.limiter.Wait(ctx); err != nil {
				return err
			}

			if err := d.deliver(ctx, user, opp); err != nil {
				d.onDeliveryFailure(ctx, user, opp, err)
				continue
			}

			created, err := d.fairness.Commit(ctx, user, opp, time.Now())
			if err != nil {
				d.logger.Error("delivery commit failed",
					slog.String("user", user.ID),
					slog.String("id", opp.ID),
					slog.String("error", err.Error()),
				)
			}
			if !created {
				continue
			}

			delivered++
			if d.activity != nil {
				if err := d.activity.RecordDelivery(ctx, user.ID, time.Now()); err != nil {
					d.logger.Warn("activity record failed",
						slog.String("user", user.ID),
						slog.String("error", err.Error()),
					)
				}
			}
			if err := d.opps.IncrementParticipants(ctx, opp.ID, 1); err != nil {
				d.logger.Warn("participant count failed",
					slog.String("id", opp.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	final := domain.StatusDistributed
	if halted {
		final = domain.StatusPartiallyDistributed
	}
	if err := d.opps.UpdateStatus(ctx, opp.ID, final); err != nil {
		return err
	}

	d.logger.Info("distribution complete",
		slog.String("id", opp.ID),
		slog.String("strategy", d.strategy.Name()),
		slog.Int("delivered", delivered-opp.Participants),
		slog.String("status", string(final)),
	)
	return nil
}

// deliver runs one delivery attempt chain: per-attempt timeout, retries with
// backoff.
func (d *Distributor) deliver(ctx context.Context, user domain.UserProfile, opp domain.Opportunity) error {
	return d.retry.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
		defer cancel()
		return d.channel.Deliver(attemptCtx, user, opp)
	})
}

func (d *Distributor) onDeliveryFailure(ctx context.Context, user domain.UserProfile, opp domain.Opportunity, cause error) {
	d.logger.Warn("delivery failed",
		slog.String("user", user.ID),
		slog.String("id", opp.ID),
		slog.String("error", cause.Error()),
	)
	if d.audit == nil {
		return
	}
	if err := d.audit.Log(ctx, "delivery_failed", map[string]any{
		"user_id":        user.ID,
		"opportunity_id": opp.ID,
		"cause":          cause.Error(),
	}); err != nil {
		d.logger.Error("audit write", slog.String("error", err.Error()))
	}
}

func (d *Distributor) batchSize() int {
	if d.cfg.BatchSize > 0 {
		return d.cfg.BatchSize
	}
	return 50
}

func (d *Distributor) lockTTL() time.Duration {
	if d.cfg.LockTTL > 0 {
		return d.cfg.LockTTL
	}
	return 2 * time.Minute
}
