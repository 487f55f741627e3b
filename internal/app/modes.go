package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arbradar/arbradar/internal/archive"
	"github.com/arbradar/arbradar/internal/datasource"
	"github.com/arbradar/arbradar/internal/detect"
	"github.com/arbradar/arbradar/internal/distribute"
	"github.com/arbradar/arbradar/internal/domain"
	"github.com/arbradar/arbradar/internal/feed"
	"github.com/arbradar/arbradar/internal/notify"
)

const (
	// pipelineFreshness bounds how old a buffered tick may be and still be
	// served by the Pipeline tier.
	pipelineFreshness = 30 * time.Second

	// liveAPILimit / liveAPIWindow throttle live exchange REST calls across
	// all instances sharing the Redis rate limiter.
	liveAPILimit  = 30
	liveAPIWindow = time.Minute

	// Per-tier fetch timeouts. Each tier gets progressively more slack: the
	// buffer and cache should answer instantly, the database and live REST
	// APIs may not.
	pipelineTimeout = 5 * time.Second
	cacheTimeout    = 1 * time.Second
	databaseTimeout = 10 * time.Second
	liveAPITimeout  = 30 * time.Second

	// statsInterval paces the operator-facing distribution summary log.
	statsInterval = 15 * time.Minute
)

// DetectMode starts the market data ingestion feeds and the periodic
// opportunity detection cycle.
func (a *App) DetectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting detect mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startDetection(ctx, g, deps)
	return g.Wait()
}

// DistributeMode starts the distribution worker, consuming detected
// opportunities off the signal bus and delivering them to subscribers.
func (a *App) DistributeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting distribute mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startDistribution(ctx, g, deps); err != nil {
		return fmt.Errorf("distribute mode: %w", err)
	}
	return g.Wait()
}

// ArchiveMode runs the cold-storage archiver on its cron schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	arch := a.newArchiver(deps)
	return arch.RunCron(ctx, a.cfg.Archive.Cron)
}

// FullMode starts every subsystem: ingestion, detection, distribution, and
// (when enabled) the scheduled archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startDetection(ctx, g, deps)

	if err := a.startDistribution(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	if a.cfg.Archive.Enabled {
		arch := a.newArchiver(deps)
		cron := a.cfg.Archive.Cron
		g.Go(func() error {
			return arch.RunCron(ctx, cron)
		})
	}

	return g.Wait()
}

// startDetection wires the ingestion feeds, the tiered data access chain,
// and the detector, and adds their goroutines to the errgroup.
func (a *App) startDetection(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	det := a.cfg.Detection

	buffer := feed.NewBuffer()
	validator := datasource.NewValidator(datasource.ValidatorConfig{
		SigmaThreshold:    det.Validation.SigmaThreshold,
		MaxAge:            time.Duration(det.Validation.MaxAgeSeconds) * time.Second,
		MaxFutureSkew:     time.Duration(det.Validation.MaxFutureSkewSeconds) * time.Second,
		DivergenceCeiling: det.Validation.DivergenceCeiling,
	}, deps.AuditStore, a.logger)

	ingestor := datasource.NewIngestor(validator, buffer, deps.SnapshotCache, deps.SnapshotStore, a.logger)
	g.Go(func() error {
		return ingestor.Run(ctx)
	})

	// Streaming feeds keep the Pipeline tier hot. Exchanges without a
	// streaming feed are still reachable through the Cache, Database, and
	// LiveAPI tiers.
	for _, name := range det.MonitoredExchanges {
		if name != "binance" {
			continue
		}
		wsFeed := feed.NewBinanceWS(
			a.cfg.Exchanges[name].WsURL,
			det.MonitoredPairs,
			ingestor.Ingest,
			a.logger,
		)
		g.Go(func() error {
			defer wsFeed.Close()
			return wsFeed.Run(ctx)
		})
	}

	dbMaxAge := time.Duration(a.cfg.Cache.TickerTTLSeconds) * time.Second
	sources := []datasource.Source{
		datasource.NewPipelineSource(buffer, pipelineFreshness),
		datasource.NewCacheSource(deps.SnapshotCache),
		datasource.NewDatabaseSource(deps.SnapshotStore, dbMaxAge),
		datasource.NewLiveSource(deps.Registry, deps.RateLimiter, liveAPILimit, liveAPIWindow),
	}
	manager := datasource.NewManager(datasource.ManagerConfig{
		Breaker: datasource.BreakerConfig{
			FailureThreshold: det.CircuitBreaker.FailureThreshold,
			OpenTimeout:      time.Duration(det.CircuitBreaker.OpenTimeoutSeconds) * time.Second,
			HalfOpenMaxCalls: det.CircuitBreaker.HalfOpenMaxCalls,
		},
		TierTimeouts: map[domain.SourceTier]time.Duration{
			domain.TierPipeline: pipelineTimeout,
			domain.TierCache:    cacheTimeout,
			domain.TierDatabase: databaseTimeout,
			domain.TierLiveAPI:  liveAPITimeout,
		},
		StalenessCeiling: time.Duration(det.Staleness.CeilingSeconds) * time.Second,
	}, sources, deps.AuditStore, a.logger)

	interval := time.Duration(det.IntervalSeconds) * time.Second
	detector := detect.NewDetector(detect.Config{
		Interval:        interval,
		MinThreshold:    det.MinThreshold,
		MaxThreshold:    det.MaxThreshold,
		OpportunityTTL:  time.Duration(det.OpportunityTTLMinutes) * time.Minute,
		MaxPerPair:      det.MaxOpportunitiesPerPair,
		MaxParticipants: det.MaxParticipants,
		Exchanges:       det.MonitoredExchanges,
		Pairs:           det.MonitoredPairs,
		LockTTL:         2 * interval,
	},
		manager,
		validator,
		detect.NewScorer(det.MinThreshold),
		detect.NewQueue(det.MaxQueueSize),
		deps.OpportunityStore,
		deps.SignalBus,
		deps.LockManager,
		a.logger,
	)
	g.Go(func() error {
		return detector.Run(ctx)
	})

	// Operator alerts mirror detected opportunities to the ops channels.
	if a.cfg.Alerts.DiscordWebhookURL != "" {
		notifier := notify.NewNotifier(
			[]notify.Sender{notify.NewDiscordSender(a.cfg.Alerts.DiscordWebhookURL)},
			a.cfg.Alerts.Events,
			a.logger,
		)
		alerts := notify.NewAlertsRunner(deps.SignalBus, notifier, detect.OpportunityChannel, a.logger)
		g.Go(func() error {
			return alerts.Run(ctx)
		})
	}
}

// startDistribution wires the fairness gate, ordering strategy, and the
// distribution worker, and adds its goroutine to the errgroup.
func (a *App) startDistribution(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	dist := a.cfg.Distribution
	fair := dist.Fairness

	strategy, err := distribute.NewStrategy(
		dist.Strategy,
		time.Duration(fair.RotationIntervalMinutes)*time.Minute,
		fair.ActivityBoostFactor,
		deps.FairnessCache,
		deps.ActivityStore,
		a.logger,
	)
	if err != nil {
		return fmt.Errorf("build strategy: %w", err)
	}

	policy := distribute.FairnessPolicy{
		MaxPerHour:      fair.MaxPerUserPerHour,
		MaxPerDay:       fair.MaxPerUserPerDay,
		Cooldown:        time.Duration(fair.CooldownPeriodMinutes) * time.Minute,
		TierMultipliers: fair.TierMultipliers,
	}
	fairness := distribute.NewFairness(policy, deps.FairnessCache, deps.DistributionStore, deps.UserDirectory)

	deliveryTimeout := time.Duration(dist.DeliveryTimeoutSeconds) * time.Second
	distributor := distribute.NewDistributor(distribute.Config{
		BatchSize:       dist.BatchSize,
		RatePerSecond:   dist.RatePerSecond,
		DeliveryTimeout: deliveryTimeout,
		MaxRetries:      dist.MaxRetries,
		LockTTL:         5 * time.Minute,
	},
		strategy,
		fairness,
		deps.UserDirectory,
		deps.OpportunityStore,
		deps.ActivityStore,
		deps.DeliveryChannel,
		deps.SignalBus,
		deps.LockManager,
		deps.AuditStore,
		a.logger,
	)
	g.Go(func() error {
		return distributor.Run(ctx, detect.OpportunityChannel)
	})

	tracker := distribute.NewTracker(
		policy,
		deps.OpportunityStore,
		deps.DistributionStore,
		deps.FairnessCache,
		deps.ActivityStore,
		deps.UserDirectory,
	)
	stats := distribute.NewStatsRunner(tracker, statsInterval, a.logger)
	g.Go(func() error {
		return stats.Run(ctx)
	})
	return nil
}

// newArchiver builds the scheduled archive-then-prune runner.
func (a *App) newArchiver(deps *Dependencies) *archive.Archiver {
	return archive.NewArchiver(
		deps.Archiver,
		a.cfg.Archive.RetentionDays,
		deps.OpportunityStore,
		deps.DistributionStore,
		deps.AuditStore,
		deps.SnapshotStore,
		a.logger,
	)
}
