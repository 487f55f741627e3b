package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/arbradar/arbradar/internal/blob/s3"
	"github.com/arbradar/arbradar/internal/cache/redis"
	"github.com/arbradar/arbradar/internal/config"
	"github.com/arbradar/arbradar/internal/domain"
	"github.com/arbradar/arbradar/internal/exchange"
	"github.com/arbradar/arbradar/internal/notify"
	"github.com/arbradar/arbradar/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	SnapshotStore     domain.SnapshotStore
	OpportunityStore  domain.OpportunityStore
	DistributionStore domain.DistributionStore
	ActivityStore     domain.ActivityStore
	AuditStore        domain.AuditStore
	UserDirectory     domain.UserDirectory

	// Caches
	SnapshotCache domain.SnapshotCache
	FairnessCache domain.FairnessCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Exchange adapters
	Registry *exchange.Registry

	// Delivery
	DeliveryChannel domain.DeliveryChannel
}

// needsS3 returns true for modes that require object storage.
func needsS3(mode string) bool {
	switch mode {
	case "archive", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.SnapshotStore = postgres.NewSnapshotStore(pool)
	deps.OpportunityStore = postgres.NewOpportunityStore(pool)
	deps.DistributionStore = postgres.NewDistributionStore(pool)
	deps.ActivityStore = postgres.NewActivityStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.UserDirectory = postgres.NewUserDirectory(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.SnapshotCache = redis.NewSnapshotCache(redisClient, redis.SnapshotCacheConfig{
		TickerTTL:            time.Duration(cfg.Cache.TickerTTLSeconds) * time.Second,
		FundingTTL:           time.Duration(cfg.Cache.FundingTTLSeconds) * time.Second,
		AnalyticsTTL:         time.Duration(cfg.Cache.AnalyticsTTLSeconds) * time.Second,
		CompressionThreshold: cfg.Cache.CompressionThresholdBytes,
	})
	deps.FairnessCache = redis.NewFairnessCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only for modes that archive) ---
	if needsS3(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.BlobReader,
			deps.OpportunityStore,
			deps.DistributionStore,
			deps.AuditStore,
			deps.SnapshotStore,
			deps.AuditStore,
		)
	}

	// --- Exchange adapters ---
	deps.Registry = buildRegistry(cfg)

	// --- Delivery channels ---
	var channels []domain.DeliveryChannel
	if cfg.Delivery.TelegramToken != "" {
		channels = append(channels, notify.NewTelegramChannel(cfg.Delivery.TelegramToken))
	}
	channels = append(channels, notify.NewWebhookChannel(cfg.Delivery.WebhookURL))
	deps.DeliveryChannel = notify.NewFanout(channels...)

	logger.Debug("dependencies wired", slog.String("mode", cfg.Mode))
	return deps, cleanup, nil
}

// buildRegistry creates adapters for the monitored exchanges, applying any
// per-exchange endpoint overrides.
func buildRegistry(cfg *config.Config) *exchange.Registry {
	restURL := func(name string) string {
		if ex, ok := cfg.Exchanges[name]; ok {
			return ex.RestURL
		}
		return ""
	}

	var adapters []exchange.Adapter
	for _, name := range cfg.Detection.MonitoredExchanges {
		switch name {
		case "binance":
			adapters = append(adapters, exchange.NewBinance(restURL(name), ""))
		case "okx":
			adapters = append(adapters, exchange.NewOKX(restURL(name)))
		case "bybit":
			adapters = append(adapters, exchange.NewBybit(restURL(name)))
		case "coinbase":
			adapters = append(adapters, exchange.NewCoinbase(restURL(name)))
		case "bitget":
			adapters = append(adapters, exchange.NewBitget(restURL(name)))
		}
	}
	return exchange.NewRegistry(adapters...)
}
