package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
	"github.com/arbradar/arbradar/internal/exchange"
	"github.com/arbradar/arbradar/internal/feed"
)

// Request identifies one snapshot to fetch.
type Request struct {
	Exchange string
	Pair     string
	Kind     domain.SnapshotKind
}

func (r Request) String() string {
	return r.Exchange + "/" + r.Pair + "/" + string(r.Kind)
}

// Source is one tier of the data access chain.
type Source interface {
	Tier() domain.SourceTier
	Fetch(ctx context.Context, req Request) (domain.MarketSnapshot, error)
}

// PipelineSource serves snapshots from the in-process stream buffer. Entries
// older than the freshness window are misses; the buffer holds whatever the
// feeds last wrote.
type PipelineSource struct {
	buf       *feed.Buffer
	freshness time.Duration
}

// NewPipelineSource creates a pipeline tier over the given buffer. Entries
// older than freshness are treated as misses.
func NewPipelineSource(buf *feed.Buffer, freshness time.Duration) *PipelineSource {
	return &PipelineSource{buf: buf, freshness: freshness}
}

func (s *PipelineSource) Tier() domain.SourceTier { return domain.TierPipeline }

func (s *PipelineSource) Fetch(ctx context.Context, req Request) (domain.MarketSnapshot, error) {
	snap, ok := s.buf.Get(req.Exchange, req.Pair, req.Kind)
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("datasource: pipeline %s: %w", req, domain.ErrNotFound)
	}
	if !snap.Fresh(time.Now(), s.freshness) {
		return domain.MarketSnapshot{}, fmt.Errorf("datasource: pipeline %s: %w", req, domain.ErrStaleData)
	}
	snap.SourceTier = domain.TierPipeline
	return snap, nil
}

// CacheSource serves snapshots from the Redis cache tier. A stale hit is
// passed through with ErrStaleData so the manager can hold it as a
// last-resort candidate.
type CacheSource struct {
	cache domain.SnapshotCache
}

// NewCacheSource creates a cache tier over the given snapshot cache.
func NewCacheSource(cache domain.SnapshotCache) *CacheSource {
	return &CacheSource{cache: cache}
}

func (s *CacheSource) Tier() domain.SourceTier { return domain.TierCache }

func (s *CacheSource) Fetch(ctx context.Context, req Request) (domain.MarketSnapshot, error) {
	snap, err := s.cache.Get(ctx, req.Exchange, req.Pair, req.Kind)
	if err != nil {
		return snap, fmt.Errorf("datasource: cache %s: %w", req, err)
	}
	snap.SourceTier = domain.TierCache
	return snap, nil
}

// DatabaseSource serves the latest persisted snapshot. Rows older than
// maxAge are stale; they are still returned alongside ErrStaleData.
type DatabaseSource struct {
	store  domain.SnapshotStore
	maxAge time.Duration
}

// NewDatabaseSource creates a database tier over the given snapshot store.
func NewDatabaseSource(store domain.SnapshotStore, maxAge time.Duration) *DatabaseSource {
	return &DatabaseSource{store: store, maxAge: maxAge}
}

func (s *DatabaseSource) Tier() domain.SourceTier { return domain.TierDatabase }

func (s *DatabaseSource) Fetch(ctx context.Context, req Request) (domain.MarketSnapshot, error) {
	snap, err := s.store.QueryLatest(ctx, req.Exchange, req.Pair, req.Kind)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("datasource: database %s: %w", req, err)
	}
	snap.SourceTier = domain.TierDatabase
	if s.maxAge > 0 && !snap.Fresh(time.Now(), s.maxAge) {
		snap.Stale = true
		return snap, fmt.Errorf("datasource: database %s: %w", req, domain.ErrStaleData)
	}
	return snap, nil
}

// LiveSource fetches directly from exchange REST APIs. It is the last tier:
// the slowest, the most rate-sensitive, and the only one that reaches
// outside the system. Calls pass through a shared distributed rate limiter
// so fallback storms across instances cannot exhaust exchange quotas.
type LiveSource struct {
	registry *exchange.Registry
	limiter  domain.RateLimiter
	limit    int
	window   time.Duration
}

// NewLiveSource creates a live API tier over the exchange registry. The
// limiter is optional; a nil limiter disables throttling.
func NewLiveSource(registry *exchange.Registry, limiter domain.RateLimiter, limit int, window time.Duration) *LiveSource {
	return &LiveSource{registry: registry, limiter: limiter, limit: limit, window: window}
}

func (s *LiveSource) Tier() domain.SourceTier { return domain.TierLiveAPI }

func (s *LiveSource) Fetch(ctx context.Context, req Request) (domain.MarketSnapshot, error) {
	adapter, err := s.registry.Get(req.Exchange)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("datasource: live %s: %w", req, err)
	}

	if s.limiter != nil && s.limit > 0 {
		allowed, err := s.limiter.Allow(ctx, "live:"+req.Exchange, s.limit, s.window)
		if err != nil {
			return domain.MarketSnapshot{}, fmt.Errorf("datasource: live %s: %w", req, err)
		}
		if !allowed {
			return domain.MarketSnapshot{}, fmt.Errorf("datasource: live %s: %w", req, domain.ErrSourceUnavailable)
		}
	}

	var snap domain.MarketSnapshot
	switch req.Kind {
	case domain.KindFundingRate:
		snap, err = adapter.FetchFundingRate(ctx, req.Pair)
	default:
		snap, err = adapter.FetchTicker(ctx, req.Pair)
	}
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("datasource: live %s: %w", req, err)
	}

	snap.SourceTier = domain.TierLiveAPI
	return snap, nil
}
