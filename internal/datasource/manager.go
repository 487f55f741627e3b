package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

// ManagerConfig holds per-tier timeouts, breaker thresholds, and the
// staleness ceiling.
type ManagerConfig struct {
	Breaker BreakerConfig

	// TierTimeouts bounds each tier's fetch. A missing entry means no bound
	// beyond the caller's context.
	TierTimeouts map[domain.SourceTier]time.Duration

	// StalenessCeiling is the oldest a stale snapshot may be and still be
	// served when every tier has failed. Zero disables stale serving
	// entirely: the chain fails closed.
	StalenessCeiling time.Duration
}

// Manager walks the source chain in tier priority order. Each source sits
// behind its own circuit breaker; open breakers are skipped without spending
// a timeout on them. When every tier misses, the manager can fall back to
// the freshest stale candidate seen along the way, bounded by the staleness
// ceiling.
type Manager struct {
	cfg      ManagerConfig
	sources  []Source
	breakers map[domain.SourceTier]*Breaker
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewManager creates a Manager over the given sources. Source order is
// normalized to the fixed tier priority regardless of argument order. The
// audit store is optional; breaker trips are logged there when present.
func NewManager(cfg ManagerConfig, sources []Source, audit domain.AuditStore, logger *slog.Logger) *Manager {
	byTier := make(map[domain.SourceTier]Source, len(sources))
	for _, s := range sources {
		byTier[s.Tier()] = s
	}

	ordered := make([]Source, 0, len(sources))
	breakers := make(map[domain.SourceTier]*Breaker, len(sources))
	for _, tier := range domain.Tiers {
		s, ok := byTier[tier]
		if !ok {
			continue
		}
		ordered = append(ordered, s)
		breakers[tier] = NewBreaker(tier, cfg.Breaker)
	}

	return &Manager{
		cfg:      cfg,
		sources:  ordered,
		breakers: breakers,
		audit:    audit,
		logger:   logger.With(slog.String("component", "datasource_manager")),
	}
}

// Fetch resolves one snapshot through the fallback chain. It returns the
// first fresh hit. If every tier fails it serves the freshest stale
// candidate within the staleness ceiling, labeled stale, or
// domain.ErrAllSourcesUnavailable when none qualifies.
func (m *Manager) Fetch(ctx context.Context, req Request) (domain.MarketSnapshot, error) {
	var (
		staleBest    domain.MarketSnapshot
		haveStale    bool
		tierFailures []error
	)

	for _, src := range m.sources {
		tier := src.Tier()
		br := m.breakers[tier]

		if !br.Allow() {
			tierFailures = append(tierFailures, fmt.Errorf("%s: %w", tier, domain.ErrBreakerOpen))
			continue
		}

		snap, err := m.fetchTier(ctx, src, req)
		if err == nil {
			return snap, nil
		}
		tierFailures = append(tierFailures, err)

		// A stale hit is a miss for this tier, but remember the freshest
		// candidate for the ceiling fallback.
		if errors.Is(err, domain.ErrStaleData) && snap.Exchange != "" {
			if !haveStale || snap.Timestamp.After(staleBest.Timestamp) {
				staleBest = snap
				haveStale = true
			}
		}

		if ctx.Err() != nil {
			return domain.MarketSnapshot{}, ctx.Err()
		}
	}

	if haveStale && m.cfg.StalenessCeiling > 0 && staleBest.Age(time.Now()) <= m.cfg.StalenessCeiling {
		staleBest.Stale = true
		m.logger.Warn("serving stale snapshot",
			slog.String("request", req.String()),
			slog.String("tier", string(staleBest.SourceTier)),
			slog.Duration("age", staleBest.Age(time.Now())),
		)
		return staleBest, nil
	}

	return domain.MarketSnapshot{}, fmt.Errorf("datasource: fetch %s: %w: %w",
		req, domain.ErrAllSourcesUnavailable, errors.Join(tierFailures...))
}

// fetchTier runs one source under its tier timeout and settles its breaker.
func (m *Manager) fetchTier(ctx context.Context, src Source, req Request) (domain.MarketSnapshot, error) {
	tier := src.Tier()
	if timeout, ok := m.cfg.TierTimeouts[tier]; ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	br := m.breakers[tier]
	start := time.Now()
	snap, err := src.Fetch(ctx, req)
	latency := time.Since(start)

	if err != nil {
		// A labeled stale hit means the source itself is healthy.
		if errors.Is(err, domain.ErrStaleData) {
			br.RecordSuccess(latency)
		} else {
			wasOpen := br.State() == domain.BreakerOpen
			br.RecordFailure(err, latency)
			if !wasOpen && br.State() == domain.BreakerOpen {
				m.onTrip(tier, err)
			}
		}
		return snap, err
	}

	br.RecordSuccess(latency)
	return snap, nil
}

// onTrip records a breaker trip in the log and the audit trail.
func (m *Manager) onTrip(tier domain.SourceTier, cause error) {
	m.logger.Warn("circuit breaker opened",
		slog.String("tier", string(tier)),
		slog.String("cause", cause.Error()),
	)
	if m.audit == nil {
		return
	}

	// Audit writes must not block or fail the fetch path.
	auditCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.audit.Log(auditCtx, "breaker_tripped", map[string]any{
		"tier":  string(tier),
		"cause": cause.Error(),
	}); err != nil {
		m.logger.Error("audit breaker trip", slog.String("error", err.Error()))
	}
}

// Stats returns per-tier health statistics in tier priority order.
func (m *Manager) Stats() []domain.SourceStats {
	out := make([]domain.SourceStats, 0, len(m.sources))
	for _, tier := range domain.Tiers {
		br, ok := m.breakers[tier]
		if !ok {
			continue
		}
		out = append(out, br.Stats())
	}
	return out
}
