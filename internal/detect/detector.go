package detect

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arbradar/arbradar/internal/datasource"
	"github.com/arbradar/arbradar/internal/domain"
	"github.com/arbradar/arbradar/internal/exchange"
)

// detectLockKey serializes detection cycles across instances.
const detectLockKey = "detect:cycle"

// OpportunityChannel is the pub/sub channel and stream carrying detected
// opportunities to the distributor.
const OpportunityChannel = "opportunities"

// fetchConcurrency bounds parallel snapshot fetches per cycle.
const fetchConcurrency = 8

// Config holds detection loop parameters.
type Config struct {
	Interval        time.Duration
	MinThreshold    float64
	MaxThreshold    float64
	OpportunityTTL  time.Duration
	MaxPerPair      int
	MaxParticipants int
	Exchanges       []string
	Pairs           []string
	LockTTL         time.Duration
}

// Detector runs the periodic detection cycle: fetch snapshots through the
// data access chain, screen them, pair exchanges off against each other, and
// feed qualifying differentials into the queue, the store, and the signal
// bus.
type Detector struct {
	cfg       Config
	manager   *datasource.Manager
	validator *datasource.Validator
	scorer    *Scorer
	queue     *Queue
	store     domain.OpportunityStore
	bus       domain.SignalBus
	locks     domain.LockManager
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewDetector wires a Detector. Store, bus, and locks may be nil in tests.
func NewDetector(
	cfg Config,
	manager *datasource.Manager,
	validator *datasource.Validator,
	scorer *Scorer,
	queue *Queue,
	store domain.OpportunityStore,
	bus domain.SignalBus,
	locks domain.LockManager,
	logger *slog.Logger,
) *Detector {
	return &Detector{
		cfg:       cfg,
		manager:   manager,
		validator: validator,
		scorer:    scorer,
		queue:     queue,
		store:     store,
		bus:       bus,
		locks:     locks,
		logger:    logger.With(slog.String("component", "detector")),
	}
}

// Run executes detection cycles on the configured interval until ctx ends.
// The first cycle runs immediately.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	if err := d.RunCycle(ctx); err != nil && !errors.Is(err, domain.ErrLockHeld) {
		d.logger.Error("detection cycle failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := d.RunCycle(ctx)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrLockHeld):
				d.logger.Debug("detection cycle held elsewhere")
			default:
				d.logger.Error("detection cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunCycle executes one detection cycle. A cycle still in flight locally or
// on another instance is not duplicated: the local guard and the distributed
// lock both short-circuit with domain.ErrLockHeld.
func (d *Detector) RunCycle(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return domain.ErrLockHeld
	}
	d.running = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	if d.locks != nil {
		unlock, err := d.locks.Acquire(ctx, detectLockKey, d.lockTTL())
		if err != nil {
			return err
		}
		defer unlock()
	}

	start := time.Now()
	d.sweepExpired(ctx, start)
	d.rescoreQueue(start)

	snaps := d.fetchAll(ctx)
	opps := d.evaluate(ctx, snaps, start)

	for _, opp := range opps {
		d.publish(ctx, opp)
	}

	d.logger.Info("detection cycle complete",
		slog.Int("snapshots", countSnaps(snaps)),
		slog.Int("opportunities", len(opps)),
		slog.Int("queued", d.queue.Len()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (d *Detector) lockTTL() time.Duration {
	if d.cfg.LockTTL > 0 {
		return d.cfg.LockTTL
	}
	return d.cfg.Interval
}

// pairSnaps groups ticker and funding snapshots per trading pair.
type pairSnaps struct {
	tickers []domain.MarketSnapshot
	funding []domain.MarketSnapshot
}

func countSnaps(m map[string]*pairSnaps) int {
	n := 0
	for _, ps := range m {
		n += len(ps.tickers) + len(ps.funding)
	}
	return n
}

// fetchAll resolves every (exchange, pair) ticker and funding snapshot
// through the data access chain. Individual misses are logged and skipped;
// detection works with whatever arrived.
func (d *Detector) fetchAll(ctx context.Context) map[string]*pairSnaps {
	type result struct {
		pair string
		snap domain.MarketSnapshot
		kind domain.SnapshotKind
	}

	results := make(chan result, len(d.cfg.Exchanges)*len(d.cfg.Pairs)*2)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	for _, ex := range d.cfg.Exchanges {
		for _, pair := range d.cfg.Pairs {
			for _, kind := range []domain.SnapshotKind{domain.KindTicker, domain.KindFundingRate} {
				req := datasource.Request{Exchange: ex, Pair: pair, Kind: kind}
				g.Go(func() error {
					snap, err := d.manager.Fetch(gctx, req)
					if err != nil {
						if !errors.Is(err, domain.ErrNotFound) {
							d.logger.Debug("snapshot unavailable",
								slog.String("request", req.String()),
								slog.String("error", err.Error()),
							)
						}
						return nil
					}
					results <- result{pair: req.Pair, snap: snap, kind: req.Kind}
					return nil
				})
			}
		}
	}

	_ = g.Wait()
	close(results)

	byPair := make(map[string]*pairSnaps)
	for r := range results {
		ps, ok := byPair[r.pair]
		if !ok {
			ps = &pairSnaps{}
			byPair[r.pair] = ps
		}
		if r.kind == domain.KindFundingRate {
			ps.funding = append(ps.funding, r.snap)
		} else {
			ps.tickers = append(ps.tickers, r.snap)
		}
	}
	return byPair
}

// evaluate screens each pair's snapshots and turns qualifying differentials
// into opportunities, capped per pair.
func (d *Detector) evaluate(ctx context.Context, byPair map[string]*pairSnaps, now time.Time) []domain.Opportunity {
	var out []domain.Opportunity
	for pair, ps := range byPair {
		tickers := clean(d.validator.FlagDivergent(ctx, ps.tickers))

		candidates := d.crossExchange(pair, tickers, now)
		candidates = append(candidates, d.fundingRate(pair, indexByExchange(tickers), ps.funding, now)...)

		// Rank by differential magnitude; exchange priority breaks ties.
		sort.Slice(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.RateDifference != b.RateDifference {
				return math.Abs(a.RateDifference) > math.Abs(b.RateDifference)
			}
			return exchangeRank(a) < exchangeRank(b)
		})

		if d.cfg.MaxPerPair > 0 && len(candidates) > d.cfg.MaxPerPair {
			candidates = candidates[:d.cfg.MaxPerPair]
		}
		out = append(out, candidates...)
	}
	return out
}

// clean drops flagged snapshots.
func clean(snaps []domain.MarketSnapshot) []domain.MarketSnapshot {
	out := snaps[:0]
	for _, s := range snaps {
		if !s.Flagged {
			out = append(out, s)
		}
	}
	return out
}

func indexByExchange(snaps []domain.MarketSnapshot) map[string]domain.MarketSnapshot {
	m := make(map[string]domain.MarketSnapshot, len(snaps))
	for _, s := range snaps {
		m[s.Exchange] = s
	}
	return m
}

// crossExchange pairs every two exchanges off against each other and keeps
// the mid-price differentials inside the threshold band.
func (d *Detector) crossExchange(pair string, tickers []domain.MarketSnapshot, now time.Time) []domain.Opportunity {
	var out []domain.Opportunity
	for i := 0; i < len(tickers); i++ {
		for j := i + 1; j < len(tickers); j++ {
			a, b := tickers[i], tickers[j]

			// Long the cheaper book, short the richer one.
			long, short := a, b
			if long.Mid() > short.Mid() {
				long, short = short, long
			}
			if long.Mid() <= 0 {
				continue
			}

			diff := (short.Mid() - long.Mid()) / long.Mid()
			if !d.inBand(diff) {
				continue
			}

			conf := d.scorer.Confidence(a, b, diff)
			opp := domain.Opportunity{
				ID:              DeterministicID(pair, a.Exchange, b.Exchange, diff),
				Pair:            pair,
				LongExchange:    long.Exchange,
				ShortExchange:   short.Exchange,
				LongRate:        long.Mid(),
				ShortRate:       short.Mid(),
				RateDifference:  diff,
				Confidence:      conf,
				PriorityScore:   d.scorer.Priority(diff, conf, 0, d.cfg.OpportunityTTL),
				Strategy:        domain.StrategyCrossExchange,
				Source:          slowerTier(a.SourceTier, b.SourceTier),
				DetectedAt:      now,
				ExpiresAt:       now.Add(d.cfg.OpportunityTTL),
				Status:          domain.StatusActive,
				MaxParticipants: d.cfg.MaxParticipants,
				StaleInput:      a.Stale || b.Stale,
			}
			out = append(out, opp)
		}
	}
	return out
}

// fundingRate pairs funding snapshots off against each other: long where
// funding is cheap, short where it is rich.
func (d *Detector) fundingRate(pair string, tickers map[string]domain.MarketSnapshot, funding []domain.MarketSnapshot, now time.Time) []domain.Opportunity {
	var out []domain.Opportunity
	for i := 0; i < len(funding); i++ {
		for j := i + 1; j < len(funding); j++ {
			a, b := funding[i], funding[j]
			if a.FundingRate == nil || b.FundingRate == nil {
				continue
			}

			long, short := a, b
			if *long.FundingRate > *short.FundingRate {
				long, short = short, long
			}

			diff := *short.FundingRate - *long.FundingRate
			if !d.inBand(diff) {
				continue
			}

			// Volume and liquidity come from the ticker books when present.
			confA, okA := tickers[a.Exchange]
			confB, okB := tickers[b.Exchange]
			if !okA {
				confA = a
			}
			if !okB {
				confB = b
			}

			conf := d.scorer.Confidence(confA, confB, diff)
			opp := domain.Opportunity{
				ID:              DeterministicID(pair+":funding", a.Exchange, b.Exchange, diff),
				Pair:            pair,
				LongExchange:    long.Exchange,
				ShortExchange:   short.Exchange,
				LongRate:        *long.FundingRate,
				ShortRate:       *short.FundingRate,
				RateDifference:  diff,
				Confidence:      conf,
				PriorityScore:   d.scorer.Priority(diff, conf, 0, d.cfg.OpportunityTTL),
				Strategy:        domain.StrategyFundingRate,
				Source:          slowerTier(a.SourceTier, b.SourceTier),
				DetectedAt:      now,
				ExpiresAt:       now.Add(d.cfg.OpportunityTTL),
				Status:          domain.StatusActive,
				MaxParticipants: d.cfg.MaxParticipants,
				StaleInput:      a.Stale || b.Stale,
			}
			out = append(out, opp)
		}
	}
	return out
}

func (d *Detector) inBand(diff float64) bool {
	abs := math.Abs(diff)
	if abs < d.cfg.MinThreshold {
		return false
	}
	if d.cfg.MaxThreshold > 0 && abs > d.cfg.MaxThreshold {
		return false
	}
	return true
}

// publish admits an opportunity to the queue and, when admitted, upserts it
// in the store and announces it on the signal bus.
func (d *Detector) publish(ctx context.Context, opp domain.Opportunity) {
	if !d.queue.Upsert(opp) {
		return
	}

	if d.store != nil {
		if err := d.store.Upsert(ctx, opp); err != nil {
			d.logger.Error("opportunity upsert failed",
				slog.String("id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if d.bus != nil {
		payload, err := json.Marshal(opp)
		if err != nil {
			d.logger.Error("opportunity marshal failed", slog.String("id", opp.ID), slog.String("error", err.Error()))
			return
		}
		if err := d.bus.Publish(ctx, OpportunityChannel, payload); err != nil {
			d.logger.Warn("opportunity publish failed", slog.String("id", opp.ID), slog.String("error", err.Error()))
		}
		if err := d.bus.StreamAppend(ctx, OpportunityChannel, payload); err != nil {
			d.logger.Warn("opportunity stream append failed", slog.String("id", opp.ID), slog.String("error", err.Error()))
		}
	}
}

// rescoreQueue re-ranks queued entries for their current age, so eviction
// under a full queue prefers dropping stale survivors over fresh detections.
func (d *Detector) rescoreQueue(now time.Time) {
	d.queue.Rescore(func(opp domain.Opportunity) float64 {
		return d.scorer.Priority(
			opp.RateDifference,
			opp.Confidence,
			now.Sub(opp.DetectedAt),
			opp.ExpiresAt.Sub(opp.DetectedAt),
		)
	})
}

// sweepExpired drops expired opportunities from the queue and transitions
// them in the store.
func (d *Detector) sweepExpired(ctx context.Context, now time.Time) {
	expired := d.queue.SweepExpired(now)
	if d.store != nil {
		if n, err := d.store.MarkExpired(ctx, now); err != nil {
			d.logger.Error("mark expired failed", slog.String("error", err.Error()))
		} else if n > 0 || len(expired) > 0 {
			d.logger.Info("opportunities expired",
				slog.Int("queue", len(expired)),
				slog.Int64("store", n),
			)
		}
	}
}

// slowerTier returns the later of two tiers in the fallback order, i.e. the
// least preferred source that contributed to a computation.
func slowerTier(a, b domain.SourceTier) domain.SourceTier {
	ra, rb := tierRank(a), tierRank(b)
	if rb > ra {
		return b
	}
	return a
}

func tierRank(t domain.SourceTier) int {
	for i, tier := range domain.Tiers {
		if tier == t {
			return i
		}
	}
	return len(domain.Tiers)
}

// exchangeRank scores a candidate by its exchanges' fixed priority for tie
// breaking; lower is better.
func exchangeRank(o domain.Opportunity) int {
	return exchange.Priority(o.LongExchange) + exchange.Priority(o.ShortExchange)
}
