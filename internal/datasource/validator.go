package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

// medianWindow is the rolling sample size kept per (exchange, pair, kind)
// for outlier detection.
const medianWindow = 64

// minOutlierSamples is how many observations must accumulate before the
// sigma check activates. Below this the sample spread is noise.
const minOutlierSamples = 8

// ValidatorConfig holds snapshot quality-check parameters.
type ValidatorConfig struct {
	// SigmaThreshold rejects prices further than this many standard
	// deviations from the rolling median.
	SigmaThreshold float64
	// MaxAge rejects snapshots older than this.
	MaxAge time.Duration
	// MaxFutureSkew rejects snapshots timestamped this far in the future.
	MaxFutureSkew time.Duration
	// DivergenceCeiling flags snapshots whose mid price diverges from the
	// cross-exchange median by more than this fraction. Flagged snapshots
	// are retained for audit but excluded from detection.
	DivergenceCeiling float64
}

// Validator screens snapshots before they enter the pipeline and before
// detection consumes them. Hard failures return domain.ErrDataQuality;
// divergence marks the snapshot flagged instead of rejecting it.
type Validator struct {
	cfg    ValidatorConfig
	audit  domain.AuditStore
	logger *slog.Logger

	mu      sync.Mutex
	windows map[string]*priceWindow
}

// NewValidator creates a Validator. The audit store is optional.
func NewValidator(cfg ValidatorConfig, audit domain.AuditStore, logger *slog.Logger) *Validator {
	return &Validator{
		cfg:     cfg,
		audit:   audit,
		logger:  logger.With(slog.String("component", "validator")),
		windows: make(map[string]*priceWindow),
	}
}

// Validate runs the hard quality checks and, when they pass, records the
// observation in the rolling window. It returns a wrapped
// domain.ErrDataQuality on failure.
func (v *Validator) Validate(ctx context.Context, snap domain.MarketSnapshot) error {
	if err := v.hardChecks(snap); err != nil {
		v.reject(ctx, snap, err)
		return err
	}

	mid := snap.Mid()
	key := snap.Exchange + ":" + snap.Pair + ":" + string(snap.Kind)

	v.mu.Lock()
	w, ok := v.windows[key]
	if !ok {
		w = &priceWindow{}
		v.windows[key] = w
	}
	median, stddev, n := w.stats()
	v.mu.Unlock()

	if n >= minOutlierSamples && stddev > 0 {
		if math.Abs(mid-median) > v.cfg.SigmaThreshold*stddev {
			err := fmt.Errorf("datasource: %s/%s mid %.8f deviates from rolling median %.8f: %w",
				snap.Exchange, snap.Pair, mid, median, domain.ErrDataQuality)
			v.reject(ctx, snap, err)
			return err
		}
	}

	v.mu.Lock()
	w.push(mid)
	v.mu.Unlock()
	return nil
}

func (v *Validator) hardChecks(snap domain.MarketSnapshot) error {
	if snap.Bid <= 0 || snap.Ask <= 0 {
		return fmt.Errorf("datasource: %s/%s non-positive price bid=%.8f ask=%.8f: %w",
			snap.Exchange, snap.Pair, snap.Bid, snap.Ask, domain.ErrDataQuality)
	}
	if snap.Ask < snap.Bid {
		return fmt.Errorf("datasource: %s/%s crossed book bid=%.8f ask=%.8f: %w",
			snap.Exchange, snap.Pair, snap.Bid, snap.Ask, domain.ErrDataQuality)
	}
	if snap.Volume < 0 {
		return fmt.Errorf("datasource: %s/%s negative volume %.4f: %w",
			snap.Exchange, snap.Pair, snap.Volume, domain.ErrDataQuality)
	}

	now := time.Now()
	if v.cfg.MaxFutureSkew > 0 && snap.Timestamp.After(now.Add(v.cfg.MaxFutureSkew)) {
		return fmt.Errorf("datasource: %s/%s timestamp %s in the future: %w",
			snap.Exchange, snap.Pair, snap.Timestamp.Format(time.RFC3339), domain.ErrDataQuality)
	}
	if v.cfg.MaxAge > 0 && snap.Age(now) > v.cfg.MaxAge {
		return fmt.Errorf("datasource: %s/%s snapshot aged %s: %w",
			snap.Exchange, snap.Pair, snap.Age(now).Truncate(time.Millisecond), domain.ErrDataQuality)
	}
	return nil
}

// FlagDivergent compares same-pair snapshots across exchanges and marks the
// ones whose mid diverges from the cross-exchange median beyond the ceiling.
// It returns the snapshots with the Flagged field settled; flagged entries
// are also written to the audit trail.
func (v *Validator) FlagDivergent(ctx context.Context, snaps []domain.MarketSnapshot) []domain.MarketSnapshot {
	if len(snaps) < 2 || v.cfg.DivergenceCeiling <= 0 {
		return snaps
	}

	mids := make([]float64, len(snaps))
	for i, s := range snaps {
		mids[i] = s.Mid()
	}
	med := median(mids)
	if med == 0 {
		return snaps
	}

	out := make([]domain.MarketSnapshot, len(snaps))
	for i, s := range snaps {
		if math.Abs(s.Mid()-med)/med > v.cfg.DivergenceCeiling {
			s.Flagged = true
			v.logger.Warn("divergent snapshot flagged",
				slog.String("exchange", s.Exchange),
				slog.String("pair", s.Pair),
				slog.Float64("mid", s.Mid()),
				slog.Float64("cross_exchange_median", med),
			)
			v.auditLog(ctx, "snapshot_flagged", map[string]any{
				"exchange":              s.Exchange,
				"pair":                  s.Pair,
				"mid":                   s.Mid(),
				"cross_exchange_median": med,
			})
		}
		out[i] = s
	}
	return out
}

func (v *Validator) reject(ctx context.Context, snap domain.MarketSnapshot, cause error) {
	v.logger.Warn("snapshot rejected",
		slog.String("exchange", snap.Exchange),
		slog.String("pair", snap.Pair),
		slog.String("cause", cause.Error()),
	)
	v.auditLog(ctx, "snapshot_rejected", map[string]any{
		"exchange": snap.Exchange,
		"pair":     snap.Pair,
		"cause":    cause.Error(),
	})
}

func (v *Validator) auditLog(ctx context.Context, event string, detail map[string]any) {
	if v.audit == nil {
		return
	}
	if err := v.audit.Log(ctx, event, detail); err != nil {
		v.logger.Error("audit write", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// priceWindow is a fixed-size ring of recent mid prices.
type priceWindow struct {
	samples [medianWindow]float64
	next    int
	filled  int
}

func (w *priceWindow) push(v float64) {
	w.samples[w.next] = v
	w.next = (w.next + 1) % medianWindow
	if w.filled < medianWindow {
		w.filled++
	}
}

// stats returns the rolling median, standard deviation, and sample count.
func (w *priceWindow) stats() (med, stddev float64, n int) {
	n = w.filled
	if n == 0 {
		return 0, 0, 0
	}

	vals := make([]float64, n)
	copy(vals, w.samples[:n])
	med = median(vals)

	var sum, sumSq float64
	for _, v := range vals {
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return med, math.Sqrt(variance), n
}

// median sorts a copy of vals and returns the middle value.
func median(vals []float64) float64 {
	s := make([]float64, len(vals))
	copy(s, vals)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}
