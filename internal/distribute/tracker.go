package distribute

import (
	"context"
	"log/slog"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

// OpportunityReport summarizes how one opportunity was distributed.
type OpportunityReport struct {
	Opportunity   domain.Opportunity              `json:"opportunity"`
	Deliveries    []domain.UserDistributionRecord `json:"deliveries"`
	ByTier        map[domain.Tier]int             `json:"by_tier"`
	FirstDelivery time.Time                       `json:"first_delivery,omitempty"`
	LastDelivery  time.Time                       `json:"last_delivery,omitempty"`
}

// UserReport summarizes one user's current standing against the fairness
// limits.
type UserReport struct {
	Window      domain.FairnessWindow `json:"window"`
	HourlyLimit int                   `json:"hourly_limit"`
	DailyLimit  int                   `json:"daily_limit"`
	Activity    domain.UserActivity   `json:"activity"`
}

// Tracker is the read-only analytics surface over distribution state.
type Tracker struct {
	policy     FairnessPolicy
	opps       domain.OpportunityStore
	deliveries domain.DistributionStore
	windows    domain.FairnessCache
	activity   domain.ActivityStore
	directory  domain.UserDirectory
}

// NewTracker creates a Tracker.
func NewTracker(policy FairnessPolicy, opps domain.OpportunityStore, deliveries domain.DistributionStore, windows domain.FairnessCache, activity domain.ActivityStore, directory domain.UserDirectory) *Tracker {
	return &Tracker{
		policy:     policy,
		opps:       opps,
		deliveries: deliveries,
		windows:    windows,
		activity:   activity,
		directory:  directory,
	}
}

// OpportunityReport returns the delivery breakdown for one opportunity.
func (t *Tracker) OpportunityReport(ctx context.Context, id string) (OpportunityReport, error) {
	opp, err := t.opps.GetByID(ctx, id)
	if err != nil {
		return OpportunityReport{}, err
	}

	recs, err := t.deliveries.ListByOpportunity(ctx, id)
	if err != nil {
		return OpportunityReport{}, err
	}

	report := OpportunityReport{
		Opportunity: opp,
		Deliveries:  recs,
		ByTier:      make(map[domain.Tier]int),
	}
	for i, r := range recs {
		report.ByTier[r.Tier]++
		if i == 0 || r.DistributedAt.Before(report.FirstDelivery) {
			report.FirstDelivery = r.DistributedAt
		}
		if r.DistributedAt.After(report.LastDelivery) {
			report.LastDelivery = r.DistributedAt
		}
	}
	return report, nil
}

// ActiveOpportunityReports returns delivery breakdowns for currently active
// opportunities, up to limit.
func (t *Tracker) ActiveOpportunityReports(ctx context.Context, limit int) ([]OpportunityReport, error) {
	opps, err := t.opps.ListActive(ctx, domain.ListOpts{Limit: limit})
	if err != nil {
		return nil, err
	}

	reports := make([]OpportunityReport, 0, len(opps))
	for _, opp := range opps {
		r, err := t.OpportunityReport(ctx, opp.ID)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// UserReport returns a user's rolling window, effective limits, and
// engagement record.
func (t *Tracker) UserReport(ctx context.Context, userID string) (UserReport, error) {
	tier, err := t.directory.GetTier(ctx, userID)
	if err != nil {
		return UserReport{}, err
	}

	w, err := t.windows.Window(ctx, userID)
	if err != nil {
		return UserReport{}, err
	}

	report := UserReport{
		Window:      w.Rolled(time.Now()),
		HourlyLimit: t.policy.HourlyLimit(tier),
		DailyLimit:  t.policy.DailyLimit(tier),
	}

	if t.activity != nil {
		a, err := t.activity.Get(ctx, userID)
		if err != nil {
			return UserReport{}, err
		}
		report.Activity = a
	}
	return report, nil
}

// statsReportLimit bounds how many active opportunities one stats pass
// summarizes.
const statsReportLimit = 50

// StatsRunner periodically logs distribution analytics for operators: how
// many deliveries each live opportunity has accumulated and across which
// tiers.
type StatsRunner struct {
	tracker  *Tracker
	interval time.Duration
	logger   *slog.Logger
}

// NewStatsRunner creates a StatsRunner reporting on the given interval.
func NewStatsRunner(tracker *Tracker, interval time.Duration, logger *slog.Logger) *StatsRunner {
	return &StatsRunner{
		tracker:  tracker,
		interval: interval,
		logger:   logger.With(slog.String("component", "distribution_stats")),
	}
}

// Run logs a summary every interval until ctx ends.
func (r *StatsRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *StatsRunner) report(ctx context.Context) {
	reports, err := r.tracker.ActiveOpportunityReports(ctx, statsReportLimit)
	if err != nil {
		r.logger.Error("distribution stats failed", slog.String("error", err.Error()))
		return
	}

	for _, rep := range reports {
		byTier := make(map[string]int, len(rep.ByTier))
		for tier, n := range rep.ByTier {
			byTier[string(tier)] = n
		}
		r.logger.Info("distribution summary",
			slog.String("id", rep.Opportunity.ID),
			slog.String("pair", rep.Opportunity.Pair),
			slog.String("status", string(rep.Opportunity.Status)),
			slog.Int("deliveries", len(rep.Deliveries)),
			slog.Any("by_tier", byTier),
		)
	}
}
