// Package distribute delivers detected opportunities to subscribed users
// under fairness limits: per-tier quotas, cooldowns, and at-most-once
// delivery per user per opportunity.
package distribute

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

// opportunityFeature is the feature flag gating opportunity delivery per
// user.
const opportunityFeature = "opportunity_alerts"

// FairnessPolicy holds the quota and cooldown parameters.
type FairnessPolicy struct {
	MaxPerHour      int
	MaxPerDay       int
	Cooldown        time.Duration
	TierMultipliers map[string]float64
}

// Multiplier returns the quota multiplier for a tier, defaulting to 1.0.
func (p FairnessPolicy) Multiplier(tier domain.Tier) float64 {
	if m, ok := p.TierMultipliers[string(tier)]; ok && m > 0 {
		return m
	}
	return 1.0
}

// HourlyLimit returns the tier-scaled hourly quota.
func (p FairnessPolicy) HourlyLimit(tier domain.Tier) int {
	return scaleQuota(p.MaxPerHour, p.Multiplier(tier))
}

// DailyLimit returns the tier-scaled daily quota.
func (p FairnessPolicy) DailyLimit(tier domain.Tier) int {
	return scaleQuota(p.MaxPerDay, p.Multiplier(tier))
}

func scaleQuota(base int, mult float64) int {
	return int(math.Floor(float64(base) * mult))
}

// Fairness decides per-user eligibility and records deliveries against the
// rolling windows. Each failure carries a typed sentinel so callers can
// distinguish skip reasons.
type Fairness struct {
	policy     FairnessPolicy
	windows    domain.FairnessCache
	deliveries domain.DistributionStore
	directory  domain.UserDirectory
}

// NewFairness creates a Fairness gate.
func NewFairness(policy FairnessPolicy, windows domain.FairnessCache, deliveries domain.DistributionStore, directory domain.UserDirectory) *Fairness {
	return &Fairness{
		policy:     policy,
		windows:    windows,
		deliveries: deliveries,
		directory:  directory,
	}
}

// Check reports whether a user may receive the opportunity now. Gates run in
// a fixed order, short-circuiting on the first failure: feature access, then
// hourly and daily quotas, then cooldown, then the per-opportunity dedup. It
// returns nil when eligible, or a wrapped sentinel naming the failed gate:
// domain.ErrQuotaExceeded, domain.ErrCoolingDown, or domain.ErrAlreadyExists.
// The feature gate returns a plain skip error.
func (f *Fairness) Check(ctx context.Context, user domain.UserProfile, opp domain.Opportunity, now time.Time) error {
	enabled, err := f.directory.IsFeatureEnabled(ctx, user.ID, opportunityFeature)
	if err != nil {
		return fmt.Errorf("distribute: feature gate %s: %w", user.ID, err)
	}
	if !enabled {
		return fmt.Errorf("distribute: user %s: feature %s disabled", user.ID, opportunityFeature)
	}

	w, err := f.windows.Window(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("distribute: window %s: %w", user.ID, err)
	}
	w = w.Rolled(now)

	if w.HourlyCount >= f.policy.HourlyLimit(user.Tier) {
		return fmt.Errorf("distribute: user %s hourly %d/%d: %w",
			user.ID, w.HourlyCount, f.policy.HourlyLimit(user.Tier), domain.ErrQuotaExceeded)
	}
	if w.DailyCount >= f.policy.DailyLimit(user.Tier) {
		return fmt.Errorf("distribute: user %s daily %d/%d: %w",
			user.ID, w.DailyCount, f.policy.DailyLimit(user.Tier), domain.ErrQuotaExceeded)
	}

	if now.Before(w.CooldownUntil) {
		return fmt.Errorf("distribute: user %s until %s: %w",
			user.ID, w.CooldownUntil.Format(time.RFC3339), domain.ErrCoolingDown)
	}

	seen, err := f.deliveries.Exists(ctx, user.ID, opp.ID)
	if err != nil {
		return fmt.Errorf("distribute: dedup %s/%s: %w", user.ID, opp.ID, err)
	}
	if seen {
		return fmt.Errorf("distribute: user %s already received %s: %w",
			user.ID, opp.ID, domain.ErrAlreadyExists)
	}

	return nil
}

// Commit records a completed delivery: the unique delivery row first, then
// the rolling window with the new cooldown. It reports created=false when a
// concurrent run recorded the same pair first; callers must not count such a
// delivery twice.
func (f *Fairness) Commit(ctx context.Context, user domain.UserProfile, opp domain.Opportunity, now time.Time) (bool, error) {
	rec := domain.UserDistributionRecord{
		UserID:        user.ID,
		OpportunityID: opp.ID,
		DistributedAt: now,
		Tier:          user.Tier,
		CooldownUntil: now.Add(f.policy.Cooldown),
	}

	created, err := f.deliveries.Record(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("distribute: record %s/%s: %w", user.ID, opp.ID, err)
	}
	if !created {
		return false, nil
	}

	w, err := f.windows.Window(ctx, user.ID)
	if err != nil {
		return true, fmt.Errorf("distribute: window %s: %w", user.ID, err)
	}
	w = w.Rolled(now)
	if w.HourStart.IsZero() {
		w.HourStart = now.Truncate(time.Hour)
	}
	if w.DayStart.IsZero() {
		w.DayStart = now.Truncate(24 * time.Hour)
	}
	w.HourlyCount++
	w.DailyCount++
	w.CooldownUntil = rec.CooldownUntil

	if err := f.windows.SetWindow(ctx, w); err != nil {
		return true, fmt.Errorf("distribute: save window %s: %w", user.ID, err)
	}
	return true, nil
}
