package distribute

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbradar/arbradar/internal/domain"
)

type stubDirectory struct {
	enabled     bool
	tier        domain.Tier
	err         error
	subscribers []domain.UserProfile
}

func (d *stubDirectory) ListSubscribers(context.Context) ([]domain.UserProfile, error) {
	return d.subscribers, nil
}

func (d *stubDirectory) GetTier(context.Context, string) (domain.Tier, error) {
	if d.tier == "" {
		return domain.TierFree, nil
	}
	return d.tier, nil
}

func (d *stubDirectory) IsFeatureEnabled(context.Context, string, string) (bool, error) {
	return d.enabled, d.err
}

type stubWindows struct {
	windows   map[string]domain.FairnessWindow
	saved     []domain.FairnessWindow
	offset    int
	rotatedAt time.Time
}

func newStubWindows() *stubWindows {
	return &stubWindows{windows: make(map[string]domain.FairnessWindow)}
}

func (c *stubWindows) Window(_ context.Context, userID string) (domain.FairnessWindow, error) {
	w := c.windows[userID]
	w.UserID = userID
	return w, nil
}

func (c *stubWindows) SetWindow(_ context.Context, w domain.FairnessWindow) error {
	c.windows[w.UserID] = w
	c.saved = append(c.saved, w)
	return nil
}

func (c *stubWindows) RotationOffset(context.Context) (int, time.Time, error) {
	return c.offset, c.rotatedAt, nil
}

func (c *stubWindows) SetRotationOffset(_ context.Context, offset int, rotatedAt time.Time) error {
	c.offset = offset
	c.rotatedAt = rotatedAt
	return nil
}

type stubDeliveries struct {
	exists   bool
	created  bool
	recorded []domain.UserDistributionRecord
	listed   []domain.UserDistributionRecord
}

func (s *stubDeliveries) Record(_ context.Context, rec domain.UserDistributionRecord) (bool, error) {
	s.recorded = append(s.recorded, rec)
	return s.created, nil
}

func (s *stubDeliveries) Exists(context.Context, string, string) (bool, error) {
	return s.exists, nil
}

func (s *stubDeliveries) CountSince(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

func (s *stubDeliveries) ListByOpportunity(context.Context, string) ([]domain.UserDistributionRecord, error) {
	return s.listed, nil
}

func (s *stubDeliveries) ListBefore(context.Context, time.Time, int) ([]domain.UserDistributionRecord, error) {
	return nil, nil
}

func (s *stubDeliveries) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func testPolicy() FairnessPolicy {
	return FairnessPolicy{
		MaxPerHour: 10,
		MaxPerDay:  50,
		Cooldown:   5 * time.Minute,
		TierMultipliers: map[string]float64{
			"free":       0.5,
			"premium":    2.0,
			"enterprise": 5.0,
		},
	}
}

func testFairness(policy FairnessPolicy) (*Fairness, *stubWindows, *stubDeliveries, *stubDirectory) {
	windows := newStubWindows()
	deliveries := &stubDeliveries{created: true}
	directory := &stubDirectory{enabled: true}
	return NewFairness(policy, windows, deliveries, directory), windows, deliveries, directory
}

func testUser(tier domain.Tier) domain.UserProfile {
	return domain.UserProfile{ID: "u1", Tier: tier, Active: true}
}

func TestPolicyQuotaScaling(t *testing.T) {
	p := testPolicy()

	assert.Equal(t, 5, p.HourlyLimit(domain.TierFree))
	assert.Equal(t, 20, p.HourlyLimit(domain.TierPremium))
	assert.Equal(t, 50, p.HourlyLimit(domain.TierEnterprise))
	assert.Equal(t, 250, p.DailyLimit(domain.TierEnterprise))

	// Unknown tiers fall back to 1.0.
	assert.Equal(t, 10, p.HourlyLimit(domain.TierBasic))

	// Fractional results round down.
	p.MaxPerHour = 3
	p.TierMultipliers["basic"] = 1.5
	assert.Equal(t, 4, p.HourlyLimit(domain.TierBasic))
}

func TestCheckEligible(t *testing.T) {
	f, _, _, _ := testFairness(testPolicy())
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	err := f.Check(context.Background(), testUser(domain.TierPremium), domain.Opportunity{ID: "opp-1"}, now)
	require.NoError(t, err)
}

func TestCheckFeatureDisabled(t *testing.T) {
	f, _, _, directory := testFairness(testPolicy())
	directory.enabled = false
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	err := f.Check(context.Background(), testUser(domain.TierPremium), domain.Opportunity{ID: "opp-1"}, now)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrCoolingDown)
	assert.NotErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.NotErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCheckCooldown(t *testing.T) {
	f, windows, _, _ := testFairness(testPolicy())
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	windows.windows["u1"] = domain.FairnessWindow{
		HourStart:     now.Truncate(time.Hour),
		DayStart:      now.Truncate(24 * time.Hour),
		CooldownUntil: now.Add(time.Minute),
	}

	err := f.Check(context.Background(), testUser(domain.TierPremium), domain.Opportunity{ID: "opp-1"}, now)
	require.ErrorIs(t, err, domain.ErrCoolingDown)
}

func TestCheckQuotaBeforeCooldown(t *testing.T) {
	f, windows, _, _ := testFairness(testPolicy())
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	// Both gates would fail; the quota gate runs first and names the skip.
	windows.windows["u1"] = domain.FairnessWindow{
		HourStart:     now.Truncate(time.Hour),
		DayStart:      now.Truncate(24 * time.Hour),
		HourlyCount:   5, // free limit: 10 * 0.5
		CooldownUntil: now.Add(time.Minute),
	}

	err := f.Check(context.Background(), testUser(domain.TierFree), domain.Opportunity{ID: "opp-1"}, now)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.NotErrorIs(t, err, domain.ErrCoolingDown)
}

func TestCooldownIsGlobalAndDedupIndependent(t *testing.T) {
	f, _, deliveries, _ := testFairness(testPolicy())
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	user := testUser(domain.TierPremium)

	// Delivery of O1 at t=0 starts the 5-minute cooldown.
	created, err := f.Commit(context.Background(), user, domain.Opportunity{ID: "opp-1"}, t0)
	require.NoError(t, err)
	require.True(t, created)

	// The cooldown is per-user, not per-opportunity: at t=3min a different
	// opportunity is blocked too.
	err = f.Check(context.Background(), user, domain.Opportunity{ID: "opp-2"}, t0.Add(3*time.Minute))
	require.ErrorIs(t, err, domain.ErrCoolingDown)

	// Once the cooldown lapses, O2 is deliverable but O1 stays blocked by
	// the delivery record: dedup holds on its own.
	deliveries.exists = true
	err = f.Check(context.Background(), user, domain.Opportunity{ID: "opp-1"}, t0.Add(6*time.Minute))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	deliveries.exists = false
	err = f.Check(context.Background(), user, domain.Opportunity{ID: "opp-2"}, t0.Add(6*time.Minute))
	require.NoError(t, err)
}

func TestCheckHourlyQuota(t *testing.T) {
	f, windows, _, _ := testFairness(testPolicy())
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	windows.windows["u1"] = domain.FairnessWindow{
		HourStart:   now.Truncate(time.Hour),
		DayStart:    now.Truncate(24 * time.Hour),
		HourlyCount: 5, // free limit: 10 * 0.5
	}

	err := f.Check(context.Background(), testUser(domain.TierFree), domain.Opportunity{ID: "opp-1"}, now)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)

	// A premium user with the same counts is under its scaled limit.
	err = f.Check(context.Background(), testUser(domain.TierPremium), domain.Opportunity{ID: "opp-1"}, now)
	require.NoError(t, err)
}

func TestCheckDailyQuota(t *testing.T) {
	f, windows, _, _ := testFairness(testPolicy())
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	windows.windows["u1"] = domain.FairnessWindow{
		HourStart:   now.Truncate(time.Hour),
		DayStart:    now.Truncate(24 * time.Hour),
		HourlyCount: 2,
		DailyCount:  25, // free limit: 50 * 0.5
	}

	err := f.Check(context.Background(), testUser(domain.TierFree), domain.Opportunity{ID: "opp-1"}, now)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
}

func TestCheckDuplicateDelivery(t *testing.T) {
	f, _, deliveries, _ := testFairness(testPolicy())
	deliveries.exists = true
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	err := f.Check(context.Background(), testUser(domain.TierPremium), domain.Opportunity{ID: "opp-1"}, now)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCheckRollsStaleWindow(t *testing.T) {
	f, windows, _, _ := testFairness(testPolicy())
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	// Counters at the limit, but the hour they were accumulated in has long
	// passed; the rolled window must not block delivery.
	windows.windows["u1"] = domain.FairnessWindow{
		HourStart:   now.Add(-3 * time.Hour).Truncate(time.Hour),
		DayStart:    now.Truncate(24 * time.Hour),
		HourlyCount: 5,
	}

	err := f.Check(context.Background(), testUser(domain.TierFree), domain.Opportunity{ID: "opp-1"}, now)
	require.NoError(t, err)
}

func TestCommitRecordsDeliveryAndWindow(t *testing.T) {
	f, windows, deliveries, _ := testFairness(testPolicy())
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	user := testUser(domain.TierPremium)

	created, err := f.Commit(context.Background(), user, domain.Opportunity{ID: "opp-1"}, now)
	require.NoError(t, err)
	assert.True(t, created)

	require.Len(t, deliveries.recorded, 1)
	rec := deliveries.recorded[0]
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "opp-1", rec.OpportunityID)
	assert.Equal(t, now.Add(5*time.Minute), rec.CooldownUntil)

	require.Len(t, windows.saved, 1)
	w := windows.saved[0]
	assert.Equal(t, 1, w.HourlyCount)
	assert.Equal(t, 1, w.DailyCount)
	assert.Equal(t, now.Truncate(time.Hour), w.HourStart)
	assert.Equal(t, rec.CooldownUntil, w.CooldownUntil)
}

func TestCommitSkipsWindowOnDuplicateRow(t *testing.T) {
	f, windows, deliveries, _ := testFairness(testPolicy())
	deliveries.created = false
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	created, err := f.Commit(context.Background(), testUser(domain.TierPremium), domain.Opportunity{ID: "opp-1"}, now)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, windows.saved)
}
