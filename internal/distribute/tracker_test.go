package distribute

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbradar/arbradar/internal/domain"
)

type stubOppStore struct {
	opp domain.Opportunity
}

func (s *stubOppStore) Upsert(context.Context, domain.Opportunity) error { return nil }

func (s *stubOppStore) GetByID(context.Context, string) (domain.Opportunity, error) {
	return s.opp, nil
}

func (s *stubOppStore) UpdateStatus(context.Context, string, domain.OpportunityStatus) error {
	return nil
}

func (s *stubOppStore) IncrementParticipants(context.Context, string, int) error { return nil }

func (s *stubOppStore) ListActive(context.Context, domain.ListOpts) ([]domain.Opportunity, error) {
	return nil, nil
}

func (s *stubOppStore) MarkExpired(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *stubOppStore) ListBefore(context.Context, time.Time, int) ([]domain.Opportunity, error) {
	return nil, nil
}

func (s *stubOppStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func TestOpportunityReport(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	opps := &stubOppStore{opp: domain.Opportunity{ID: "opp-1", Pair: "BTC/USDT"}}
	deliveries := &stubDeliveries{listed: []domain.UserDistributionRecord{
		{UserID: "u2", OpportunityID: "opp-1", Tier: domain.TierPremium, DistributedAt: base.Add(time.Minute)},
		{UserID: "u1", OpportunityID: "opp-1", Tier: domain.TierFree, DistributedAt: base},
		{UserID: "u3", OpportunityID: "opp-1", Tier: domain.TierPremium, DistributedAt: base.Add(2 * time.Minute)},
	}}
	tr := NewTracker(testPolicy(), opps, deliveries, newStubWindows(), &stubActivity{}, &stubDirectory{})

	report, err := tr.OpportunityReport(context.Background(), "opp-1")
	require.NoError(t, err)

	assert.Equal(t, "BTC/USDT", report.Opportunity.Pair)
	assert.Len(t, report.Deliveries, 3)
	assert.Equal(t, 2, report.ByTier[domain.TierPremium])
	assert.Equal(t, 1, report.ByTier[domain.TierFree])
	assert.Equal(t, base, report.FirstDelivery)
	assert.Equal(t, base.Add(2*time.Minute), report.LastDelivery)
}

func TestUserReport(t *testing.T) {
	windows := newStubWindows()
	now := time.Now()
	windows.windows["u1"] = domain.FairnessWindow{
		HourStart:   now.Truncate(time.Hour),
		DayStart:    now.Truncate(24 * time.Hour),
		HourlyCount: 3,
		DailyCount:  7,
	}
	activity := &stubActivity{scores: map[string]float64{"u1": 0.6}}
	tr := NewTracker(testPolicy(), &stubOppStore{}, &stubDeliveries{}, windows, activity, &stubDirectory{tier: domain.TierPremium})

	report, err := tr.UserReport(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, 3, report.Window.HourlyCount)
	assert.Equal(t, 20, report.HourlyLimit) // 10 * 2.0
	assert.Equal(t, 100, report.DailyLimit) // 50 * 2.0
	assert.Equal(t, 0.6, report.Activity.EngagementScore)
}

func TestActiveOpportunityReports(t *testing.T) {
	opp := liveOpp("opp-1", 0)
	opps := newMemOpps(opp)
	deliveries := newMemDeliveries()
	_, err := deliveries.Record(context.Background(), domain.UserDistributionRecord{
		UserID:        "u1",
		OpportunityID: "opp-1",
		Tier:          domain.TierPremium,
	})
	require.NoError(t, err)

	tr := NewTracker(testPolicy(), opps, deliveries, newStubWindows(), &stubActivity{}, &stubDirectory{})

	reports, err := tr.ActiveOpportunityReports(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "opp-1", reports[0].Opportunity.ID)
	assert.Len(t, reports[0].Deliveries, 1)
	assert.Equal(t, 1, reports[0].ByTier[domain.TierPremium])
}

func TestStatsRunnerLogsSummaries(t *testing.T) {
	opp := liveOpp("opp-1", 0)
	opps := newMemOpps(opp)
	tr := NewTracker(testPolicy(), opps, newMemDeliveries(), newStubWindows(), &stubActivity{}, &stubDirectory{})

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	runner := NewStatsRunner(tr, 5*time.Millisecond, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := runner.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	out := buf.String()
	assert.Contains(t, out, "distribution summary")
	assert.Contains(t, out, "opp-1")
}
