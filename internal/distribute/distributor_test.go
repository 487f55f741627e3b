package distribute

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbradar/arbradar/internal/domain"
)

type memOpps struct {
	mu           sync.Mutex
	opps         map[string]domain.Opportunity
	statuses     map[string][]domain.OpportunityStatus
	participants map[string]int
}

func newMemOpps(opps ...domain.Opportunity) *memOpps {
	s := &memOpps{
		opps:         make(map[string]domain.Opportunity),
		statuses:     make(map[string][]domain.OpportunityStatus),
		participants: make(map[string]int),
	}
	for _, opp := range opps {
		s.opps[opp.ID] = opp
	}
	return s
}

func (s *memOpps) Upsert(_ context.Context, opp domain.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opps[opp.ID] = opp
	return nil
}

func (s *memOpps) GetByID(_ context.Context, id string) (domain.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opp, ok := s.opps[id]
	if !ok {
		return domain.Opportunity{}, domain.ErrNotFound
	}
	return opp, nil
}

func (s *memOpps) UpdateStatus(_ context.Context, id string, status domain.OpportunityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	opp := s.opps[id]
	opp.Status = status
	s.opps[id] = opp
	s.statuses[id] = append(s.statuses[id], status)
	return nil
}

func (s *memOpps) IncrementParticipants(_ context.Context, id string, by int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[id] += by
	opp := s.opps[id]
	opp.Participants += by
	s.opps[id] = opp
	return nil
}

func (s *memOpps) ListActive(_ context.Context, opts domain.ListOpts) ([]domain.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Opportunity
	for _, opp := range s.opps {
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		out = append(out, opp)
	}
	return out, nil
}

func (s *memOpps) MarkExpired(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *memOpps) ListBefore(context.Context, time.Time, int) ([]domain.Opportunity, error) {
	return nil, nil
}

func (s *memOpps) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

// memDeliveries enforces the unique (user, opportunity) row like the real
// store.
type memDeliveries struct {
	mu   sync.Mutex
	rows map[string]domain.UserDistributionRecord
}

func newMemDeliveries() *memDeliveries {
	return &memDeliveries{rows: make(map[string]domain.UserDistributionRecord)}
}

func (s *memDeliveries) Record(_ context.Context, rec domain.UserDistributionRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.UserID + "|" + rec.OpportunityID
	if _, ok := s.rows[key]; ok {
		return false, nil
	}
	s.rows[key] = rec
	return true, nil
}

func (s *memDeliveries) Exists(_ context.Context, userID, opportunityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[userID+"|"+opportunityID]
	return ok, nil
}

func (s *memDeliveries) CountSince(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

func (s *memDeliveries) ListByOpportunity(_ context.Context, opportunityID string) ([]domain.UserDistributionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.UserDistributionRecord
	for _, rec := range s.rows {
		if rec.OpportunityID == opportunityID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memDeliveries) ListBefore(context.Context, time.Time, int) ([]domain.UserDistributionRecord, error) {
	return nil, nil
}

func (s *memDeliveries) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type recordingChannel struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (c *recordingChannel) Deliver(_ context.Context, user domain.UserProfile, opp domain.Opportunity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, user.ID+":"+opp.ID)
	return c.err
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type memAuditLog struct {
	mu     sync.Mutex
	events []string
}

func (s *memAuditLog) Log(_ context.Context, event string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memAuditLog) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (s *memAuditLog) ListBefore(context.Context, time.Time, int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (s *memAuditLog) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type distributorFixture struct {
	distributor *Distributor
	opps        *memOpps
	deliveries  *memDeliveries
	windows     *stubWindows
	channel     *recordingChannel
	audit       *memAuditLog
}

func newDistributorFixture(t *testing.T, bus domain.SignalBus, subscribers []domain.UserProfile, opps ...domain.Opportunity) *distributorFixture {
	t.Helper()

	windows := newStubWindows()
	deliveries := newMemDeliveries()
	directory := &stubDirectory{enabled: true, subscribers: subscribers}
	store := newMemOpps(opps...)
	channel := &recordingChannel{}
	audit := &memAuditLog{}

	strategy, err := NewStrategy("broadcast", time.Minute, 1.0, windows, &stubActivity{}, strategyLogger())
	require.NoError(t, err)

	fairness := NewFairness(testPolicy(), windows, deliveries, directory)

	d := NewDistributor(Config{
		BatchSize:       10,
		RatePerSecond:   1000,
		DeliveryTimeout: time.Second,
		MaxRetries:      0,
	}, strategy, fairness, directory, store, &stubActivity{}, channel, bus, nil, audit, strategyLogger())

	return &distributorFixture{
		distributor: d,
		opps:        store,
		deliveries:  deliveries,
		windows:     windows,
		channel:     channel,
		audit:       audit,
	}
}

func subscribers(ids ...string) []domain.UserProfile {
	out := make([]domain.UserProfile, len(ids))
	for i, id := range ids {
		out[i] = domain.UserProfile{ID: id, Tier: domain.TierPremium, Active: true}
	}
	return out
}

func liveOpp(id string, maxParticipants int) domain.Opportunity {
	now := time.Now()
	return domain.Opportunity{
		ID:              id,
		Pair:            "BTC/USDT",
		LongExchange:    "binance",
		ShortExchange:   "okx",
		RateDifference:  0.011,
		Confidence:      0.8,
		Strategy:        domain.StrategyCrossExchange,
		DetectedAt:      now,
		ExpiresAt:       now.Add(time.Hour),
		Status:          domain.StatusActive,
		MaxParticipants: maxParticipants,
	}
}

func TestDistributeDeliversToAllEligibleUsers(t *testing.T) {
	opp := liveOpp("opp-1", 0)
	f := newDistributorFixture(t, nil, subscribers("u1", "u2"), opp)

	require.NoError(t, f.distributor.Distribute(context.Background(), opp))

	assert.Equal(t, []string{"u1:opp-1", "u2:opp-1"}, f.channel.calls)
	assert.Len(t, f.deliveries.rows, 2)
	assert.Equal(t, 2, f.opps.participants["opp-1"])
	assert.Equal(t,
		[]domain.OpportunityStatus{domain.StatusDistributing, domain.StatusDistributed},
		f.opps.statuses["opp-1"],
	)
}

func TestDistributeSkipsExpiredOpportunity(t *testing.T) {
	opp := liveOpp("opp-1", 0)
	opp.ExpiresAt = time.Now().Add(-time.Minute)
	f := newDistributorFixture(t, nil, subscribers("u1"), opp)

	require.NoError(t, f.distributor.Distribute(context.Background(), opp))

	assert.Zero(t, f.channel.callCount())
	assert.Empty(t, f.deliveries.rows)
	assert.Empty(t, f.opps.statuses["opp-1"])
}

func TestDistributeSkipsAlreadyDistributed(t *testing.T) {
	opp := liveOpp("opp-1", 0)
	opp.Status = domain.StatusDistributed
	f := newDistributorFixture(t, nil, subscribers("u1"), opp)

	require.NoError(t, f.distributor.Distribute(context.Background(), opp))

	assert.Zero(t, f.channel.callCount())
	assert.Empty(t, f.opps.statuses["opp-1"])
}

func TestDistributeHaltsAtParticipantCap(t *testing.T) {
	opp := liveOpp("opp-1", 2)
	f := newDistributorFixture(t, nil, subscribers("u1", "u2", "u3"), opp)

	require.NoError(t, f.distributor.Distribute(context.Background(), opp))

	assert.Equal(t, 2, f.channel.callCount())
	assert.Len(t, f.deliveries.rows, 2)
	final := f.opps.statuses["opp-1"]
	require.Len(t, final, 2)
	assert.Equal(t, domain.StatusPartiallyDistributed, final[1])
}

func TestDistributeFailedDeliveryConsumesNoQuota(t *testing.T) {
	opp := liveOpp("opp-1", 0)
	f := newDistributorFixture(t, nil, subscribers("u1"), opp)
	f.channel.err = errors.New("webhook down")

	require.NoError(t, f.distributor.Distribute(context.Background(), opp))

	assert.Equal(t, 1, f.channel.callCount())
	// No delivery row, no window mutation: the user's quota is untouched.
	assert.Empty(t, f.deliveries.rows)
	assert.Empty(t, f.windows.saved)
	assert.Zero(t, f.opps.participants["opp-1"])
	assert.Equal(t, []string{"delivery_failed"}, f.audit.events)
}

func TestDistributeCooldownSpansOpportunities(t *testing.T) {
	opp1 := liveOpp("opp-1", 0)
	opp2 := liveOpp("opp-2", 0)
	f := newDistributorFixture(t, nil, subscribers("u1"), opp1, opp2)

	require.NoError(t, f.distributor.Distribute(context.Background(), opp1))
	require.Equal(t, 1, f.channel.callCount())

	// A different opportunity inside the user's cooldown window is skipped
	// silently; the opportunity itself completes untouched.
	require.NoError(t, f.distributor.Distribute(context.Background(), opp2))

	assert.Equal(t, 1, f.channel.callCount())
	assert.Len(t, f.deliveries.rows, 1)
	statuses := f.opps.statuses["opp-2"]
	require.Len(t, statuses, 2)
	assert.Equal(t, domain.StatusDistributed, statuses[1])
}

func TestRunConsumesBusMessages(t *testing.T) {
	opp := liveOpp("opp-1", 0)
	bus := &chanBus{ch: make(chan []byte, 1)}
	f := newDistributorFixture(t, bus, subscribers("u1"), opp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.distributor.Run(ctx, "opportunities")
	}()

	payload, err := json.Marshal(opp)
	require.NoError(t, err)
	bus.ch <- payload

	require.Eventually(t, func() bool {
		return f.channel.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}
