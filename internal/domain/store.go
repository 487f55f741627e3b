package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SnapshotStore is the Database tier: persisted market snapshots.
type SnapshotStore interface {
	Insert(ctx context.Context, snap MarketSnapshot) error
	InsertBatch(ctx context.Context, snaps []MarketSnapshot) error
	QueryLatest(ctx context.Context, exchange, pair string, kind SnapshotKind) (MarketSnapshot, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]MarketSnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpportunityStore persists opportunities keyed by deterministic ID. Upsert
// refreshes score and timestamps when the ID already exists.
type OpportunityStore interface {
	Upsert(ctx context.Context, opp Opportunity) error
	GetByID(ctx context.Context, id string) (Opportunity, error)
	UpdateStatus(ctx context.Context, id string, status OpportunityStatus) error
	IncrementParticipants(ctx context.Context, id string, by int) error
	ListActive(ctx context.Context, opts ListOpts) ([]Opportunity, error)
	MarkExpired(ctx context.Context, before time.Time) (int64, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Opportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// DistributionStore persists delivery records. Record must be idempotent on
// the unique (user_id, opportunity_id) pair and report whether a new row was
// created.
type DistributionStore interface {
	Record(ctx context.Context, rec UserDistributionRecord) (created bool, err error)
	Exists(ctx context.Context, userID, opportunityID string) (bool, error)
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	ListByOpportunity(ctx context.Context, opportunityID string) ([]UserDistributionRecord, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]UserDistributionRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ActivityStore persists rolling per-user engagement counters.
type ActivityStore interface {
	Get(ctx context.Context, userID string) (UserActivity, error)
	RecordDelivery(ctx context.Context, userID string, at time.Time) error
	RecordInteraction(ctx context.Context, userID string, at time.Time) error
	TopEngaged(ctx context.Context, limit int) ([]UserActivity, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log: flagged snapshots, breaker
// trips, failed deliveries.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// UserDirectory is the consumed identity/tier service: subscriber listing,
// tier lookup, and feature gating. Policy definition lives elsewhere; only
// this query surface is used.
type UserDirectory interface {
	ListSubscribers(ctx context.Context) ([]UserProfile, error)
	GetTier(ctx context.Context, userID string) (Tier, error)
	IsFeatureEnabled(ctx context.Context, userID, feature string) (bool, error)
}
