package domain

import "time"

// SourceTier identifies which tier of the fallback chain produced a snapshot.
// Lower values are tried first.
type SourceTier string

const (
	TierPipeline SourceTier = "pipeline"
	TierCache    SourceTier = "cache"
	TierDatabase SourceTier = "database"
	TierLiveAPI  SourceTier = "live_api"
)

// Tiers lists the fallback chain in fixed priority order.
var Tiers = []SourceTier{TierPipeline, TierCache, TierDatabase, TierLiveAPI}

// SnapshotKind categorizes a snapshot for cache TTL purposes.
type SnapshotKind string

const (
	KindTicker      SnapshotKind = "ticker"
	KindFundingRate SnapshotKind = "funding"
	KindAnalytics   SnapshotKind = "analytics"
)

// MarketSnapshot is a single observation of a trading pair on one exchange.
type MarketSnapshot struct {
	Exchange    string       `json:"exchange"`
	Pair        string       `json:"pair"`
	Kind        SnapshotKind `json:"kind"`
	Bid         float64      `json:"bid"`
	Ask         float64      `json:"ask"`
	Volume      float64      `json:"volume"`
	FundingRate *float64     `json:"funding_rate,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	SourceTier  SourceTier   `json:"source_tier"`
	// Stale marks a snapshot served past its TTL under the staleness-ceiling
	// policy. Scoring discounts stale inputs.
	Stale bool `json:"stale,omitempty"`
	// Flagged marks a snapshot excluded from detection by the cross-exchange
	// divergence check. Flagged snapshots are retained for audit only.
	Flagged bool `json:"flagged,omitempty"`
}

// Mid returns the midpoint of bid and ask.
func (s MarketSnapshot) Mid() float64 {
	return (s.Bid + s.Ask) / 2
}

// Spread returns the absolute bid-ask spread.
func (s MarketSnapshot) Spread() float64 {
	return s.Ask - s.Bid
}

// Age returns how old the snapshot is relative to now.
func (s MarketSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// Fresh reports whether the snapshot is younger than the given TTL.
func (s MarketSnapshot) Fresh(now time.Time, ttl time.Duration) bool {
	return s.Age(now) < ttl
}
