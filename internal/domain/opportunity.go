package domain

import "time"

// OpportunityStatus is the distribution lifecycle state of an opportunity.
type OpportunityStatus string

const (
	StatusActive               OpportunityStatus = "active"
	StatusDistributing         OpportunityStatus = "distributing"
	StatusDistributed          OpportunityStatus = "distributed"
	StatusPartiallyDistributed OpportunityStatus = "partially_distributed"
	StatusExpired              OpportunityStatus = "expired"
)

// OpportunityStrategy names the detection strategy that produced an
// opportunity.
type OpportunityStrategy string

const (
	StrategyCrossExchange OpportunityStrategy = "cross_exchange"
	StrategyFundingRate   OpportunityStrategy = "funding_rate"
)

// Opportunity is a detected cross-exchange rate differential. The ID is
// deterministic: re-detecting the same differential yields the same ID so the
// queue and store upsert instead of duplicating.
type Opportunity struct {
	ID              string              `json:"id"`
	Pair            string              `json:"pair"`
	LongExchange    string              `json:"long_exchange"`
	ShortExchange   string              `json:"short_exchange"`
	LongRate        float64             `json:"long_rate"`
	ShortRate       float64             `json:"short_rate"`
	RateDifference  float64             `json:"rate_difference"`
	Confidence      float64             `json:"confidence"`
	PriorityScore   float64             `json:"priority_score"`
	Strategy        OpportunityStrategy `json:"strategy"`
	Source          SourceTier          `json:"source"`
	DetectedAt      time.Time           `json:"detected_at"`
	ExpiresAt       time.Time           `json:"expires_at"`
	Status          OpportunityStatus   `json:"status"`
	Participants    int                 `json:"participants"`
	MaxParticipants int                 `json:"max_participants"`
	// StaleInput is set when any contributing snapshot was served under the
	// staleness-ceiling policy.
	StaleInput bool `json:"stale_input,omitempty"`
}

// Expired reports whether the opportunity is past its expiry.
func (o Opportunity) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// RemainingTTL returns the time left before expiry, or zero if already
// expired.
func (o Opportunity) RemainingTTL(now time.Time) time.Duration {
	if o.Expired(now) {
		return 0
	}
	return o.ExpiresAt.Sub(now)
}
