package domain

import "time"

// Tier is a user's subscription level. It scales distribution quotas via the
// configured tier multipliers.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// UserProfile is the slice of user state the distributor needs: identity,
// tier, delivery target, and coarse location for the geographic strategy.
type UserProfile struct {
	ID      string `json:"id"`
	Tier    Tier   `json:"tier"`
	ChatID  string `json:"chat_id,omitempty"`
	Webhook string `json:"webhook,omitempty"`
	Region  string `json:"region,omitempty"`
	Active  bool   `json:"active"`
}

// FairnessWindow tracks a user's rolling hourly/daily delivery counts. The
// counters reset when a read or write observes a boundary crossing; no timer
// is involved.
type FairnessWindow struct {
	UserID        string    `json:"user_id"`
	HourlyCount   int       `json:"hourly_count"`
	DailyCount    int       `json:"daily_count"`
	HourStart     time.Time `json:"hour_start"`
	DayStart      time.Time `json:"day_start"`
	CooldownUntil time.Time `json:"cooldown_until"`
}

// Rolled returns a copy of the window with any counters whose boundary has
// been crossed reset. Counts never go negative.
func (w FairnessWindow) Rolled(now time.Time) FairnessWindow {
	if now.Sub(w.HourStart) >= time.Hour {
		w.HourlyCount = 0
		w.HourStart = now.Truncate(time.Hour)
	}
	if now.Sub(w.DayStart) >= 24*time.Hour {
		w.DailyCount = 0
		w.DayStart = now.Truncate(24 * time.Hour)
	}
	return w
}

// UserDistributionRecord records one successful delivery. The (UserID,
// OpportunityID) pair is unique: at most one delivery per user per
// opportunity.
type UserDistributionRecord struct {
	UserID        string    `json:"user_id"`
	OpportunityID string    `json:"opportunity_id"`
	DistributedAt time.Time `json:"distributed_at"`
	Tier          Tier      `json:"tier"`
	CooldownUntil time.Time `json:"cooldown_until"`
}

// DeliveryOutcome is the terminal result of one delivery attempt chain.
type DeliveryOutcome string

const (
	DeliveryDelivered DeliveryOutcome = "delivered"
	DeliveryFailed    DeliveryOutcome = "failed"
	DeliverySkipped   DeliveryOutcome = "skipped"
)

// UserActivity is a user's rolling engagement record, read by the
// priority-based strategy and the activity boost.
type UserActivity struct {
	UserID          string    `json:"user_id"`
	Deliveries      int       `json:"deliveries"`
	Interactions    int       `json:"interactions"`
	EngagementScore float64   `json:"engagement_score"`
	LastActiveAt    time.Time `json:"last_active_at"`
}
