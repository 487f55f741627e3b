package domain

import "context"

// DeliveryChannel sends one opportunity to one user. Implementations live in
// internal/notify; failures are wrapped with ErrDeliveryFailed so the
// distributor can tell a channel fault from an eligibility skip.
type DeliveryChannel interface {
	Deliver(ctx context.Context, user UserProfile, opp Opportunity) error
	Name() string
}
