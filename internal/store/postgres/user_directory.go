package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbradar/arbradar/internal/domain"
)

// UserDirectory implements domain.UserDirectory against the users and
// user_features tables. Tier policy is defined elsewhere; this is a read-only
// query surface.
type UserDirectory struct {
	pool *pgxpool.Pool
}

// NewUserDirectory creates a new UserDirectory backed by the given pool.
func NewUserDirectory(pool *pgxpool.Pool) *UserDirectory {
	return &UserDirectory{pool: pool}
}

// ListSubscribers returns all active users.
func (s *UserDirectory) ListSubscribers(ctx context.Context) ([]domain.UserProfile, error) {
	const query = `
		SELECT id, tier, COALESCE(chat_id, ''), COALESCE(webhook, ''), COALESCE(region, ''), active
		FROM users
		WHERE active
		ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list subscribers: %w", err)
	}
	defer rows.Close()

	var users []domain.UserProfile
	for rows.Next() {
		var u domain.UserProfile
		if err := rows.Scan(&u.ID, &u.Tier, &u.ChatID, &u.Webhook, &u.Region, &u.Active); err != nil {
			return nil, fmt.Errorf("postgres: scan subscriber: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list subscribers rows: %w", err)
	}
	return users, nil
}

// GetTier returns a user's subscription tier.
func (s *UserDirectory) GetTier(ctx context.Context, userID string) (domain.Tier, error) {
	var tier domain.Tier
	err := s.pool.QueryRow(ctx, `SELECT tier FROM users WHERE id = $1`, userID).Scan(&tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("postgres: get tier %s: %w", userID, err)
	}
	return tier, nil
}

// IsFeatureEnabled reports whether a feature flag is on for a user. A missing
// flag row means disabled.
func (s *UserDirectory) IsFeatureEnabled(ctx context.Context, userID, feature string) (bool, error) {
	var enabled bool
	err := s.pool.QueryRow(ctx,
		`SELECT enabled FROM user_features WHERE user_id = $1 AND feature = $2`,
		userID, feature,
	).Scan(&enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("postgres: feature %s for %s: %w", feature, userID, err)
	}
	return enabled, nil
}

// Compile-time interface check.
var _ domain.UserDirectory = (*UserDirectory)(nil)
