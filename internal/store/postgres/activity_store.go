package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbradar/arbradar/internal/domain"
)

// engagementDeliveryWeight and engagementInteractionWeight shape the rolling
// engagement score: interactions count more than passive deliveries.
const (
	engagementDeliveryWeight    = 1.0
	engagementInteractionWeight = 3.0
)

// ActivityStore implements domain.ActivityStore using PostgreSQL.
type ActivityStore struct {
	pool *pgxpool.Pool
}

// NewActivityStore creates a new ActivityStore backed by the given pool.
func NewActivityStore(pool *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

// Get returns a user's activity record. Unknown users get a zero record.
func (s *ActivityStore) Get(ctx context.Context, userID string) (domain.UserActivity, error) {
	const query = `
		SELECT user_id, deliveries, interactions, engagement_score, last_active_at
		FROM user_activity WHERE user_id = $1`

	var a domain.UserActivity
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&a.UserID, &a.Deliveries, &a.Interactions, &a.EngagementScore, &a.LastActiveAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserActivity{UserID: userID}, nil
		}
		return domain.UserActivity{}, fmt.Errorf("postgres: get activity %s: %w", userID, err)
	}
	return a, nil
}

func (s *ActivityStore) record(ctx context.Context, userID string, at time.Time, deliveries, interactions int) error {
	const query = `
		INSERT INTO user_activity (user_id, deliveries, interactions, engagement_score, last_active_at)
		VALUES ($1, $2, $3, $2 * $4 + $3 * $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			deliveries = user_activity.deliveries + EXCLUDED.deliveries,
			interactions = user_activity.interactions + EXCLUDED.interactions,
			engagement_score = user_activity.engagement_score + EXCLUDED.engagement_score,
			last_active_at = GREATEST(user_activity.last_active_at, EXCLUDED.last_active_at)`

	_, err := s.pool.Exec(ctx, query,
		userID, deliveries, interactions,
		engagementDeliveryWeight, engagementInteractionWeight, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: record activity %s: %w", userID, err)
	}
	return nil
}

// RecordDelivery bumps a user's delivery counter and engagement score.
func (s *ActivityStore) RecordDelivery(ctx context.Context, userID string, at time.Time) error {
	return s.record(ctx, userID, at, 1, 0)
}

// RecordInteraction bumps a user's interaction counter and engagement score.
func (s *ActivityStore) RecordInteraction(ctx context.Context, userID string, at time.Time) error {
	return s.record(ctx, userID, at, 0, 1)
}

// TopEngaged returns the highest-scoring users.
func (s *ActivityStore) TopEngaged(ctx context.Context, limit int) ([]domain.UserActivity, error) {
	const query = `
		SELECT user_id, deliveries, interactions, engagement_score, last_active_at
		FROM user_activity
		ORDER BY engagement_score DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: top engaged: %w", err)
	}
	defer rows.Close()

	var out []domain.UserActivity
	for rows.Next() {
		var a domain.UserActivity
		if err := rows.Scan(&a.UserID, &a.Deliveries, &a.Interactions, &a.EngagementScore, &a.LastActiveAt); err != nil {
			return nil, fmt.Errorf("postgres: scan activity: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: top engaged rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.ActivityStore = (*ActivityStore)(nil)
