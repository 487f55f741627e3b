package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbradar/arbradar/internal/domain"
)

// DistributionStore implements domain.DistributionStore using PostgreSQL.
type DistributionStore struct {
	pool *pgxpool.Pool
}

// NewDistributionStore creates a new DistributionStore backed by the given
// pool.
func NewDistributionStore(pool *pgxpool.Pool) *DistributionStore {
	return &DistributionStore{pool: pool}
}

// Record inserts a delivery record. The (user_id, opportunity_id) pair is
// unique; a duplicate insert is a no-op and Record reports created=false, so
// concurrent distribution runs converge on at most one delivery per user per
// opportunity.
func (s *DistributionStore) Record(ctx context.Context, rec domain.UserDistributionRecord) (bool, error) {
	const query = `
		INSERT INTO distributions (user_id, opportunity_id, distributed_at, tier, cooldown_until)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, opportunity_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		rec.UserID, rec.OpportunityID, rec.DistributedAt, rec.Tier, rec.CooldownUntil,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: record distribution %s/%s: %w", rec.UserID, rec.OpportunityID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Exists reports whether a delivery record exists for the pair.
func (s *DistributionStore) Exists(ctx context.Context, userID, opportunityID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM distributions WHERE user_id = $1 AND opportunity_id = $2)`,
		userID, opportunityID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: distribution exists %s/%s: %w", userID, opportunityID, err)
	}
	return exists, nil
}

// CountSince returns how many deliveries a user received since the cutoff.
func (s *DistributionStore) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM distributions WHERE user_id = $1 AND distributed_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count distributions %s: %w", userID, err)
	}
	return count, nil
}

func scanDistributionRows(rows pgx.Rows) ([]domain.UserDistributionRecord, error) {
	var recs []domain.UserDistributionRecord
	for rows.Next() {
		var r domain.UserDistributionRecord
		var cooldown *time.Time
		if err := rows.Scan(&r.UserID, &r.OpportunityID, &r.DistributedAt, &r.Tier, &cooldown); err != nil {
			return nil, err
		}
		if cooldown != nil {
			r.CooldownUntil = *cooldown
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

const distributionSelectCols = `user_id, opportunity_id, distributed_at, tier, cooldown_until`

// ListByOpportunity returns all delivery records for one opportunity.
func (s *DistributionStore) ListByOpportunity(ctx context.Context, opportunityID string) ([]domain.UserDistributionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+distributionSelectCols+` FROM distributions WHERE opportunity_id = $1 ORDER BY distributed_at ASC`,
		opportunityID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list distributions for %s: %w", opportunityID, err)
	}
	defer rows.Close()

	recs, err := scanDistributionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan distributions for %s: %w", opportunityID, err)
	}
	return recs, nil
}

// ListBefore returns delivery records older than the cutoff, oldest first.
func (s *DistributionStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.UserDistributionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+distributionSelectCols+` FROM distributions WHERE distributed_at < $1 ORDER BY distributed_at ASC LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list distributions before: %w", err)
	}
	defer rows.Close()

	recs, err := scanDistributionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan distributions before: %w", err)
	}
	return recs, nil
}

// DeleteBefore removes delivery records older than the cutoff.
func (s *DistributionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM distributions WHERE distributed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete distributions before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.DistributionStore = (*DistributionStore)(nil)
