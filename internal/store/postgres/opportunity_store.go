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

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunitySelectCols = `id, pair, long_exchange, short_exchange,
	long_rate, short_rate, rate_difference, confidence, priority_score,
	strategy, source, detected_at, expires_at, status, participants,
	max_participants, stale_input`

func scanOpportunity(row pgx.Row) (domain.Opportunity, error) {
	var o domain.Opportunity
	err := row.Scan(
		&o.ID, &o.Pair, &o.LongExchange, &o.ShortExchange,
		&o.LongRate, &o.ShortRate, &o.RateDifference, &o.Confidence,
		&o.PriorityScore, &o.Strategy, &o.Source, &o.DetectedAt,
		&o.ExpiresAt, &o.Status, &o.Participants, &o.MaxParticipants,
		&o.StaleInput,
	)
	return o, err
}

func scanOpportunityRows(rows pgx.Rows) ([]domain.Opportunity, error) {
	var opps []domain.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

// Upsert inserts an opportunity or, when its deterministic ID already exists,
// refreshes rates, scores, and expiry. Status and participant counts are left
// untouched on conflict so a re-detection cannot reset distribution progress.
func (s *OpportunityStore) Upsert(ctx context.Context, opp domain.Opportunity) error {
	const query = `
		INSERT INTO opportunities (
			id, pair, long_exchange, short_exchange,
			long_rate, short_rate, rate_difference, confidence,
			priority_score, strategy, source, detected_at, expires_at,
			status, participants, max_participants, stale_input
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17
		)
		ON CONFLICT (id) DO UPDATE SET
			long_rate = EXCLUDED.long_rate,
			short_rate = EXCLUDED.short_rate,
			rate_difference = EXCLUDED.rate_difference,
			confidence = EXCLUDED.confidence,
			priority_score = EXCLUDED.priority_score,
			source = EXCLUDED.source,
			detected_at = EXCLUDED.detected_at,
			expires_at = EXCLUDED.expires_at,
			stale_input = EXCLUDED.stale_input,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		opp.ID, opp.Pair, opp.LongExchange, opp.ShortExchange,
		opp.LongRate, opp.ShortRate, opp.RateDifference, opp.Confidence,
		opp.PriorityScore, opp.Strategy, opp.Source, opp.DetectedAt,
		opp.ExpiresAt, opp.Status, opp.Participants, opp.MaxParticipants,
		opp.StaleInput,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// GetByID returns the opportunity with the given deterministic ID.
func (s *OpportunityStore) GetByID(ctx context.Context, id string) (domain.Opportunity, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunities WHERE id = $1`

	o, err := scanOpportunity(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Opportunity{}, domain.ErrNotFound
		}
		return domain.Opportunity{}, fmt.Errorf("postgres: get opportunity %s: %w", id, err)
	}
	return o, nil
}

// UpdateStatus sets the lifecycle status of an opportunity.
func (s *OpportunityStore) UpdateStatus(ctx context.Context, id string, status domain.OpportunityStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("postgres: update opportunity status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncrementParticipants adds to the delivered-participant counter.
func (s *OpportunityStore) IncrementParticipants(ctx context.Context, id string, by int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET participants = participants + $2, updated_at = NOW() WHERE id = $1`,
		id, by,
	)
	if err != nil {
		return fmt.Errorf("postgres: increment participants %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListActive returns unexpired opportunities in active or distributing states,
// highest priority first.
func (s *OpportunityStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Opportunity, error) {
	query := `SELECT ` + opportunitySelectCols + `
		FROM opportunities
		WHERE status IN ('active', 'distributing') AND expires_at > NOW()
		ORDER BY priority_score DESC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active opportunities: %w", err)
	}
	defer rows.Close()

	opps, err := scanOpportunityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active opportunities: %w", err)
	}
	return opps, nil
}

// MarkExpired transitions opportunities past the cutoff out of live states
// and returns how many rows changed.
func (s *OpportunityStore) MarkExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET status = 'expired', updated_at = NOW()
		 WHERE expires_at <= $1 AND status NOT IN ('expired', 'distributed')`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListBefore returns opportunities detected before the cutoff, oldest first.
// Used by the archiver ahead of pruning.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Opportunity, error) {
	query := `SELECT ` + opportunitySelectCols + `
		FROM opportunities
		WHERE detected_at < $1
		ORDER BY detected_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before: %w", err)
	}
	defer rows.Close()

	opps, err := scanOpportunityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan opportunities before: %w", err)
	}
	return opps, nil
}

// DeleteBefore removes opportunities detected before the cutoff.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunities WHERE detected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
