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

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotInsert = `
	INSERT INTO market_snapshots (
		exchange, pair, kind, bid, ask, volume, funding_rate,
		source_tier, stale, flagged, ts
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// Insert persists a single snapshot.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.MarketSnapshot) error {
	_, err := s.pool.Exec(ctx, snapshotInsert,
		snap.Exchange, snap.Pair, snap.Kind, snap.Bid, snap.Ask,
		snap.Volume, snap.FundingRate, snap.SourceTier, snap.Stale,
		snap.Flagged, snap.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot %s/%s: %w", snap.Exchange, snap.Pair, err)
	}
	return nil
}

// InsertBatch persists multiple snapshots using pgx Batch.
func (s *SnapshotStore) InsertBatch(ctx context.Context, snaps []domain.MarketSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, snap := range snaps {
		batch.Queue(snapshotInsert,
			snap.Exchange, snap.Pair, snap.Kind, snap.Bid, snap.Ask,
			snap.Volume, snap.FundingRate, snap.SourceTier, snap.Stale,
			snap.Flagged, snap.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range snaps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert snapshot batch: %w", err)
		}
	}
	return nil
}

// QueryLatest returns the most recent snapshot for (exchange, pair, kind).
// Snapshots served from the database tier are labeled as such regardless of
// the tier that originally wrote them.
func (s *SnapshotStore) QueryLatest(ctx context.Context, exchange, pair string, kind domain.SnapshotKind) (domain.MarketSnapshot, error) {
	const query = `
		SELECT exchange, pair, kind, bid, ask, volume, funding_rate,
		       stale, flagged, ts
		FROM market_snapshots
		WHERE exchange = $1 AND pair = $2 AND kind = $3
		ORDER BY ts DESC
		LIMIT 1`

	var snap domain.MarketSnapshot
	err := s.pool.QueryRow(ctx, query, exchange, pair, kind).Scan(
		&snap.Exchange, &snap.Pair, &snap.Kind, &snap.Bid, &snap.Ask,
		&snap.Volume, &snap.FundingRate, &snap.Stale, &snap.Flagged,
		&snap.Timestamp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: query latest snapshot %s/%s: %w", exchange, pair, err)
	}

	snap.SourceTier = domain.TierDatabase
	return snap, nil
}

// ListBefore returns snapshots older than the cutoff, oldest first. Used by
// the archiver ahead of pruning.
func (s *SnapshotStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.MarketSnapshot, error) {
	const query = `
		SELECT exchange, pair, kind, bid, ask, volume, funding_rate,
		       source_tier, stale, flagged, ts
		FROM market_snapshots
		WHERE ts < $1
		ORDER BY ts ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before: %w", err)
	}
	defer rows.Close()

	var snaps []domain.MarketSnapshot
	for rows.Next() {
		var snap domain.MarketSnapshot
		if err := rows.Scan(
			&snap.Exchange, &snap.Pair, &snap.Kind, &snap.Bid, &snap.Ask,
			&snap.Volume, &snap.FundingRate, &snap.SourceTier, &snap.Stale,
			&snap.Flagged, &snap.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before rows: %w", err)
	}
	return snaps, nil
}

// DeleteBefore removes snapshots with timestamps older than the cutoff and
// returns the number of rows deleted.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM market_snapshots WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
