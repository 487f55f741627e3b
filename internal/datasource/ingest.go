package datasource

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
	"github.com/arbradar/arbradar/internal/feed"
)

const (
	// ingestBatchSize flushes the persistence batch once this many snapshots
	// accumulate.
	ingestBatchSize = 100
	// ingestFlushInterval flushes whatever has accumulated at least this
	// often.
	ingestFlushInterval = 5 * time.Second
)

// Ingestor is the pipeline write path. Every snapshot a feed produces flows
// through it: validation first, then the in-process buffer, the cache tier,
// and a batched write into the database tier. A snapshot that fails
// validation goes nowhere.
type Ingestor struct {
	validator *Validator
	buf       *feed.Buffer
	cache     domain.SnapshotCache
	store     domain.SnapshotStore
	logger    *slog.Logger

	mu      sync.Mutex
	pending []domain.MarketSnapshot
}

// NewIngestor creates an Ingestor. Cache and store are optional; a nil layer
// is skipped.
func NewIngestor(validator *Validator, buf *feed.Buffer, cache domain.SnapshotCache, store domain.SnapshotStore, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		validator: validator,
		buf:       buf,
		cache:     cache,
		store:     store,
		logger:    logger.With(slog.String("component", "ingestor")),
	}
}

// Ingest validates one snapshot and fans it out to the buffer, cache, and
// the pending persistence batch.
func (in *Ingestor) Ingest(ctx context.Context, snap domain.MarketSnapshot) {
	if err := in.validator.Validate(ctx, snap); err != nil {
		return
	}

	in.buf.Put(snap)

	if in.cache != nil {
		if err := in.cache.Set(ctx, snap); err != nil {
			in.logger.Warn("cache write failed",
				slog.String("exchange", snap.Exchange),
				slog.String("pair", snap.Pair),
				slog.String("error", err.Error()),
			)
		}
	}

	if in.store != nil {
		in.mu.Lock()
		in.pending = append(in.pending, snap)
		full := len(in.pending) >= ingestBatchSize
		in.mu.Unlock()
		if full {
			in.Flush(ctx)
		}
	}
}

// Flush writes the pending batch to the snapshot store.
func (in *Ingestor) Flush(ctx context.Context) {
	in.mu.Lock()
	batch := in.pending
	in.pending = nil
	in.mu.Unlock()

	if len(batch) == 0 || in.store == nil {
		return
	}

	if err := in.store.InsertBatch(ctx, batch); err != nil {
		in.logger.Error("snapshot batch insert failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
		return
	}
	in.logger.Debug("snapshot batch persisted", slog.Int("count", len(batch)))
}

// Run flushes the pending batch on a fixed interval until ctx ends, then
// performs a final flush.
func (in *Ingestor) Run(ctx context.Context) error {
	ticker := time.NewTicker(ingestFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			in.Flush(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			in.Flush(ctx)
		}
	}
}
