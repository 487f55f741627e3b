package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

// archivePageSize caps how many rows one archive pass pulls per store query.
const archivePageSize = 5000

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only needs the time-ranged list queries, not the full domain
// store interfaces. The Postgres stores satisfy these implicitly.
// ---------------------------------------------------------------------------

// OpportunityArchiveStore provides read access to aged opportunities.
type OpportunityArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Opportunity, error)
}

// DistributionArchiveStore provides read access to aged delivery records.
type DistributionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.UserDistributionRecord, error)
}

// AuditArchiveStore provides read access to aged audit entries.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.AuditEntry, error)
}

// SnapshotArchiveStore provides read access to aged market snapshots.
type SnapshotArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.MarketSnapshot, error)
}

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// aged rows, serializing them to gzipped JSONL, and uploading the result to
// object storage.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here; pruning is a separate, explicit step executed after the
// archive has been verified.
type ArchiveImpl struct {
	writer        domain.BlobWriter
	reader        domain.BlobReader
	opportunities OpportunityArchiveStore
	distributions DistributionArchiveStore
	auditEntries  AuditArchiveStore
	snapshots     SnapshotArchiveStore
	audit         domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. reader is used to verify uploads
// before an archive run is reported successful; nil skips verification.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	opportunities OpportunityArchiveStore,
	distributions DistributionArchiveStore,
	auditEntries AuditArchiveStore,
	snapshots SnapshotArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:        writer,
		reader:        reader,
		opportunities: opportunities,
		distributions: distributions,
		auditEntries:  auditEntries,
		snapshots:     snapshots,
		audit:         audit,
	}
}

// ArchiveOpportunities uploads opportunities detected before the cutoff to
// archive/opportunities/YYYY-MM.jsonl.gz and returns the archived count.
func (a *ArchiveImpl) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.opportunities.ListBefore(ctx, before, archivePageSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	return archive(ctx, a, "opportunities", before, opps)
}

// ArchiveDistributions uploads delivery records older than the cutoff to
// archive/distributions/YYYY-MM.jsonl.gz and returns the archived count.
func (a *ArchiveImpl) ArchiveDistributions(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.distributions.ListBefore(ctx, before, archivePageSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive distributions query: %w", err)
	}
	return archive(ctx, a, "distributions", before, recs)
}

// ArchiveAudit uploads audit entries older than the cutoff to
// archive/audit/YYYY-MM.jsonl.gz and returns the archived count.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.auditEntries.ListBefore(ctx, before, archivePageSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	return archive(ctx, a, "audit", before, entries)
}

// ArchiveSnapshots uploads market snapshots older than the cutoff to
// archive/snapshots/YYYY-MM.jsonl.gz and returns the archived count. Flagged
// snapshots ride along: this is where the audit-only retention ends up.
func (a *ArchiveImpl) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.snapshots.ListBefore(ctx, before, archivePageSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots query: %w", err)
	}
	return archive(ctx, a, "snapshots", before, snaps)
}

// archive serializes records to gzipped JSONL, uploads them, and writes the
// archival event to the audit log.
func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONLGzip(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/gzip"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	// Callers prune archived rows on success, so confirm the object landed.
	if a.reader != nil {
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s verify: %w", kind, err)
		}
		if !ok {
			return 0, fmt.Errorf("s3blob: archive %s verify: object %s missing after upload", kind, path)
		}
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/opportunities/2026-08.jsonl.gz
//	archive/audit/2026-08.jsonl.gz
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl.gz", kind, before.Format("2006-01"))
}

// marshalJSONLGzip serialises records as newline-delimited JSON and gzips
// the result.
func marshalJSONLGzip[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)

	enc := json.NewEncoder(zw)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
