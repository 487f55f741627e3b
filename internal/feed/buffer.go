// Package feed implements stream ingestion: exchange WebSocket feeds parsed
// into market snapshots, and the in-memory pipeline buffer that serves as the
// freshest tier of the fallback chain.
package feed

import (
	"sync"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

// Buffer holds the most recent snapshot per (exchange, pair, kind). It is
// the Pipeline tier: writes are last-writer-wins and safe under concurrency.
type Buffer struct {
	mu      sync.RWMutex
	entries map[bufferKey]domain.MarketSnapshot
}

type bufferKey struct {
	exchange string
	pair     string
	kind     domain.SnapshotKind
}

// NewBuffer creates an empty pipeline buffer.
func NewBuffer() *Buffer {
	return &Buffer{entries: make(map[bufferKey]domain.MarketSnapshot)}
}

// Put stores a snapshot, replacing any previous entry for the same key. Out
// of order writes are dropped: a snapshot older than the stored one for its
// key never replaces it.
func (b *Buffer) Put(snap domain.MarketSnapshot) {
	key := bufferKey{snap.Exchange, snap.Pair, snap.Kind}

	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.entries[key]; ok && cur.Timestamp.After(snap.Timestamp) {
		return
	}
	b.entries[key] = snap
}

// Get returns the stored snapshot for the key and whether one exists.
// Freshness is the caller's concern; the buffer keeps whatever was written
// last.
func (b *Buffer) Get(exchange, pair string, kind domain.SnapshotKind) (domain.MarketSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap, ok := b.entries[bufferKey{exchange, pair, kind}]
	return snap, ok
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Prune drops entries older than maxAge and returns how many were removed.
func (b *Buffer) Prune(now time.Time, maxAge time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for key, snap := range b.entries {
		if now.Sub(snap.Timestamp) > maxAge {
			delete(b.entries, key)
			removed++
		}
	}
	return removed
}
