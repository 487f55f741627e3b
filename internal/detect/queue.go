package detect

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

// Queue is a bounded, deduplicating priority queue of live opportunities.
// Re-detecting an ID updates the existing entry in place. When the queue is
// full, inserting a higher-priority opportunity evicts the lowest-priority
// one; a lower-priority insert is dropped.
type Queue struct {
	mu       sync.Mutex
	capacity int
	heap     oppHeap
	index    map[string]*oppItem
}

// NewQueue creates a Queue holding at most capacity opportunities.
func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		index:    make(map[string]*oppItem),
	}
}

// Upsert inserts an opportunity or refreshes the entry with its ID. It
// reports whether the opportunity is in the queue afterwards.
func (q *Queue) Upsert(opp domain.Opportunity) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item, ok := q.index[opp.ID]; ok {
		item.opp = opp
		heap.Fix(&q.heap, item.pos)
		return true
	}

	if q.capacity > 0 && len(q.heap) >= q.capacity {
		lowest := q.heap[0]
		if opp.PriorityScore <= lowest.opp.PriorityScore {
			return false
		}
		heap.Pop(&q.heap)
		delete(q.index, lowest.opp.ID)
	}

	item := &oppItem{opp: opp}
	heap.Push(&q.heap, item)
	q.index[opp.ID] = item
	return true
}

// Get returns the queued opportunity with the given ID.
func (q *Queue) Get(id string) (domain.Opportunity, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.index[id]
	if !ok {
		return domain.Opportunity{}, false
	}
	return item.opp, true
}

// Remove deletes the opportunity with the given ID.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.index[id]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, item.pos)
	delete(q.index, id)
	return true
}

// Snapshot returns all queued opportunities ordered highest priority first.
func (q *Queue) Snapshot() []domain.Opportunity {
	q.mu.Lock()
	out := make([]domain.Opportunity, len(q.heap))
	for i, item := range q.heap {
		out[i] = item.opp
	}
	q.mu.Unlock()

	// Min-heap order is not priority order; sort descending.
	sort.Slice(out, func(i, j int) bool {
		return out[i].PriorityScore > out[j].PriorityScore
	})
	return out
}

// Rescore recomputes every queued entry's priority with fn and restores heap
// order. Run once per cycle so aging entries decay instead of holding their
// detection-time rank against fresher inserts.
func (q *Queue) Rescore(fn func(domain.Opportunity) float64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.heap {
		item.opp.PriorityScore = fn(item.opp)
	}
	heap.Init(&q.heap)
}

// Len returns the number of queued opportunities.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// SweepExpired removes opportunities past their expiry and returns them.
func (q *Queue) SweepExpired(now time.Time) []domain.Opportunity {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []domain.Opportunity
	for i := 0; i < len(q.heap); {
		if q.heap[i].opp.Expired(now) {
			item := q.heap[i]
			heap.Remove(&q.heap, i)
			delete(q.index, item.opp.ID)
			expired = append(expired, item.opp)
			continue
		}
		i++
	}
	return expired
}

// oppItem is a heap entry tracking its own position for heap.Fix.
type oppItem struct {
	opp domain.Opportunity
	pos int
}

// oppHeap is a min-heap by priority score, so the root is the eviction
// candidate.
type oppHeap []*oppItem

func (h oppHeap) Len() int           { return len(h) }
func (h oppHeap) Less(i, j int) bool { return h[i].opp.PriorityScore < h[j].opp.PriorityScore }
func (h oppHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].pos = i; h[j].pos = j }
func (h *oppHeap) Push(x interface{}) {
	item := x.(*oppItem)
	item.pos = len(*h)
	*h = append(*h, item)
}
func (h *oppHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
