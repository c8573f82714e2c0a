package apm

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// pendingSpan is one in-flight operation: the span under construction
// plus the transaction that was active when it started. Completion
// attaches to that transaction, not whichever is active at stop time.
type pendingSpan struct {
	span       *Span
	tx         *Transaction
	insertedAt time.Time
}

// InFlightTable maps live operation handles to their pending spans.
// All methods are safe for concurrent use from arbitrary goroutines
// and complete in bounded time; callers never take locks themselves.
//
// The table is bounded: when full the oldest entry is evicted and
// counted as dropped on its transaction. The original design leaves
// orphaned operations in the table forever; the bound plus the stale
// sweep are a deliberate extension.
type InFlightTable struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *pendingSpan]
	cap     int
	olap    *Archive
}

func NewInFlightTable(capacity int, olap *Archive) *InFlightTable {
	if capacity <= 0 {
		capacity = 1
	}
	// +1 头部余量：淘汰必须走 dropLocked，不让 lru 自己静默淘汰
	entries, _ := lru.New[string, *pendingSpan](capacity + 1)
	return &InFlightTable{
		entries: entries,
		cap:     capacity,
		olap:    olap,
	}
}

// TryInsert stores p under handle. Returns false and keeps the
// original entry if the handle is already live.
func (t *InFlightTable) TryInsert(handle string, p *pendingSpan) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.entries.Contains(handle) {
		return false
	}
	t.entries.Add(handle, p)

	// 满了淘汰最旧项
	if t.entries.Len() > t.cap {
		h, evict, ok := t.entries.RemoveOldest()
		if ok {
			t.dropLocked(h, evict, kExEvicted, "in-flight table full")
		}
	}
	return true
}

// TryRemove atomically removes and returns the entry for handle.
func (t *InFlightTable) TryRemove(handle string) (*pendingSpan, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.entries.Get(handle)
	if !ok {
		return nil, false
	}
	t.entries.Remove(handle)
	return p, true
}

func (t *InFlightTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.Len()
}

// RemoveStale evicts entries inserted more than maxAge before now.
// Keys iterate oldest-first, so the scan stops at the first live
// entry that is young enough.
func (t *InFlightTable) RemoveStale(maxAge time.Duration, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for _, h := range t.entries.Keys() {
		p, ok := t.entries.Peek(h)
		if !ok {
			continue
		}
		if now.Sub(p.insertedAt) < maxAge {
			break
		}
		t.entries.Remove(h)
		t.dropLocked(h, p, kExStale, "no completion within TTL")
		removed++
	}
	return removed
}

func (t *InFlightTable) dropLocked(handle string, p *pendingSpan, reason int, msg string) {
	p.tx.SpanCount.incDropped()
	logrus.Warnf("outspan evicted in-flight span %q (%s %s): %s",
		p.span.Name, p.span.Context.Method, p.span.Context.URL, msg)
	t.olap.AddExSpan(ExSpanEvent{
		reason: reason,
		errMsg: msg,
		handle: handle,
		method: p.span.Context.Method,
		url:    p.span.Context.URL,
	})
}
