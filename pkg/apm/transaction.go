package apm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"github.com/outspan/outspan/pkg/config"
)

// SpanCount aggregates per-transaction span counters, used for
// completeness checks against the archive.
type SpanCount struct {
	started atomic.Uint32
	dropped atomic.Uint32
}

func (c *SpanCount) Started() uint32 { return c.started.Load() }
func (c *SpanCount) Dropped() uint32 { return c.dropped.Load() }

func (c *SpanCount) incStarted() { c.started.Add(1) }
func (c *SpanCount) incDropped() { c.dropped.Add(1) }

// Transaction is the top-level traced unit of work, e.g. one inbound
// request. Its Timestamp is the time origin for all child spans.
// Spans attach in completion order. After End the transaction belongs
// to the reporter and must not be mutated.
type Transaction struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Type      string    `db:"type"`
	Result    string    `db:"result"`
	Timestamp time.Time `db:"timestamp"`

	// Duration in fractional milliseconds, set by End.
	Duration float64 `db:"duration"`

	SpanCount SpanCount

	muSpan sync.Mutex
	spans  []*Span
	ended  atomic.Bool
}

func NewTransaction(name string, typ string, now time.Time) *Transaction {
	if name == "" {
		name = config.NameUnknown
	}
	if typ == "" {
		typ = config.TypeRequest
	}
	return &Transaction{
		ID:        xid.New().String(),
		Name:      name,
		Type:      typ,
		Timestamp: now,
		spans:     make([]*Span, 0),
	}
}

// appendSpan attaches a completed span. Completions that race past the
// end of their transaction are dropped, the flushed transaction is
// read-only by then. The ended check and the append happen under
// muSpan, so no span can slip in once end has flipped the flag.
func (tx *Transaction) appendSpan(s *Span) {
	tx.muSpan.Lock()
	if tx.ended.Load() {
		tx.muSpan.Unlock()
		tx.SpanCount.incDropped()
		logrus.Warnf("outspan dropped span %q completed after its transaction %s ended", s.Name, tx.ID)
		return
	}
	tx.spans = append(tx.spans, s)
	tx.muSpan.Unlock()
}

// Spans returns the attached spans in completion order.
func (tx *Transaction) Spans() []*Span {
	tx.muSpan.Lock()
	defer tx.muSpan.Unlock()
	out := make([]*Span, len(tx.spans))
	copy(out, tx.spans)
	return out
}

func (tx *Transaction) end(result string, now time.Time) {
	tx.muSpan.Lock()
	tx.Result = result
	tx.Duration = durationMs(now.Sub(tx.Timestamp))
	tx.ended.Store(true)
	tx.muSpan.Unlock()
}

// Ended reports whether the transaction has been closed and flushed.
func (tx *Transaction) Ended() bool {
	return tx.ended.Load()
}
