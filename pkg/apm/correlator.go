package apm

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"
	"github.com/outspan/outspan/pkg/config"
)

// OperationStart and OperationComplete are the closed set of lifecycle
// event variants emitted by instrumentation sources. The host
// guarantees start-before-complete per handle; nothing is guaranteed
// across handles.

type OperationStart struct {
	// Handle correlates this event with its later completion. It must
	// be unique among concurrently live operations.
	Handle string
	Method string
	URL    string

	// Ctx is the instrumented call's context; the transaction active
	// in it owns the resulting span.
	Ctx context.Context
}

type OperationComplete struct {
	Handle string
	Method string
	URL    string

	// StatusCode is only meaningful when HasResponse is set.
	StatusCode  int
	HasResponse bool

	Ctx context.Context
}

// SpanCorrelator turns lifecycle events into completed spans.
//
// Per handle the states are Unseen -> Started -> Completed; duplicate
// starts keep the original entry, completions without a tracked start
// are dropped with one warning. Every event is treated as untrusted
// input: malformed events are silent no-ops and no failure may reach
// the instrumented call path.
type SpanCorrelator struct {
	table  *InFlightTable
	filter *SelfTrafficFilter
	olap   *Archive

	// scope resolves the active transaction for hosts that cannot
	// thread a context, optional.
	scope *Scope

	clock     clockz.Clock
	maxFrames int
}

func NewSpanCorrelator(cfg *config.Config, table *InFlightTable, filter *SelfTrafficFilter, olap *Archive) *SpanCorrelator {
	return &SpanCorrelator{
		table:     table,
		filter:    filter,
		olap:      olap,
		clock:     clockz.RealClock,
		maxFrames: cfg.MaxStackFrames,
	}
}

// WithClock swaps the clock, for deterministic offsets under testing.
func (c *SpanCorrelator) WithClock(clock clockz.Clock) *SpanCorrelator {
	c.clock = clock
	return c
}

// BindScope attaches a per-flow scope consulted when the event context
// carries no transaction.
func (c *SpanCorrelator) BindScope(s *Scope) *SpanCorrelator {
	c.scope = s
	return c
}

// ConsumeStart handles a start-shaped event. Precondition failures
// (no handle, no recognizable method+target, self-traffic, no active
// transaction) leave the state machine untouched.
func (c *SpanCorrelator) ConsumeStart(ev *OperationStart) {
	defer guard("ConsumeStart")

	if ev == nil || ev.Handle == "" || ev.Method == "" || ev.URL == "" {
		// malformed events are routine, not even worth a log
		return
	}
	if c.filter.IsExcluded(ev.URL) {
		return
	}
	tx := c.activeTransaction(ev.Ctx)
	if tx == nil || tx.Ended() {
		return
	}

	now := c.clock.Now()
	span := newSpan(tx, ev.Method, ev.URL, now)
	// stack capture is paid once, at start
	span.Stacktrace = CaptureStacktrace(1, c.maxFrames)

	if c.table.TryInsert(ev.Handle, &pendingSpan{span: span, tx: tx, insertedAt: now}) {
		tx.SpanCount.incStarted()
	}
	// duplicate start: the original entry wins
}

// ConsumeComplete handles a stop-shaped event. A hit finishes the
// pending span and attaches it to the transaction that was active at
// start; a miss (orphan or duplicate completion) logs exactly one
// warning and mutates nothing.
func (c *SpanCorrelator) ConsumeComplete(ev *OperationComplete) {
	defer guard("ConsumeComplete")

	if ev == nil || ev.Handle == "" {
		return
	}

	p, ok := c.table.TryRemove(ev.Handle)
	if !ok {
		method, target := ev.Method, ev.URL
		if method == "" {
			method = config.NameUnknown
		}
		if target == "" {
			target = config.NameUnknown
		}
		logrus.Warnf("outspan saw a completion with no tracked start: %s %s", method, target)
		c.olap.AddExSpan(ExSpanEvent{
			reason: kExOrphanComplete,
			errMsg: "completion without tracked start",
			handle: ev.Handle,
			method: method,
			url:    target,
		})
		return
	}

	span := p.span
	// both offsets share the owning transaction's time origin
	span.Duration = durationMs(c.clock.Now().Sub(p.tx.Timestamp)) - span.Start
	if span.Duration < 0 {
		span.Duration = 0
	}
	if ev.HasResponse {
		span.Context.StatusCode = ev.StatusCode
	}
	p.tx.appendSpan(span)
}

func (c *SpanCorrelator) activeTransaction(ctx context.Context) *Transaction {
	if tx := TransactionFromContext(ctx); tx != nil {
		return tx
	}
	if c.scope != nil {
		return c.scope.GetActive()
	}
	return nil
}

// guard keeps instrumentation fail-safe: no panic may escape into the
// host's call path.
func guard(op string) {
	if r := recover(); r != nil {
		logrus.Warnf("outspan recovered in %s: %v", op, r)
	}
}
