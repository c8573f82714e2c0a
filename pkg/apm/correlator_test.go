package apm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	r "github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
	"github.com/outspan/outspan/pkg/config"
)

// mockers

func mockNewCorrelator(clock clockz.Clock, serverURLs ...string) *SpanCorrelator {
	cfg := config.New(nil)
	table := NewInFlightTable(cfg.MaxNumInFlight, nil)
	c := NewSpanCorrelator(cfg, table, NewSelfTrafficFilter(serverURLs), nil)
	if clock != nil {
		c.WithClock(clock)
	}
	return c
}

func mockStart(handle string, ctx context.Context) *OperationStart {
	return &OperationStart{
		Handle: handle,
		Method: "GET",
		URL:    "http://example.test/a",
		Ctx:    ctx,
	}
}

func mockComplete(handle string, status int, ctx context.Context) *OperationComplete {
	return &OperationComplete{
		Handle:      handle,
		Method:      "GET",
		URL:         "http://example.test/a",
		StatusCode:  status,
		HasResponse: true,
		Ctx:         ctx,
	}
}

func countWarnings(hook *test.Hook) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			n++
		}
	}
	return n
}

const handle1 = "00000000-0000-0000-0000-000000000001"

func TestCorrelator_StartThenComplete(t *testing.T) {
	// the end-to-end timing scenario: start at t0+10ms, complete at
	// t0+35ms with a 200 response
	clock := clockz.NewFakeClock()
	c := mockNewCorrelator(clock)

	tx := NewTransaction("GET /orders", config.TypeRequest, clock.Now())
	ctx := ContextWithTransaction(context.Background(), tx)

	clock.Advance(10 * time.Millisecond)
	c.ConsumeStart(mockStart(handle1, ctx))
	r.Equal(t, 1, c.table.Len())
	r.Equal(t, uint32(1), tx.SpanCount.Started())
	r.Empty(t, tx.Spans())

	clock.Advance(25 * time.Millisecond)
	c.ConsumeComplete(mockComplete(handle1, 200, ctx))
	r.Equal(t, 0, c.table.Len())

	spans := tx.Spans()
	r.Len(t, spans, 1)
	span := spans[0]
	r.Equal(t, "GET example.test", span.Name)
	r.Equal(t, config.TypeExternal, span.Type)
	r.Equal(t, tx.ID, span.TransactionID)
	r.InDelta(t, 10.0, span.Start, 0.001)
	r.InDelta(t, 25.0, span.Duration, 0.001)
	r.Equal(t, "http://example.test/a", span.Context.URL)
	r.Equal(t, "GET", span.Context.Method)
	r.Equal(t, 200, span.Context.StatusCode)
}

func TestCorrelator_OrphanComplete(t *testing.T) {
	// completion without a tracked start: one warning, no mutation
	hook := test.NewGlobal()
	defer hook.Reset()

	clock := clockz.NewFakeClock()
	c := mockNewCorrelator(clock)

	tx := NewTransaction("txn", "", clock.Now())
	ctx := ContextWithTransaction(context.Background(), tx)

	c.ConsumeComplete(mockComplete(handle1, 200, ctx))

	r.Empty(t, tx.Spans())
	r.Equal(t, 0, c.table.Len())
	r.Equal(t, 1, countWarnings(hook))
}

func TestCorrelator_DuplicateStart(t *testing.T) {
	// the second start for a live handle is a no-op, the original
	// entry and its offset win
	clock := clockz.NewFakeClock()
	c := mockNewCorrelator(clock)

	tx := NewTransaction("txn", "", clock.Now())
	ctx := ContextWithTransaction(context.Background(), tx)

	clock.Advance(5 * time.Millisecond)
	c.ConsumeStart(mockStart(handle1, ctx))
	clock.Advance(5 * time.Millisecond)
	c.ConsumeStart(mockStart(handle1, ctx))

	r.Equal(t, 1, c.table.Len())
	r.Equal(t, uint32(1), tx.SpanCount.Started())

	c.ConsumeComplete(mockComplete(handle1, 204, ctx))
	spans := tx.Spans()
	r.Len(t, spans, 1)
	r.InDelta(t, 5.0, spans[0].Start, 0.001)
}

func TestCorrelator_DuplicateComplete(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	clock := clockz.NewFakeClock()
	c := mockNewCorrelator(clock)

	tx := NewTransaction("txn", "", clock.Now())
	ctx := ContextWithTransaction(context.Background(), tx)

	c.ConsumeStart(mockStart(handle1, ctx))
	c.ConsumeComplete(mockComplete(handle1, 200, ctx))
	c.ConsumeComplete(mockComplete(handle1, 200, ctx))

	r.Len(t, tx.Spans(), 1)
	r.Equal(t, 1, countWarnings(hook))
}

func TestCorrelator_MalformedEvents(t *testing.T) {
	// malformed events are silent no-ops: no span, no log, no panic
	hook := test.NewGlobal()
	defer hook.Reset()

	clock := clockz.NewFakeClock()
	c := mockNewCorrelator(clock)

	tx := NewTransaction("txn", "", clock.Now())
	ctx := ContextWithTransaction(context.Background(), tx)

	c.ConsumeStart(nil)
	c.ConsumeStart(&OperationStart{Handle: "", Method: "GET", URL: "http://x.test", Ctx: ctx})
	c.ConsumeStart(&OperationStart{Handle: "h", Method: "", URL: "http://x.test", Ctx: ctx})
	c.ConsumeStart(&OperationStart{Handle: "h", Method: "GET", URL: "", Ctx: ctx})
	c.ConsumeComplete(nil)
	c.ConsumeComplete(&OperationComplete{Handle: "", Ctx: ctx})

	r.Empty(t, tx.Spans())
	r.Equal(t, 0, c.table.Len())
	r.Equal(t, uint32(0), tx.SpanCount.Started())
	r.Empty(t, hook.AllEntries())
}

func TestCorrelator_SelfTraffic(t *testing.T) {
	// targets matching a collector endpoint are never traced
	clock := clockz.NewFakeClock()
	c := mockNewCorrelator(clock, "http://apm.internal.test:8200")

	tx := NewTransaction("txn", "", clock.Now())
	ctx := ContextWithTransaction(context.Background(), tx)

	c.ConsumeStart(&OperationStart{
		Handle: handle1,
		Method: "POST",
		URL:    "http://apm.internal.test:8200/intake/v2/events",
		Ctx:    ctx,
	})

	r.Equal(t, 0, c.table.Len())
	r.Equal(t, uint32(0), tx.SpanCount.Started())
	r.Empty(t, tx.Spans())
}

func TestCorrelator_NoActiveTransaction(t *testing.T) {
	clock := clockz.NewFakeClock()
	c := mockNewCorrelator(clock)

	c.ConsumeStart(mockStart(handle1, context.Background()))
	c.ConsumeStart(mockStart(handle1, nil))

	r.Equal(t, 0, c.table.Len())
}

func TestCorrelator_ScopeFallback(t *testing.T) {
	// callback-style hosts resolve the transaction through the scope
	clock := clockz.NewFakeClock()
	c := mockNewCorrelator(clock)

	scope := NewScope()
	c.BindScope(scope)

	tx := NewTransaction("txn", "", clock.Now())
	scope.SetActive(tx)
	defer scope.Clear()

	c.ConsumeStart(mockStart(handle1, context.Background()))
	c.ConsumeComplete(mockComplete(handle1, 200, context.Background()))

	r.Len(t, tx.Spans(), 1)
}

func TestCorrelator_SpanOwnedByStartTransaction(t *testing.T) {
	// overlapping flows: the span belongs to the transaction active at
	// start, not the one active at completion
	clock := clockz.NewFakeClock()
	c := mockNewCorrelator(clock)

	tx1 := NewTransaction("txn-1", "", clock.Now())
	tx2 := NewTransaction("txn-2", "", clock.Now())
	ctx1 := ContextWithTransaction(context.Background(), tx1)
	ctx2 := ContextWithTransaction(context.Background(), tx2)

	c.ConsumeStart(mockStart(handle1, ctx1))
	c.ConsumeComplete(mockComplete(handle1, 200, ctx2))

	r.Len(t, tx1.Spans(), 1)
	r.Empty(t, tx2.Spans())
}

func TestCorrelator_ConcurrentPairs(t *testing.T) {
	// N independent start/complete pairs across goroutines: exactly N
	// spans, none lost, none duplicated
	const numPairs = 200

	c := mockNewCorrelator(nil)
	tx := NewTransaction("txn", "", time.Now())
	ctx := ContextWithTransaction(context.Background(), tx)

	var wg sync.WaitGroup
	wg.Add(numPairs)
	for i := 0; i < numPairs; i++ {
		go func(i int) {
			defer wg.Done()
			h := fmt.Sprintf("handle-%d", i)
			c.ConsumeStart(mockStart(h, ctx))
			c.ConsumeComplete(mockComplete(h, 200, ctx))
		}(i)
	}
	wg.Wait()

	spans := tx.Spans()
	r.Len(t, spans, numPairs)
	r.Equal(t, uint32(numPairs), tx.SpanCount.Started())
	r.Equal(t, 0, c.table.Len())

	seen := make(map[string]struct{}, numPairs)
	for _, s := range spans {
		_, dup := seen[s.ID]
		r.False(t, dup)
		seen[s.ID] = struct{}{}
		r.GreaterOrEqual(t, s.Duration, 0.0)
	}
}

func TestCorrelator_StacktraceAttached(t *testing.T) {
	clock := clockz.NewFakeClock()
	c := mockNewCorrelator(clock)

	tx := NewTransaction("txn", "", clock.Now())
	ctx := ContextWithTransaction(context.Background(), tx)

	c.ConsumeStart(mockStart(handle1, ctx))
	c.ConsumeComplete(mockComplete(handle1, 200, ctx))

	spans := tx.Spans()
	r.Len(t, spans, 1)
	r.NotEmpty(t, spans[0].Stacktrace)
	for _, f := range spans[0].Stacktrace {
		r.NotEmpty(t, f.Function)
		r.NotEmpty(t, f.File)
	}
}
