package apm

import (
	"net/url"
	"time"

	"github.com/rs/xid"
	"github.com/outspan/outspan/pkg/config"
)

// Frame describes one captured stack frame. Fields follow the usual
// collector schema: function, declaring module (import path), file.
type Frame struct {
	Function string
	Module   string
	File     string
	Line     int
}

// SpanContext carries the operation-specific metadata of an outbound
// HTTP call. StatusCode stays zero unless a response was observed.
type SpanContext struct {
	URL        string `db:"url"`
	Method     string `db:"method"`
	StatusCode int    `db:"status_code"`
}

// Span is one timed sub-operation of a transaction.
//
// Start is the offset from the owning transaction's Timestamp in
// fractional milliseconds, fixed at start-event time. Duration is
// computed at completion as (completion offset - Start) and is never
// negative. A span is attached to its transaction exactly once, at
// completion, and is immutable afterwards.
type Span struct {
	ID            string  `db:"id"`
	TransactionID string  `db:"transaction_id"`
	Name          string  `db:"name"`
	Type          string  `db:"type"`
	Start         float64 `db:"start"`
	Duration      float64 `db:"duration"`

	Context SpanContext

	Stacktrace []Frame
}

func newSpan(tx *Transaction, method string, rawURL string, now time.Time) *Span {
	return &Span{
		ID:            xid.New().String(),
		TransactionID: tx.ID,
		Name:          spanName(method, rawURL),
		Type:          config.TypeExternal,
		Start:         durationMs(now.Sub(tx.Timestamp)),
		Context: SpanContext{
			URL:    rawURL,
			Method: method,
		},
	}
}

// SpanName = {{method}} {{host}}
func spanName(method string, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return method + " " + config.NameUnknown
	}
	return method + " " + u.Host
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
