package apm

import (
	"testing"
	"time"

	r "github.com/stretchr/testify/require"
)

func TestDate6(t *testing.T) {
	// DATETIME(6) wants all six fractional digits; a trimmed literal
	// makes the insert fail and silently loses the row
	tests := []struct {
		name string
		ts   time.Time
		want string
	}{
		{
			"whole second",
			time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC),
			"2026-08-23 10:00:00.000000",
		},
		{
			"millisecond clock",
			time.Date(2026, 8, 23, 10, 0, 0, 123_000_000, time.UTC),
			"2026-08-23 10:00:00.123000",
		},
		{
			"full precision",
			time.Date(2026, 8, 23, 10, 0, 0, 123_456_789, time.UTC),
			"2026-08-23 10:00:00.123456",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r.Equal(t, tt.want, date6(tt.ts))
		})
	}
}

func TestArchive_NilIsNoOpSink(t *testing.T) {
	var o *Archive

	tx := NewTransaction("txn", "", time.Now())
	o.InsertTransaction(tx)
	o.AddExSpan(ExSpanEvent{reason: kExUnknownProblem, errMsg: "nothing"})
	o.Flush()
	o.Summary()
	r.False(t, o.CheckSpansCount(tx))
	r.Equal(t, -1, o.countSpans(tx.ID))
}
