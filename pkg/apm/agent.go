package apm

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"
	"github.com/outspan/outspan/pkg/config"
)

// Agent wires the correlation core to its collaborators and receives
// the host's unit-of-work lifecycle signals.
type Agent struct {
	cfg        *config.Config
	correlator *SpanCorrelator
	table      *InFlightTable
	filter     *SelfTrafficFilter
	reporter   Reporter
	olap       *Archive

	clock clockz.Clock
	numTx atomic.Int64

	ShutdownCtx context.Context
}

// NewAgent builds the core from a read-only config. The archive is
// only opened when a DSN is configured; everything else degrades to
// logging, never to errors on the host's path.
func NewAgent(cfg *config.Config, reporter Reporter) *Agent {
	var olap *Archive
	if cfg.OlapDSN != "" {
		olap = NewArchive(cfg.OlapDSN)
	}

	filter := NewSelfTrafficFilter(cfg.ServerURLs)
	table := NewInFlightTable(cfg.MaxNumInFlight, olap)

	return &Agent{
		cfg:         cfg,
		correlator:  NewSpanCorrelator(cfg, table, filter, olap),
		table:       table,
		filter:      filter,
		reporter:    reporter,
		olap:        olap,
		clock:       clockz.RealClock,
		ShutdownCtx: context.Background(),
	}
}

// WithClock swaps the clock on the agent and its correlator, for
// deterministic testing.
func (a *Agent) WithClock(clock clockz.Clock) *Agent {
	a.clock = clock
	a.correlator.WithClock(clock)
	return a
}

func (a *Agent) Correlator() *SpanCorrelator { return a.correlator }
func (a *Agent) Table() *InFlightTable       { return a.table }
func (a *Agent) Olap() *Archive              { return a.olap }

// StartTransaction creates a transaction and activates it on the
// returned context. The caller owns the transaction until it ends.
func (a *Agent) StartTransaction(ctx context.Context, name string, typ string) (context.Context, *Transaction) {
	tx := NewTransaction(name, typ, a.clock.Now())
	a.numTx.Add(1)
	logrus.Debugf("outspan started transaction %s (%s)", tx.ID, tx.Name)
	return ContextWithTransaction(ctx, tx), tx
}

// EndTransaction closes tx and hands it to the reporter and archive.
// Ending twice is a no-op.
func (a *Agent) EndTransaction(tx *Transaction, result string) {
	defer guard("EndTransaction")

	if tx == nil || tx.Ended() {
		return
	}
	tx.end(result, a.clock.Now())

	logrus.Debugf("outspan ended transaction %s: %d spans attached, %d started, %d dropped",
		tx.ID, len(tx.Spans()), tx.SpanCount.Started(), tx.SpanCount.Dropped())

	a.reporter.Report(a.ShutdownCtx, tx)
	a.olap.InsertTransaction(tx)
}

// NumTransactions counts transactions started since boot.
func (a *Agent) NumTransactions() int64 {
	return a.numTx.Load()
}
