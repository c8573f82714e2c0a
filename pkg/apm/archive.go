package apm

import (
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/outspan/outspan/pkg/config"
)

const (
	kExUnknownProblem = iota
	kExOrphanComplete
	kExEvicted
	kExStale
)

// ExSpanEvent stands for an exceptional span event: an orphaned
// completion or an eviction from the in-flight table.
type ExSpanEvent struct {
	reason int
	errMsg string
	handle string
	method string
	url    string
}

// Archive persists completed transactions and their spans to the OLAP
// store through bulk inserters. A nil *Archive is a valid no-op sink
// (under testing, or when no DSN is configured).
type Archive struct {
	conn         sqlx.SqlConn
	txInserter   *sqlx.BulkInserter
	spanInserter *sqlx.BulkInserter

	// 异常 span 事件列表，目前认为异常概率小
	muEx  sync.Mutex
	arrEx []ExSpanEvent
}

func NewArchive(dsn string) *Archive {
	if dsn == "" {
		dsn = config.OUTSPAN_DEFAULT_DSN
	}

	db := sqlx.NewMysql(dsn)

	if err := CreateTransactionTable(db); err != nil {
		logrus.WithError(err).Error("OutSpan couldn't create table t_Transaction")
		return nil
	}
	txInserter, err := NewTransactionInserter(db)
	if err != nil {
		logrus.WithError(err).Error("OutSpan couldn't open table t_Transaction")
		return nil
	}

	if err := CreateSpanTable(db); err != nil {
		logrus.WithError(err).Error("OutSpan couldn't create table t_Span")
		return nil
	}
	spanInserter, err := NewSpanInserter(db)
	if err != nil {
		logrus.WithError(err).Error("OutSpan couldn't open table t_Span")
		return nil
	}

	return &Archive{
		conn:         db,
		txInserter:   txInserter,
		spanInserter: spanInserter,
	}
}

// DB

func CreateTransactionTable(db sqlx.SqlConn) error {
	_, err := db.Exec("CREATE TABLE IF NOT EXISTS `t_Transaction` " +
		"(id CHAR(20), " + // len(xid)
		"name VARCHAR(1024), " +
		"type VARCHAR(64), " +
		"result VARCHAR(64), " +
		"timestamp DATETIME(6), " +
		"duration DOUBLE, " +
		"spans_started INT, " +
		"spans_dropped INT);")
	return err
}

func NewTransactionInserter(db sqlx.SqlConn) (*sqlx.BulkInserter, error) {
	return sqlx.NewBulkInserter(db, "INSERT INTO `t_Transaction` "+
		"(id, "+
		"name, "+
		"type, "+
		"result, "+
		"timestamp, "+
		"duration, "+
		"spans_started, "+
		"spans_dropped) "+
		"VALUES (?,?,?,?,?,?,?,?)")
}

func CreateSpanTable(db sqlx.SqlConn) error {
	_, err := db.Exec("CREATE TABLE IF NOT EXISTS `t_Span` " +
		"(id CHAR(20), " +
		"transaction_id CHAR(20), " +
		"name VARCHAR(1024), " +
		"type VARCHAR(64), " +
		"start DOUBLE, " + // ms offset from the transaction timestamp
		"duration DOUBLE, " +
		"url VARCHAR(2048), " +
		"method VARCHAR(16), " +
		"status_code INT);")
	return err
}

func NewSpanInserter(db sqlx.SqlConn) (*sqlx.BulkInserter, error) {
	return sqlx.NewBulkInserter(db, "INSERT INTO `t_Span` "+
		"(id, "+
		"transaction_id, "+
		"name, "+
		"type, "+
		"start, "+
		"duration, "+
		"url, "+
		"method, "+
		"status_code) "+
		"VALUES (?,?,?,?,?,?,?,?,?)")
}

// date6 renders t as a MySQL DATETIME(6) literal with all six
// fractional digits, whole-second timestamps included.
func date6(t time.Time) string {
	return t.Format(config.FormatDate6)
}

// InsertTransaction archives a closed transaction with its spans.
func (o *Archive) InsertTransaction(tx *Transaction) {
	if o == nil || tx == nil {
		return
	}

	err := o.txInserter.Insert(
		tx.ID,
		tx.Name,
		tx.Type,
		tx.Result,
		date6(tx.Timestamp),
		tx.Duration,
		tx.SpanCount.Started(),
		tx.SpanCount.Dropped())
	if err != nil {
		logrus.WithError(err).WithField("transaction", tx.ID).Warn("OutSpan couldn't insert into t_Transaction")
	}

	for _, s := range tx.Spans() {
		err = o.spanInserter.Insert(
			s.ID,
			s.TransactionID,
			s.Name,
			s.Type,
			s.Start,
			s.Duration,
			s.Context.URL,
			s.Context.Method,
			s.Context.StatusCode)
		if err != nil {
			logrus.WithError(err).WithField("span", s.ID).Warn("OutSpan couldn't insert into t_Span")
		}
	}
}

// AddExSpan records an exceptional span event. Safe on a nil archive;
// the event still lands in the exceptional-event log file.
func (o *Archive) AddExSpan(ev ExSpanEvent) {
	config.Log4ExSpan.WithFields(logrus.Fields{
		"reason": ev.reason,
		"handle": ev.handle,
		"method": ev.method,
		"url":    ev.url,
	}).Debug(ev.errMsg)

	if o == nil {
		return
	}
	o.muEx.Lock()
	o.arrEx = append(o.arrEx, ev)
	o.muEx.Unlock()
}

func (o *Archive) Flush() {
	if o == nil {
		return
	}
	o.txInserter.Flush()
	o.spanInserter.Flush()
}

func (o *Archive) Summary() {
	if o == nil {
		return
	}
	o.muEx.Lock()
	defer o.muEx.Unlock()

	if len(o.arrEx) == 0 {
		logrus.Info("OutSpan found no exceptional span events")
		return
	}
	logrus.Infof("OutSpan found %d exceptional span events:", len(o.arrEx))
	for _, ev := range o.arrEx {
		logrus.Infof("%+v", ev)
	}
}

// countSpans 查询某一 transaction 下已归档的 span 数量
func (o *Archive) countSpans(transactionID string) int {
	if o == nil {
		return -1
	}
	var count int
	err := o.conn.QueryRow(&count, "SELECT COUNT(*) FROM `t_Span` WHERE transaction_id = ?", transactionID)
	if err != nil {
		logrus.WithError(err).Warn("OutSpan couldn't select t_Span")
	}
	return count
}

// CheckSpansCount reports whether the archived span count for tx has
// fallen behind the spans attached in memory.
func (o *Archive) CheckSpansCount(tx *Transaction) bool {
	if o == nil || tx == nil {
		return false
	}
	return o.countSpans(tx.ID) != len(tx.Spans())
}
