package bgtask

import (
	"time"

	"github.com/outspan/outspan/pkg/apm"
)

// BgTaskManager manages background periodical tasks.
// Includes:
// - Sweep stale in-flight spans
// - Flush the span archive
type BgTaskManager struct {
	bgTasks []BgTask
	table   *apm.InFlightTable
	olap    *apm.Archive
}

type BgTask interface {
	Start()
}

func NewBgTaskManager(table *apm.InFlightTable, olap *apm.Archive, ttl time.Duration) *BgTaskManager {
	m := &BgTaskManager{
		bgTasks: make([]BgTask, 0),
		table:   table,
		olap:    olap,
	}
	m.addSweepTask(ttl)
	if olap != nil {
		m.addFlushTask()
	}
	return m
}

func (m *BgTaskManager) StartAll() {
	for _, task := range m.bgTasks {
		task.Start()
	}
}
