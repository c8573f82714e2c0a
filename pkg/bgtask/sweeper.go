package bgtask

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/outspan/outspan/pkg/config"
)

// SweepTask reclaims in-flight spans whose completion never arrived.
// Without it an operation that never completes would hold its table
// entry forever.
type SweepTask struct {
	m   *BgTaskManager
	ttl time.Duration
}

func (m *BgTaskManager) addSweepTask(ttl time.Duration) {
	if ttl <= 0 {
		ttl = config.StaleSpanTTL
	}
	m.bgTasks = append(m.bgTasks, &SweepTask{
		m:   m,
		ttl: ttl,
	})
}

func (t *SweepTask) Run() {
	n := t.m.table.RemoveStale(t.ttl, time.Now())
	if n > 0 {
		logrus.Infof("OutSpan reclaimed %d stale in-flight spans", n)
	}
}

func (t *SweepTask) Start() {
	c := cron.New()
	_, err := c.AddJob(config.SweepSpec, t)
	if err != nil {
		logrus.Warn("OutSpan couldn't add sweep task")
		return
	}
	c.Start()
}
