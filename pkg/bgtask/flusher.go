package bgtask

import (
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/outspan/outspan/pkg/config"
)

// FlushTask drains the archive's bulk inserters so archived spans
// become visible without waiting for the inserters' own thresholds.
type FlushTask struct {
	m *BgTaskManager
}

func (m *BgTaskManager) addFlushTask() {
	m.bgTasks = append(m.bgTasks, &FlushTask{m: m})
}

func (t *FlushTask) Run() {
	t.m.olap.Flush()
}

func (t *FlushTask) Start() {
	c := cron.New()
	_, err := c.AddJob(config.FlushSpec, t)
	if err != nil {
		logrus.Warn("OutSpan couldn't add flush task")
		return
	}
	c.Start()
}
