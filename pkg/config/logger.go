package config

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// for Log

func initLogrus(_ *viper.Viper) {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		TimestampFormat: time.DateTime,
	})
	if Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func initLog4(path string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	tmpLog, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		panic(err)
	}
	// defer tmpLog.Close()
	logger.SetOutput(tmpLog)
	return logger
}

const (
	PathExSpan = "/tmp/outspan_ex_span.log.json"
)

var (
	// 异常 span 事件（孤儿完成、淘汰）落盘
	Log4ExSpan = initLog4(PathExSpan)
)

func init() {
	initLogrus(nil)

	Log4ExSpan.SetLevel(logrus.DebugLevel)
}
