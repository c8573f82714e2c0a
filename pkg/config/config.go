package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	NameUnknown = "unknown"

	// transaction / span type tags
	TypeRequest  = "request"
	TypeExternal = "external.http"
)

// for root
var (
	Debug = false
)

// for pkg apm
var (
	// capacity of the in-flight span table; the oldest entry is
	// evicted when full
	MaxNumInFlight = 1024

	// max frames captured per span
	MaxStackFrames = 50

	// in-flight spans older than this are reclaimed by the sweeper
	StaleSpanTTL = time.Minute
)

// for cmd serve
var (
	SweepSpec     = "@every 30s"
	FlushSpec     = "@every 1s"
	ProbeInterval = time.Second
)

// for DB
var (
	// 测试账号
	OUTSPAN_DEFAULT_DSN = "root:@tcp(127.0.0.1:9030)/outspan"
)

// DATETIME(6) 字面量；Time.String() 会截掉末尾的 0，不能用
const FormatDate6 = "2006-01-02 15:04:05.000000"

// Config is the read-only configuration handed to the agent core.
type Config struct {
	// ServerURLs are the collector endpoints; traffic towards them is
	// never traced (self-traffic).
	ServerURLs []string

	// OlapDSN enables the span archive when non-empty.
	OlapDSN string

	MaxNumInFlight int
	MaxStackFrames int
	StaleSpanTTL   time.Duration
}

// New builds a Config from viper, falling back to the package
// defaults. A nil viper yields the defaults (under testing).
func New(vp *viper.Viper) *Config {
	c := &Config{
		MaxNumInFlight: MaxNumInFlight,
		MaxStackFrames: MaxStackFrames,
		StaleSpanTTL:   StaleSpanTTL,
	}
	if vp == nil {
		return c
	}

	c.ServerURLs = vp.GetStringSlice("server-urls")
	c.OlapDSN = vp.GetString("olap-dsn")
	if n := vp.GetInt("max-inflight"); n > 0 {
		c.MaxNumInFlight = n
	}
	if n := vp.GetInt("max-stack-frames"); n > 0 {
		c.MaxStackFrames = n
	}
	if d := vp.GetDuration("stale-span-ttl"); d > 0 {
		c.StaleSpanTTL = d
	}
	return c
}
