package apm

import (
	"testing"

	r "github.com/stretchr/testify/require"
)

func TestSelfTrafficFilter_IsExcluded(t *testing.T) {
	f := NewSelfTrafficFilter([]string{
		"http://apm.internal.test:8200",
		"HTTPS://Collector.Example.com",
	})

	tests := []struct {
		name   string
		target string
		want   bool
	}{
		{"absent target", "", true},
		{"unparseable target", "://nope", true},
		{"no scheme", "example.test/a", true},
		{"collector base", "http://apm.internal.test:8200", true},
		{"collector with path", "http://apm.internal.test:8200/intake/v2/events", true},
		{"collector case-insensitive", "https://collector.example.com/health", true},
		{"different port", "http://apm.internal.test:9200/intake", false},
		{"different scheme", "https://apm.internal.test:8200/intake", false},
		{"ordinary target", "http://example.test/a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r.Equal(t, tt.want, f.IsExcluded(tt.target))
		})
	}
}

func TestSelfTrafficFilter_NoEndpoints(t *testing.T) {
	f := NewSelfTrafficFilter(nil)
	r.False(t, f.IsExcluded("http://example.test/a"))
	r.True(t, f.IsExcluded(""))
}
