package apm

import (
	"net/url"
	"strings"
)

// SelfTrafficFilter classifies outbound targets that point at the
// monitoring backend itself. Tracing the agent's own uploads would
// feed spans back into the collector without bound, so these targets
// are excluded before the correlator does any work.
type SelfTrafficFilter struct {
	bases map[string]struct{}
}

func NewSelfTrafficFilter(serverURLs []string) *SelfTrafficFilter {
	f := &SelfTrafficFilter{bases: make(map[string]struct{}, len(serverURLs))}
	for _, raw := range serverURLs {
		if base, ok := baseOf(raw); ok {
			f.bases[base] = struct{}{}
		}
	}
	return f
}

// IsExcluded reports whether target must not be traced: absent or
// unparseable targets (nothing to trace), and targets whose base
// matches a configured collector endpoint.
func (f *SelfTrafficFilter) IsExcluded(target string) bool {
	if target == "" {
		return true
	}
	base, ok := baseOf(target)
	if !ok {
		return true
	}
	_, hit := f.bases[base]
	return hit
}

// baseOf reduces a URL to scheme://host[:port], lowercased.
func baseOf(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}
