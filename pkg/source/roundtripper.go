// Package source contains instrumentation sources: adapters that hook
// a host surface and emit the operation lifecycle events consumed by
// the correlator.
package source

import (
	"net/http"

	"github.com/rs/xid"
	"github.com/outspan/outspan/pkg/apm"
)

// Transport instruments an http.RoundTripper. Each outbound request
// gets a fresh handle, so concurrent calls with the same method and
// target never collide; the start event is always emitted before the
// completion event for the same handle.
type Transport struct {
	base       http.RoundTripper
	correlator *apm.SpanCorrelator
}

func NewTransport(correlator *apm.SpanCorrelator, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:       base,
		correlator: correlator,
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	handle := xid.New().String()

	t.correlator.ConsumeStart(&apm.OperationStart{
		Handle: handle,
		Method: req.Method,
		URL:    req.URL.String(),
		Ctx:    req.Context(),
	})

	resp, err := t.base.RoundTrip(req)

	complete := &apm.OperationComplete{
		Handle: handle,
		Method: req.Method,
		URL:    req.URL.String(),
		Ctx:    req.Context(),
	}
	if resp != nil {
		complete.StatusCode = resp.StatusCode
		complete.HasResponse = true
	}
	t.correlator.ConsumeComplete(complete)

	return resp, err
}

// NewClient returns an http.Client whose outbound calls are traced.
func NewClient(correlator *apm.SpanCorrelator) *http.Client {
	return &http.Client{
		Transport: NewTransport(correlator, nil),
	}
}
