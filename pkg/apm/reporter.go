package apm

import (
	"context"
	"fmt"
	"sort"
	"time"

	attr "go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktr "go.opentelemetry.io/otel/sdk/trace"
	tr "go.opentelemetry.io/otel/trace"
)

// Reporter accepts a completed transaction for asynchronous delivery
// to the collector. Implementations must not block the caller; the
// core never inspects delivery success or failure.
type Reporter interface {
	Report(ctx context.Context, tx *Transaction)
}

// otelReporter re-emits a closed transaction as an OTel trace: one
// root span for the transaction, one child per captured span, all with
// explicit timestamps reconstructed from the stored offsets. Delivery
// runs on the SDK batcher, off the caller's path.
type otelReporter struct {
	provider *sdktr.TracerProvider
	tracer   tr.Tracer
}

func NewOTLPReporter(shutdownCtx context.Context) (Reporter, func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(shutdownCtx)
	if err != nil {
		return nil, nil, fmt.Errorf("creating gRPC exporter: %w", err)
	}

	provider := sdktr.NewTracerProvider(
		sdktr.WithBatcher(exporter),
		sdktr.WithResource(resource.Empty()))

	return newOTelReporter(provider), provider.Shutdown, nil
}

func NewStdoutReporter() (Reporter, func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("creating stdout exporter: %w", err)
	}

	provider := sdktr.NewTracerProvider(
		sdktr.WithBatcher(exporter),
		sdktr.WithResource(resource.Empty()))

	return newOTelReporter(provider), provider.Shutdown, nil
}

// NewDummyReporter only for testing purposes
func NewDummyReporter() (Reporter, func(context.Context) error, error) {
	provider := sdktr.NewTracerProvider(
		sdktr.WithResource(resource.NewSchemaless(attr.Bool("debug", true))),
	)
	return newOTelReporter(provider), provider.Shutdown, nil
}

func newOTelReporter(provider *sdktr.TracerProvider) *otelReporter {
	return &otelReporter{
		provider: provider,
		tracer:   provider.Tracer("outspan"),
	}
}

func (r *otelReporter) Report(ctx context.Context, tx *Transaction) {
	if tx == nil {
		return
	}

	// spans attach in completion order; emit in start order
	spans := tx.Spans()
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].Start < spans[j].Start
	})

	txCtx, root := r.tracer.Start(ctx, tx.Name,
		tr.WithTimestamp(tx.Timestamp),
		tr.WithAttributes(
			attr.String("transaction.id", tx.ID),
			attr.String("transaction.type", tx.Type),
			attr.String("transaction.result", tx.Result),
			attr.Int64("span_count.started", int64(tx.SpanCount.Started())),
			attr.Int64("span_count.dropped", int64(tx.SpanCount.Dropped())),
		))

	for _, s := range spans {
		start := tx.Timestamp.Add(msDuration(s.Start))
		opts := []tr.SpanStartOption{
			tr.WithTimestamp(start),
			tr.WithAttributes(
				attr.String("http.url", s.Context.URL),
				attr.String("http.method", s.Context.Method),
			),
		}
		// status only when a response was observed
		if s.Context.StatusCode > 0 {
			opts = append(opts, tr.WithAttributes(attr.Int("http.status_code", s.Context.StatusCode)))
		}
		_, child := r.tracer.Start(txCtx, s.Name, opts...)
		child.End(tr.WithTimestamp(start.Add(msDuration(s.Duration))))
	}

	root.End(tr.WithTimestamp(tx.Timestamp.Add(msDuration(tx.Duration))))
}

func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
