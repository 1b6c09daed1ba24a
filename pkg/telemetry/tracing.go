package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Kunsh1/spin-gpt/pkg/relay"

// Attribute keys for cycle spans.
var (
	AttrCycleID     = attribute.Key("relay.cycle.id")
	AttrPromptLen   = attribute.Key("relay.prompt.length")
	AttrFragments   = attribute.Key("relay.fragments")
	AttrOutcome     = attribute.Key("relay.outcome")
	AttrQueueWaitMS = attribute.Key("relay.queue_wait_ms")
	AttrHealthy     = attribute.Key("session.healthy")
)

// TracerProvider exports cycle spans as JSON and is installed as the global
// provider.
type TracerProvider struct {
	sdk *sdktrace.TracerProvider
}

// NewTracerProvider exports spans to out, or stdout when out is nil. Spans are
// exported synchronously so a crash never loses a finished cycle.
func NewTracerProvider(serviceName, version string, out io.Writer) (*TracerProvider, error) {
	var exportOpts []stdouttrace.Option
	if out != nil {
		exportOpts = append(exportOpts, stdouttrace.WithWriter(out))
	}
	exporter, err := stdouttrace.New(exportOpts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)
	tp := &TracerProvider{
		sdk: sdktrace.NewTracerProvider(
			sdktrace.WithSyncer(exporter),
			sdktrace.WithResource(res),
		),
	}
	otel.SetTracerProvider(tp.sdk)
	return tp, nil
}

// Shutdown flushes pending spans. Spans started afterwards are dropped.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil {
		return nil
	}
	return tp.sdk.Shutdown(ctx)
}

// StartSpan starts a relay span. Without a provider the span is a no-op.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// AddEvent records a point-in-time event on the span in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
