package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Trace context crosses the outbox table as two text columns; these
// helpers convert between a context and that stored form.

const (
	traceparentKey = "traceparent"
	tracestateKey  = "tracestate"
)

// TraceContextStrings extracts the W3C traceparent/tracestate headers
// of the current span for persisting alongside an outbox row.
func TraceContextStrings(ctx context.Context) (traceparent, tracestate string) {
	mc := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, mc)
	return mc[traceparentKey], mc[tracestateKey]
}

// ContextWithTraceContext restores a stored trace context, linking the
// eventual Kafka publish back to the booking transaction's trace.
func ContextWithTraceContext(ctx context.Context, traceparent, tracestate string) context.Context {
	if traceparent == "" && tracestate == "" {
		return ctx
	}
	mc := propagation.MapCarrier{}
	if traceparent != "" {
		mc[traceparentKey] = traceparent
	}
	if tracestate != "" {
		mc[tracestateKey] = tracestate
	}
	return otel.GetTextMapPropagator().Extract(ctx, mc)
}
