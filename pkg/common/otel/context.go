package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

const zeroTraceID = "00000000000000000000000000000000"

// GetTraceID returns the trace id recorded on the current span, or the
// all-zero id when the context carries no valid span.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return zeroTraceID
	}
	return sc.TraceID().String()
}
