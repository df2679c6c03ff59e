package store

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
)

// recordDBCall annotates span with the backend, operation and the number of
// payment documents the call touched.
func recordDBCall(span trace.Span, system, operation string, docs int, elapsed time.Duration) {
	span.SetAttributes(
		semconv.DBSystemKey.String(system),
		semconv.DBOperationKey.String(operation),
		attribute.Int("db.documents", docs),
		attribute.Float64("db.execution_time_ms", float64(elapsed.Milliseconds())),
	)
}
