// Package tracing provides a thin wrapper around OpenTelemetry tracing so that the rest of the
// code-base can use StartSpan/EndSpan helpers without being concerned with the underlying
// implementation. Spans are emitted around process launches and test phases.
package tracing
