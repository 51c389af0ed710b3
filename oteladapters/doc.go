// Package oteladapters connects the observability interfaces of the lending coordinator and the
// SQL journal to OpenTelemetry.
//
// Loggers and the metrics collector satisfy both packages' interfaces. Spans are typed per
// package, so tracing comes as TracingCollector for the coordinator and JournalTracingCollector
// for the journal; both can share one tracer.
package oteladapters
