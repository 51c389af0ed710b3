package oteladapters

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AntonStoeckl/library-lending-go/journal/sqljournal"
	"github.com/AntonStoeckl/library-lending-go/lending"
)

// Span wraps an OpenTelemetry span. It is the SpanContext of both the coordinator and the
// journal.
type Span struct {
	span trace.Span
}

// SetStatus maps a status string to an OpenTelemetry status code. Unknown status strings
// are recorded as the "status" attribute instead.
func (s *Span) SetStatus(status string) {
	switch status {
	case lending.StatusSuccess, "ok":
		s.span.SetStatus(codes.Ok, "")
	case lending.StatusError:
		s.span.SetStatus(codes.Error, "operation failed")
	case lending.StatusCanceled, "cancelled":
		s.span.SetStatus(codes.Error, "operation canceled")
	case lending.StatusTimeout:
		s.span.SetStatus(codes.Error, "operation timed out")
	default:
		s.span.SetAttributes(attribute.String("status", status))
	}
}

func (s *Span) AddAttribute(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
}

func (s *Span) finish(status string, attrs map[string]string) {
	s.span.SetAttributes(attributes(attrs)...)
	s.SetStatus(status)
	s.span.End()
}

func start(ctx context.Context, tracer trace.Tracer, name string, attrs map[string]string) (context.Context, *Span) {
	spanCtx, span := tracer.Start(ctx, name, trace.WithAttributes(attributes(attrs)...))

	return spanCtx, &Span{span: span}
}

// TracingCollector creates OpenTelemetry spans for coordinator operations.
type TracingCollector struct {
	tracer trace.Tracer
}

// NewTracingCollector creates a collector on a tracer of your TracerProvider.
func NewTracingCollector(tracer trace.Tracer) *TracingCollector {
	return &TracingCollector{tracer: tracer}
}

func (t *TracingCollector) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, lending.SpanContext) {
	return start(ctx, t.tracer, name, attrs)
}

// FinishSpan ends spans created by any collector of this package and ignores others.
func (t *TracingCollector) FinishSpan(spanCtx lending.SpanContext, status string, attrs map[string]string) {
	if span, ok := spanCtx.(*Span); ok {
		span.finish(status, attrs)
	}
}

// JournalTracingCollector creates OpenTelemetry spans for SQL journal operations.
type JournalTracingCollector struct {
	tracer trace.Tracer
}

// NewJournalTracingCollector creates a collector on a tracer of your TracerProvider.
func NewJournalTracingCollector(tracer trace.Tracer) *JournalTracingCollector {
	return &JournalTracingCollector{tracer: tracer}
}

func (t *JournalTracingCollector) StartSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, sqljournal.SpanContext) {
	return start(ctx, t.tracer, name, attrs)
}

// FinishSpan ends spans created by any collector of this package and ignores others.
func (t *JournalTracingCollector) FinishSpan(spanCtx sqljournal.SpanContext, status string, attrs map[string]string) {
	if span, ok := spanCtx.(*Span); ok {
		span.finish(status, attrs)
	}
}

var (
	_ lending.TracingCollector    = (*TracingCollector)(nil)
	_ sqljournal.TracingCollector = (*JournalTracingCollector)(nil)
	_ lending.SpanContext         = (*Span)(nil)
)
