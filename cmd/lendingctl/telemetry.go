package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// telemetry holds the providers of one run. Metrics are read back in-process for the summary;
// traces are exported only when an OTLP endpoint is configured.
type telemetry struct {
	reader   *sdkmetric.ManualReader
	meters   *sdkmetric.MeterProvider
	tracers  trace.TracerProvider
	shutdown func(context.Context) error
}

func setupTelemetry(ctx context.Context, serviceName, endpoint string) (*telemetry, error) {
	reader := sdkmetric.NewManualReader()
	meters := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	t := &telemetry{
		reader:   reader,
		meters:   meters,
		tracers:  noop.NewTracerProvider(),
		shutdown: meters.Shutdown,
	}

	if endpoint == "" {
		return t, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}

	tracers := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tracers)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	t.tracers = tracers
	t.shutdown = func(ctx context.Context) error {
		traceErr := tracers.Shutdown(ctx)
		if err := meters.Shutdown(ctx); err != nil {
			return err
		}

		return traceErr
	}

	return t, nil
}
