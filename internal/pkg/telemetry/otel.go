// Package telemetry wires the coordinator's per-stage spans to an OTLP
// exporter, following the rezkam-mono InitTracerProvider pattern: a no-op
// provider when tracing is disabled, an OTLP/HTTP batch exporter otherwise.
// This is additive to, never a substitute for, the audit log (§4.10).
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TracerProvider is satisfied by *sdktrace.TracerProvider; kept as an
// interface so callers needing only Shutdown don't import the sdk package.
type TracerProvider interface {
	Shutdown(ctx context.Context) error
}

// InitTracerProvider sets the global tracer provider used by
// coordinator.tracer. When disabled or endpoint is empty, it installs a
// no-op provider so every otel.Tracer(...) call in the pipeline remains
// cheap and side-effect-free.
func InitTracerProvider(ctx context.Context, serviceName, endpoint string, enabled bool) (TracerProvider, error) {
	if !enabled || endpoint == "" {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	res, err = resource.Merge(resource.Default(), res)
	if err != nil {
		return nil, fmt.Errorf("merge otel resource: %w", err)
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp, nil
}
