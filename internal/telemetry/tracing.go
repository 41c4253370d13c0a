package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope every subsystem's spans are
// recorded under.
const TracerName = "github.com/ladybird/contentsec"

// InitTracing configures the global OTel tracer provider according to
// exporter ("stdout" or "none") and returns a shutdown func to flush and
// release exporter resources on process exit. With exporter == "none" it
// installs a no-op provider so span calls throughout the codebase stay
// unconditional.
func InitTracing(ctx context.Context, exporter string) (func(context.Context) error, error) {
	if exporter == "none" || exporter == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	if exporter != "stdout" {
		return nil, fmt.Errorf("telemetry: unknown otel exporter %q", exporter)
	}

	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating stdout trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName("contentsec"),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the shared tracer for span creation across subsystems.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
