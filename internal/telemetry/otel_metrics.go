package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MeterName is the instrumentation scope every OTel instrument in this
// package is recorded under, mirroring TracerName.
const MeterName = "github.com/ladybird/contentsec"

// InitOTelMetrics configures the global OTel meter provider. It runs
// alongside, not instead of, the Prometheus registry in Metrics: Prometheus
// serves the scrape endpoint operators poll, while this periodic-export
// pipeline gives a human a readable snapshot (exporter == "stdout") without
// standing up a collector, the same role InitTracing plays for spans.
func InitOTelMetrics(ctx context.Context, exporter string) (func(context.Context) error, error) {
	if exporter == "none" || exporter == "" {
		otel.SetMeterProvider(noop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}

	if exporter != "stdout" {
		return nil, fmt.Errorf("telemetry: unknown otel exporter %q", exporter)
	}

	exp, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating stdout metric exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName("contentsec"),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}

// Meter returns the shared meter used to register instruments.
func Meter() metric.Meter {
	return otel.Meter(MeterName)
}

// RegisterHealthGauge registers an observable gauge named name that reports
// whatever observe returns (0 healthy, 1 degraded, 2+ unhealthy) each
// collection cycle, letting a dependency's degradation state appear in the
// same stdout/collector pipeline as spans without the health tracker itself
// depending on OTel.
func RegisterHealthGauge(name, description string, observe func() int64) error {
	_, err := Meter().Int64ObservableGauge(
		name,
		metric.WithDescription(description),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(observe())
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("telemetry: registering gauge %s: %w", name, err)
	}
	return nil
}
