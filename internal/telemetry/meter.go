// Package telemetry provides OpenTelemetry instrumentation for the migration
// control plane.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MeterProviderOption configures the meter provider setup.
type MeterProviderOption func(*meterProviderConfig)

type meterProviderConfig struct {
	serviceName    string
	serviceVersion string
	registerer     prometheus.Registerer
}

// WithServiceName sets the service name resource attribute.
func WithServiceName(name string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.serviceName = name
	}
}

// WithServiceVersion sets the service version resource attribute.
func WithServiceVersion(version string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.serviceVersion = version
	}
}

// WithPrometheusRegisterer sets the prometheus registerer backing the
// exporter. Defaults to the process-wide default registerer.
func WithPrometheusRegisterer(reg prometheus.Registerer) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.registerer = reg
	}
}

// NewMeterProvider builds a meter provider that exports through the
// prometheus registry, so the admin API can serve /metrics.
func NewMeterProvider(opts ...MeterProviderOption) (metric.MeterProvider, error) {
	cfg := &meterProviderConfig{
		serviceName: "cutover",
		registerer:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(cfg.registerer))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.serviceName),
			semconv.ServiceVersion(cfg.serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	), nil
}

// NoopMeterProvider returns a meter provider that records nothing, for use
// when telemetry is disabled.
func NoopMeterProvider() metric.MeterProvider {
	return noop.NewMeterProvider()
}
