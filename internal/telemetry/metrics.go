package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the meter name for sync coordinator metrics.
	SyncMetricsMeterName = "github.com/cutover-sh/cutover/sync"

	// RoutingMetricsMeterName is the meter name for read migration metrics.
	RoutingMetricsMeterName = "github.com/cutover-sh/cutover/migration"
)

// SyncMetrics holds the OpenTelemetry instruments for sync operations.
type SyncMetrics struct {
	operationsTotal   metric.Int64Counter
	operationDuration metric.Float64Histogram
	activeOperations  metric.Int64UpDownCounter
}

// NewSyncMetrics creates a SyncMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	operationsTotal, err := meter.Int64Counter(
		"cutover_sync_operations_total",
		metric.WithDescription("Number of sync operations by type and outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	operationDuration, err := meter.Float64Histogram(
		"cutover_sync_operation_duration_seconds",
		metric.WithDescription("Duration of sync operations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	activeOperations, err := meter.Int64UpDownCounter(
		"cutover_sync_active_operations",
		metric.WithDescription("Number of in-flight sync operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		activeOperations:  activeOperations,
	}, nil
}

// RecordOperation records a completed sync operation.
func (m *SyncMetrics) RecordOperation(ctx context.Context, opType string, duration time.Duration, success bool) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("type", opType),
		attribute.Bool("success", success),
	}
	m.operationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.operationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// OperationStarted increments the in-flight operation gauge.
func (m *SyncMetrics) OperationStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeOperations.Add(ctx, 1)
}

// OperationFinished decrements the in-flight operation gauge.
func (m *SyncMetrics) OperationFinished(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeOperations.Add(ctx, -1)
}

// RoutingMetrics holds the OpenTelemetry instruments for read routing.
type RoutingMetrics struct {
	decisionsTotal metric.Int64Counter
	migrationPhase metric.Int64Gauge
}

// NewRoutingMetrics creates a RoutingMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewRoutingMetrics(provider metric.MeterProvider) (*RoutingMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(RoutingMetricsMeterName)

	decisionsTotal, err := meter.Int64Counter(
		"cutover_routing_decisions_total",
		metric.WithDescription("Number of read routing decisions by backend"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	migrationPhase, err := meter.Int64Gauge(
		"cutover_migration_phase",
		metric.WithDescription("Current migration phase as an ordinal (0 = legacy only, 6 = new system only)"),
	)
	if err != nil {
		return nil, err
	}

	return &RoutingMetrics{
		decisionsTotal: decisionsTotal,
		migrationPhase: migrationPhase,
	}, nil
}

// RecordDecision records a routing decision.
func (m *RoutingMetrics) RecordDecision(ctx context.Context, useNewSystem bool, reason string) {
	if m == nil {
		return
	}

	backend := "legacy"
	if useNewSystem {
		backend = "new"
	}
	m.decisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("reason", reason),
	))
}

// RecordPhase records the current migration phase ordinal.
func (m *RoutingMetrics) RecordPhase(ctx context.Context, phase int64) {
	if m == nil {
		return
	}
	m.migrationPhase.Record(ctx, phase)
}
