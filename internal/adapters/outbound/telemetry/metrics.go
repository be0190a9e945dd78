package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

// Compile-time check that Metrics implements outbound.MetricsRecorder
var _ outbound.MetricsRecorder = (*Metrics)(nil)

// Metrics implements outbound.MetricsRecorder using OpenTelemetry.
type Metrics struct {
	cacheLookups    metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestCalls    metric.Int64Counter
	retries         metric.Int64Counter
	persisted       metric.Int64Counter
}

// NewMetrics creates a recorder on the global meter provider.
// meterName should typically be the package name or service name.
func NewMetrics(meterName string) (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider(), meterName)
}

// NewMetricsWithProvider creates a recorder on the given meter provider.
func NewMetricsWithProvider(provider metric.MeterProvider, meterName string) (*Metrics, error) {
	meter := provider.Meter(meterName)

	lookups, err := meter.Int64Counter(
		"multicall_cache_lookups_total",
		metric.WithDescription("CallIDs resolved against the result cache, by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create multicall_cache_lookups_total counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"multicall_request_duration_seconds",
		metric.WithDescription("Time taken by one aggregate eth_call"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create multicall_request_duration_seconds histogram: %w", err)
	}

	calls, err := meter.Int64Counter(
		"multicall_request_calls_total",
		metric.WithDescription("Calls carried by aggregate requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create multicall_request_calls_total counter: %w", err)
	}

	retries, err := meter.Int64Counter(
		"multicall_retries_total",
		metric.WithDescription("Aggregate requests retried, by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create multicall_retries_total counter: %w", err)
	}

	persisted, err := meter.Int64Counter(
		"multicall_records_persisted_total",
		metric.WithDescription("Records handed to the result cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create multicall_records_persisted_total counter: %w", err)
	}

	return &Metrics{
		cacheLookups:    lookups,
		requestDuration: duration,
		requestCalls:    calls,
		retries:         retries,
		persisted:       persisted,
	}, nil
}

// RecordCacheLookup adds hits and misses to the lookup counter.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hits, misses int) {
	if hits > 0 {
		m.cacheLookups.Add(ctx, int64(hits), metric.WithAttributes(attribute.String("result", "hit")))
	}
	if misses > 0 {
		m.cacheLookups.Add(ctx, int64(misses), metric.WithAttributes(attribute.String("result", "miss")))
	}
}

// RecordRequest records the latency and size of one aggregate request.
func (m *Metrics) RecordRequest(ctx context.Context, calls int, duration time.Duration, status string) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.requestDuration.Record(ctx, duration.Seconds(), attrs)
	m.requestCalls.Add(ctx, int64(calls), attrs)
}

// RecordRetry increments the retry counter.
func (m *Metrics) RecordRetry(ctx context.Context, attempt int, reason string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordPersisted increments the persisted records counter.
func (m *Metrics) RecordPersisted(ctx context.Context, records int) {
	m.persisted.Add(ctx, int64(records))
}
