// Package prometheus implements outbound.MetricsRecorder with client_golang
// collectors registered on a caller-supplied registry.
package prometheus

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

// Compile-time check that Metrics implements outbound.MetricsRecorder
var _ outbound.MetricsRecorder = (*Metrics)(nil)

const subsystem = "fetch"

// Metrics holds the pipeline collectors.
type Metrics struct {
	cacheLookups    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestCalls    *prometheus.CounterVec
	retries         *prometheus.CounterVec
	persisted       prometheus.Counter
}

// NewMetrics creates the collectors under namespace and registers them.
// It fails if any collector is already registered.
func NewMetrics(registry prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_lookups_total",
			Help:      "CallIDs resolved against the result cache, by result",
		}, []string{"result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "Time taken by one aggregate eth_call",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"status"}),
		requestCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_calls_total",
			Help:      "Calls carried by aggregate requests",
		}, []string{"status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retries_total",
			Help:      "Aggregate requests retried, by reason and attempt",
		}, []string{"reason", "attempt"}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records_persisted_total",
			Help:      "Records handed to the result cache",
		}),
	}

	for _, c := range []prometheus.Collector{m.cacheLookups, m.requestDuration, m.requestCalls, m.retries, m.persisted} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordCacheLookup adds hits and misses to the lookup counter.
func (m *Metrics) RecordCacheLookup(_ context.Context, hits, misses int) {
	m.cacheLookups.WithLabelValues("hit").Add(float64(hits))
	m.cacheLookups.WithLabelValues("miss").Add(float64(misses))
}

// RecordRequest observes one aggregate request.
func (m *Metrics) RecordRequest(_ context.Context, calls int, duration time.Duration, status string) {
	m.requestDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.requestCalls.WithLabelValues(status).Add(float64(calls))
}

// RecordRetry increments the retry counter.
func (m *Metrics) RecordRetry(_ context.Context, attempt int, reason string) {
	m.retries.WithLabelValues(reason, strconv.Itoa(attempt)).Inc()
}

// RecordPersisted increments the persisted records counter.
func (m *Metrics) RecordPersisted(_ context.Context, records int) {
	m.persisted.Add(float64(records))
}
