package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	m, err := NewMetrics(registry, "multicall")
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, registry
}

// --- Test: NewMetrics ---

func TestNewMetrics_DuplicateRegistrationFails(t *testing.T) {
	_, registry := newTestMetrics(t)
	if _, err := NewMetrics(registry, "multicall"); err == nil {
		t.Fatal("expected error registering collectors twice")
	}
}

func TestNewMetrics_SeparateNamespaces(t *testing.T) {
	_, registry := newTestMetrics(t)
	if _, err := NewMetrics(registry, "other"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- Test: Recording ---

func TestRecordCacheLookup(t *testing.T) {
	m, _ := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheLookup(ctx, 10, 4)
	m.RecordCacheLookup(ctx, 1, 0)

	if got := promtestutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")); got != 11 {
		t.Errorf("expected 11 hits, got %v", got)
	}
	if got := promtestutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")); got != 4 {
		t.Errorf("expected 4 misses, got %v", got)
	}
}

func TestRecordRequest(t *testing.T) {
	m, registry := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRequest(ctx, 200, 300*time.Millisecond, "success")
	m.RecordRequest(ctx, 200, 2*time.Second, "payload_too_large")

	if got := promtestutil.ToFloat64(m.requestCalls.WithLabelValues("success")); got != 200 {
		t.Errorf("expected 200 successful calls, got %v", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var observations uint64
	for _, f := range families {
		if f.GetName() != "multicall_fetch_request_duration_seconds" {
			continue
		}
		for _, metric := range f.GetMetric() {
			observations += metric.GetHistogram().GetSampleCount()
		}
	}
	if observations != 2 {
		t.Errorf("expected 2 observations, got %d", observations)
	}
}

func TestRecordRetryAndPersisted(t *testing.T) {
	m, _ := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRetry(ctx, 1, "rate_limited")
	m.RecordRetry(ctx, 1, "rate_limited")
	m.RecordRetry(ctx, 2, "rate_limited")
	m.RecordPersisted(ctx, 25)
	m.RecordPersisted(ctx, 5)

	if got := promtestutil.ToFloat64(m.retries.WithLabelValues("rate_limited", "1")); got != 2 {
		t.Errorf("expected 2 first-attempt retries, got %v", got)
	}
	if got := promtestutil.ToFloat64(m.persisted); got != 30 {
		t.Errorf("expected 30 persisted, got %v", got)
	}
}
