package outbound

import (
	"context"
	"time"
)

// MetricsRecorder records fetch pipeline metrics without tying the pipeline
// to a telemetry implementation.
type MetricsRecorder interface {
	// RecordCacheLookup records the outcome of resolving ids against the cache.
	RecordCacheLookup(ctx context.Context, hits, misses int)

	// RecordRequest records one aggregate request. status is "success" or an error class.
	RecordRequest(ctx context.Context, calls int, duration time.Duration, status string)

	// RecordRetry records a retried request.
	RecordRetry(ctx context.Context, attempt int, reason string)

	// RecordPersisted records records written to the cache.
	RecordPersisted(ctx context.Context, records int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

var _ MetricsRecorder = NopMetrics{}

func (NopMetrics) RecordCacheLookup(context.Context, int, int)                  {}
func (NopMetrics) RecordRequest(context.Context, int, time.Duration, string)   {}
func (NopMetrics) RecordRetry(context.Context, int, string)                    {}
func (NopMetrics) RecordPersisted(context.Context, int)                        {}

// MultiMetrics fans out to several recorders.
type MultiMetrics []MetricsRecorder

var _ MetricsRecorder = MultiMetrics(nil)

func (m MultiMetrics) RecordCacheLookup(ctx context.Context, hits, misses int) {
	for _, r := range m {
		r.RecordCacheLookup(ctx, hits, misses)
	}
}

func (m MultiMetrics) RecordRequest(ctx context.Context, calls int, d time.Duration, status string) {
	for _, r := range m {
		r.RecordRequest(ctx, calls, d, status)
	}
}

func (m MultiMetrics) RecordRetry(ctx context.Context, attempt int, reason string) {
	for _, r := range m {
		r.RecordRetry(ctx, attempt, reason)
	}
}

func (m MultiMetrics) RecordPersisted(ctx context.Context, records int) {
	for _, r := range m {
		r.RecordPersisted(ctx, records)
	}
}
