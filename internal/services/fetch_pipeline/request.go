package fetch_pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/callspec"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/multicall"
	"github.com/archon-research/multicallcache/internal/pkg/retry"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

// sinkFunc receives the results of one successful request.
type sinkFunc func(ctx context.Context, results []callspec.RawResult) error

// run issues jobs and routes their results: pairs at or below finalized go
// to the batch writer, newer pairs to live.
func (s *Service) run(ctx context.Context, chainID uint64, jobs []job, finalized int64, live *liveResults) error {
	// Child context: cancelled if the batch writer fails so requests stop promptly.
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	recordCh := make(chan []*entity.CallRecord, s.config.MaxConnections*2)
	writerDone := make(chan error, 1)
	go func() {
		err := s.batchWriter(workerCtx, recordCh)
		if err != nil {
			workerCancel()
		}
		writerDone <- err
	}()

	sink := func(ctx context.Context, results []callspec.RawResult) error {
		var records []*entity.CallRecord
		var fresh []callspec.RawResult
		for _, r := range results {
			if r.Block > finalized {
				fresh = append(fresh, r)
				continue
			}
			rec, err := r.ToRecord(chainID)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		live.add(fresh)

		if len(records) == 0 {
			return nil
		}
		select {
		case recordCh <- records:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var issueErr error
	if s.config.Concurrent {
		issueErr = s.issueConcurrent(workerCtx, jobs, sink)
	} else {
		issueErr = s.issueSequential(workerCtx, jobs, sink)
	}
	close(recordCh)

	if err := <-writerDone; err != nil {
		return fmt.Errorf("batch writer: %w", err)
	}
	return issueErr
}

func (s *Service) issueSequential(ctx context.Context, jobs []job, sink sinkFunc) error {
	for _, j := range jobs {
		if err := s.execute(ctx, j.batch, j.block, sink); err != nil {
			return err
		}
	}
	return nil
}

// issueConcurrent runs at most MaxConnections requests at once. Admission to
// the node goes through the shared limiter inside each attempt.
func (s *Service) issueConcurrent(ctx context.Context, jobs []job, sink sinkFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConnections)
	for _, j := range jobs {
		g.Go(func() error {
			return s.execute(gctx, j.batch, j.block, sink)
		})
	}
	return g.Wait()
}

// execute requests batch at block, halving it while the node reports it too large.
func (s *Service) execute(ctx context.Context, batch *multicall.Batch, block int64, sink sinkFunc) error {
	results, err := s.request(ctx, batch, block)
	if errors.Is(err, outbound.ErrPayloadTooLarge) {
		left, right := batch.Split()
		if right == nil {
			return fmt.Errorf("%w: %s at block %d: %w", ErrCallTooLarge, batch.Calls()[0], block, err)
		}
		s.logger.Warn("splitting oversized request",
			"block", block,
			"calls", batch.Len(),
			"error", err)
		if err := s.execute(ctx, left, block, sink); err != nil {
			return err
		}
		return s.execute(ctx, right, block, sink)
	}
	if err != nil {
		return err
	}
	return sink(ctx, results)
}

// request runs one aggregate request under the retry policy.
func (s *Service) request(ctx context.Context, batch *multicall.Batch, block int64) ([]callspec.RawResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "fetch_pipeline.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64("block.number", block),
			attribute.Int("request.calls", batch.Len()),
		),
	)
	defer span.End()

	results, err := retry.Do(ctx, s.policy, func(ctx context.Context, attempt int) ([]callspec.RawResult, error) {
		if s.config.Concurrent {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		span.SetAttributes(attribute.Int("request.attempts", attempt+1))
		return s.attempt(ctx, batch, block)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorClass(err))
		return nil, err
	}
	return results, nil
}

func (s *Service) attempt(ctx context.Context, batch *multicall.Batch, block int64) ([]callspec.RawResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	start := time.Now()
	results, err := s.client.Execute(reqCtx, batch, block)
	if err != nil && ctx.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: request timed out after %s: %w", outbound.ErrTransient, s.config.RequestTimeout, err)
	}
	s.metrics.RecordRequest(ctx, batch.Len(), time.Since(start), errorClass(err))
	return results, err
}

func (s *Service) onRetry(attempt int, err error, backoff time.Duration) {
	s.logger.Warn("retrying request",
		"attempt", attempt,
		"backoff", backoff,
		"error", err)
	s.metrics.RecordRetry(context.Background(), attempt, errorClass(err))
}

// errorClass names err for metrics and span status.
func errorClass(err error) string {
	var nodeErr *outbound.NodeError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, outbound.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, outbound.ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, outbound.ErrTransient):
		return "transient"
	case errors.As(err, &nodeErr):
		return "node_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
