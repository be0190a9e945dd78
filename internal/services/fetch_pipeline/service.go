// Package fetch_pipeline evaluates calls at many blocks, serving what it can
// from the result cache and fetching the rest through batched aggregate
// calls.
//
// A Fetch resolves every (call, block) pair against the cache, groups the
// misses by block, packs them into aggregate requests of bounded size and
// issues them either one at a time or concurrently under a shared rate
// limiter. Results at finalized blocks are persisted; results at newer
// blocks are returned but never written. The returned table is complete or
// the call fails: nothing is ever returned partially.
package fetch_pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/callspec"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/multicall"
	"github.com/archon-research/multicallcache/internal/pkg/retry"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

// tracerName is the instrumentation name for this service.
const tracerName = "github.com/archon-research/multicallcache/internal/services/fetch_pipeline"

var (
	ErrNoCalls  = errors.New("no calls given")
	ErrNoBlocks = errors.New("no blocks given")
	// ErrIncompleteFetch means a pair was still missing after fetching and
	// persisting. It is never retried.
	ErrIncompleteFetch = errors.New("incomplete fetch")
	// ErrCallTooLarge means a single call exceeded the node's limits and
	// cannot be split further.
	ErrCallTooLarge = errors.New("single call exceeds node limits")
)

// Config holds configuration for the fetch pipeline.
type Config struct {
	// ChainID identifies the chain in every CallID. Zero asks the node once.
	ChainID uint64

	// Aggregator is the tryAggregate deployment. Default: Multicall3
	Aggregator *multicall.Aggregator

	// MaxCallsPerRequest bounds the calls packed into one aggregate request.
	// Default: 1000
	MaxCallsPerRequest int

	// Concurrent issues requests in parallel under the rate limiter.
	// When false requests are issued one at a time.
	Concurrent bool

	// RateLimit is the maximum requests per second in concurrent mode.
	// Default: 10
	RateLimit float64

	// MaxConnections bounds in-flight requests in concurrent mode.
	// Default: 10
	MaxConnections int

	// RequestTimeout bounds each request attempt.
	// Default: 30s
	RequestTimeout time.Duration

	// Retry is the backoff schedule for retryable transport errors.
	Retry retry.Config

	// FinalityDepth, when positive, treats blocks at least this far below the
	// head as finalized instead of asking the node for its finalized block.
	FinalityDepth int64

	// PersistBatchSize is the number of records per cache write.
	// Default: 1000
	PersistBatchSize int

	Metrics outbound.MetricsRecorder
	Logger  *slog.Logger
}

// ConfigDefaults returns a Config with default values.
func ConfigDefaults() Config {
	return Config{
		MaxCallsPerRequest: 1000,
		RateLimit:          10,
		MaxConnections:     10,
		RequestTimeout:     30 * time.Second,
		Retry:              retry.DefaultConfig(),
		PersistBatchSize:   1000,
		Metrics:            outbound.NopMetrics{},
		Logger:             slog.Default(),
	}
}

// Service runs fetches against one node and one cache. It is safe for
// concurrent use; every Fetch shares the rate limiter.
type Service struct {
	config  Config
	caller  outbound.EthCaller
	client  multicall.Multicaller
	cache   outbound.ResultCache
	limiter *rate.Limiter
	policy  retry.Policy
	metrics outbound.MetricsRecorder
	logger  *slog.Logger

	chainID atomic.Uint64
}

// NewService creates a new fetch pipeline.
func NewService(config Config, caller outbound.EthCaller, cache outbound.ResultCache) (*Service, error) {
	if caller == nil {
		return nil, fmt.Errorf("caller cannot be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}

	defaults := ConfigDefaults()
	if config.Aggregator == nil {
		config.Aggregator = multicall.NewAggregator(blockchain.Multicall3)
	}
	if config.MaxCallsPerRequest <= 0 {
		config.MaxCallsPerRequest = defaults.MaxCallsPerRequest
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaults.RateLimit
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = defaults.MaxConnections
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.Retry == (retry.Config{}) {
		config.Retry = defaults.Retry
	}
	if config.FinalityDepth < 0 {
		return nil, fmt.Errorf("finality depth must not be negative, got %d", config.FinalityDepth)
	}
	if config.PersistBatchSize <= 0 {
		config.PersistBatchSize = defaults.PersistBatchSize
	}
	if config.Metrics == nil {
		config.Metrics = defaults.Metrics
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	s := &Service{
		config:  config,
		caller:  caller,
		client:  multicall.NewClient(caller),
		cache:   cache,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		metrics: config.Metrics,
		logger:  config.Logger.With("component", "fetch-pipeline"),
	}
	s.chainID.Store(config.ChainID)
	s.policy = retry.NewPolicy(config.Retry, outbound.IsRetryable).WithOnRetry(s.onRetry)
	return s, nil
}

// Fetch evaluates every call at every block and returns one row per distinct
// block in input order. Each row holds every label plus the block number.
func (s *Service) Fetch(ctx context.Context, calls []*callspec.CallSpec, blocks []int64) ([]entity.Row, error) {
	if err := validate(calls); err != nil {
		return nil, err
	}
	blocks, err := distinctBlocks(blocks)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "fetch_pipeline.Fetch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("fetch.calls", len(calls)),
			attribute.Int("fetch.blocks", len(blocks)),
			attribute.Bool("fetch.concurrent", s.config.Concurrent),
		),
	)
	defer span.End()

	rows, err := s.fetch(ctx, span, calls, blocks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	return rows, nil
}

func (s *Service) fetch(ctx context.Context, span trace.Span, calls []*callspec.CallSpec, blocks []int64) ([]entity.Row, error) {
	start := time.Now()

	chainID, err := s.resolveChainID(ctx)
	if err != nil {
		return nil, err
	}

	p, err := newPlan(chainID, calls, blocks)
	if err != nil {
		return nil, err
	}

	lookup, err := s.cache.Get(ctx, p.ids())
	if err != nil {
		return nil, fmt.Errorf("resolving from cache: %w", err)
	}
	s.metrics.RecordCacheLookup(ctx, len(lookup.Found), len(lookup.Missing))
	span.SetAttributes(
		attribute.Int("fetch.cache_hits", len(lookup.Found)),
		attribute.Int("fetch.cache_misses", len(lookup.Missing)),
	)

	found := lookup.ByID()
	live := newLiveResults()

	if !lookup.Complete() {
		finalized, err := s.finalizedBlock(ctx)
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.Int64("fetch.finalized_block", finalized))

		missing := p.missing(lookup.Missing)
		jobs, err := s.buildJobs(missing)
		if err != nil {
			return nil, err
		}

		s.logger.Info("fetching missing calls",
			"pairs", p.size(),
			"cached", len(lookup.Found),
			"missing", len(lookup.Missing),
			"requests", len(jobs),
			"finalized", finalized)

		if err := s.run(ctx, chainID, jobs, finalized, live); err != nil {
			return nil, err
		}

		if err := s.reresolve(ctx, missing, finalized, found, live); err != nil {
			return nil, err
		}
	}

	rows, err := p.reassemble(found, live)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("fetch complete",
		"blocks", len(blocks),
		"calls", len(calls),
		"duration", time.Since(start))
	return rows, nil
}

// FetchLatest evaluates calls at the current head. The result is never cached.
func (s *Service) FetchLatest(ctx context.Context, calls []*callspec.CallSpec) (entity.Row, error) {
	if err := validate(calls); err != nil {
		return entity.Row{}, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "fetch_pipeline.FetchLatest",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("fetch.calls", len(calls))),
	)
	defer span.End()

	row, err := s.fetchLatest(ctx, calls)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch latest failed")
		return entity.Row{}, err
	}
	return row, nil
}

func (s *Service) fetchLatest(ctx context.Context, calls []*callspec.CallSpec) (entity.Row, error) {
	// Pin the head so every chunk sees the same state.
	head, err := s.blockNumber(ctx, blockchain.BlockTagLatest)
	if err != nil {
		return entity.Row{}, fmt.Errorf("resolving head: %w", err)
	}

	pairs := make([]pair, len(calls))
	for i, c := range calls {
		pairs[i] = pair{call: c, block: head}
	}
	jobs, err := s.buildJobs(pairs)
	if err != nil {
		return entity.Row{}, err
	}

	live := newLiveResults()
	// Nothing is persisted: every block is above a finalized bound of -1.
	if err := s.run(ctx, 0, jobs, -1, live); err != nil {
		return entity.Row{}, err
	}

	results := make([]callspec.RawResult, len(calls))
	for i, c := range calls {
		r, ok := live.get(c, head)
		if !ok {
			return entity.Row{}, fmt.Errorf("%w: %s at block %d", ErrIncompleteFetch, c, head)
		}
		results[i] = r
	}
	values, err := multicall.Reassemble(results)
	if err != nil {
		return entity.Row{}, err
	}
	return entity.Row{Block: head, Values: values}, nil
}

func validate(calls []*callspec.CallSpec) error {
	if len(calls) == 0 {
		return ErrNoCalls
	}
	return multicall.ValidateLabels(calls)
}

// distinctBlocks drops repeated blocks, keeping first occurrence order.
func distinctBlocks(blocks []int64) ([]int64, error) {
	if len(blocks) == 0 {
		return nil, ErrNoBlocks
	}
	seen := make(map[int64]struct{}, len(blocks))
	out := make([]int64, 0, len(blocks))
	for _, b := range blocks {
		if b < 0 {
			return nil, fmt.Errorf("%w: got %d", callspec.ErrMissingBlock, b)
		}
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	return out, nil
}

func (s *Service) resolveChainID(ctx context.Context) (uint64, error) {
	if id := s.chainID.Load(); id != 0 {
		return id, nil
	}
	id, err := retry.Do(ctx, s.policy, func(ctx context.Context, _ int) (uint64, error) {
		return s.caller.ChainID(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("resolving chain id: %w", err)
	}
	if id == 0 {
		return 0, callspec.ErrMissingChainID
	}
	s.chainID.Store(id)
	return id, nil
}

// finalizedBlock returns the highest block whose results may be persisted.
func (s *Service) finalizedBlock(ctx context.Context) (int64, error) {
	if s.config.FinalityDepth > 0 {
		head, err := s.blockNumber(ctx, blockchain.BlockTagLatest)
		if err != nil {
			return 0, fmt.Errorf("resolving head: %w", err)
		}
		return head - s.config.FinalityDepth, nil
	}
	finalized, err := s.blockNumber(ctx, blockchain.BlockTagFinalized)
	if err != nil {
		return 0, fmt.Errorf("resolving finalized block: %w", err)
	}
	return finalized, nil
}

func (s *Service) blockNumber(ctx context.Context, tag string) (int64, error) {
	return retry.Do(ctx, s.policy, func(ctx context.Context, _ int) (int64, error) {
		return s.caller.BlockNumber(ctx, tag)
	})
}

// reresolve checks that every missing pair is now available: finalized pairs
// from the cache, newer pairs from the live results of this invocation.
func (s *Service) reresolve(ctx context.Context, missing []pair, finalized int64, found map[entity.CallID]entity.CachedResult, live *liveResults) error {
	var persisted []entity.CallID
	for _, m := range missing {
		if m.block <= finalized {
			persisted = append(persisted, m.id)
			continue
		}
		if _, ok := live.get(m.call, m.block); !ok {
			return fmt.Errorf("%w: %s at block %d was not evaluated", ErrIncompleteFetch, m.call, m.block)
		}
	}
	if len(persisted) == 0 {
		return nil
	}

	lookup, err := s.cache.Get(ctx, persisted)
	if err != nil {
		return fmt.Errorf("re-resolving from cache: %w", err)
	}
	if !lookup.Complete() {
		return fmt.Errorf("%w: %d of %d call(s) still missing from the cache, first %s",
			ErrIncompleteFetch, len(lookup.Missing), len(entity.UniqueIDs(persisted)), lookup.Missing[0])
	}
	for _, r := range lookup.Found {
		found[r.ID] = r
	}
	return nil
}
