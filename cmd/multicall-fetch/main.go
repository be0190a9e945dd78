// Package main runs one multicall fetch described by a job file: every call
// is evaluated at every block, served from the result cache where possible,
// and the resulting rows are written as JSON lines to stdout, a file or S3.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/archon-research/multicallcache/internal/adapters/outbound/cachestore"
	"github.com/archon-research/multicallcache/internal/adapters/outbound/ethrpc"
	"github.com/archon-research/multicallcache/internal/adapters/outbound/file"
	"github.com/archon-research/multicallcache/internal/adapters/outbound/jsonrpc"
	prommetrics "github.com/archon-research/multicallcache/internal/adapters/outbound/prometheus"
	"github.com/archon-research/multicallcache/internal/adapters/outbound/s3"
	"github.com/archon-research/multicallcache/internal/adapters/outbound/telemetry"
	"github.com/archon-research/multicallcache/internal/config"
	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
	"github.com/archon-research/multicallcache/internal/services/fetch_pipeline"
)

const serviceName = "multicall-fetch"

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	configPath  string
	jobPath     string
	rpcURL      string
	cache       string
	out         string
	metricsAddr string
	concurrent  bool
	overwrite   bool
	verbose     bool

	// set records which flags were given explicitly.
	set map[string]bool
}

func parseFlags(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (default: $MULTICALL_CONFIG_PATH)")
	jobPath := fs.String("job", "", "Job file listing calls and blocks (required)")
	rpcURL := fs.String("rpc-url", "", "Node JSON-RPC endpoint")
	cache := fs.String("cache", "", "Cache location (sqlite path, memory://, postgres://, redis://)")
	out := fs.String("out", "-", "Output: '-' for stdout, a file path (.gz to compress) or s3://bucket/key")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	concurrent := fs.Bool("concurrent", false, "Issue requests concurrently under the rate limiter")
	overwrite := fs.Bool("overwrite", false, "Replace an existing S3 object")
	verbose := fs.Bool("verbose", false, "Enable verbose logging")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		configPath:  *configPath,
		jobPath:     *jobPath,
		rpcURL:      *rpcURL,
		cache:       *cache,
		out:         *out,
		metricsAddr: *metricsAddr,
		concurrent:  *concurrent,
		overwrite:   *overwrite,
		verbose:     *verbose,
		set:         make(map[string]bool),
	}
	fs.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })

	if cfg.jobPath == "" {
		return cliConfig{}, fmt.Errorf("--job is required")
	}
	return cfg, nil
}

// apply overrides cfg with the flags given on the command line.
func (c cliConfig) apply(cfg *config.Config) {
	if c.set["rpc-url"] {
		cfg.RPCURL = c.rpcURL
	}
	if c.set["cache"] {
		cfg.Cache = c.cache
	}
	if c.set["metrics-addr"] {
		cfg.MetricsAddr = c.metricsAddr
	}
	if c.set["concurrent"] {
		cfg.Concurrent = c.concurrent
	}
	if c.verbose {
		cfg.LogLevel = "debug"
	}
}

func run(args []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	cli, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return err
	}
	cli.apply(cfg)
	if cfg.RPCURL == "" {
		return fmt.Errorf("node URL not provided (use --rpc-url flag or MULTICALL_RPC_URL env var)")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// rows may go to stdout, so logs go to stderr
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down...", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	j, err := loadJob(cli.jobPath)
	if err != nil {
		return err
	}

	shutdownTelemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	metrics, stopMetrics, err := newMetrics(cfg, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	cache, err := cachestore.Open(ctx, cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer cache.Close()

	caller, closeCaller, err := newCaller(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCaller()

	exporter, err := newExporter(ctx, cli.out, cli.overwrite, logger)
	if err != nil {
		return err
	}

	service, err := fetch_pipeline.NewService(cfg.Pipeline(metrics, logger), caller, cache)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	start := time.Now()
	var rows []entity.Row
	if j.latest {
		row, err := service.FetchLatest(ctx, j.calls)
		if err != nil {
			return err
		}
		rows = []entity.Row{row}
	} else {
		rows, err = service.Fetch(ctx, j.calls, j.blocks)
		if err != nil {
			return err
		}
	}

	if err := exporter.Export(ctx, rows); err != nil {
		return fmt.Errorf("exporting rows: %w", err)
	}
	logger.Info("fetch complete",
		"calls", len(j.calls),
		"rows", len(rows),
		"duration", time.Since(start))
	return nil
}

// newCaller connects the configured transport.
func newCaller(ctx context.Context, cfg *config.Config, logger *slog.Logger) (outbound.EthCaller, func(), error) {
	switch cfg.Transport {
	case config.TransportEthRPC:
		ethCfg := ethrpc.ConfigDefaults()
		ethCfg.URL = cfg.RPCURL
		ethCfg.Timeout = cfg.RequestTimeout
		ethCfg.GasLimit = cfg.GasLimit
		ethCfg.Headers = cfg.RPCHeaders
		client, err := ethrpc.Dial(ctx, ethCfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to node: %w", err)
		}
		return client, client.Close, nil
	default:
		rpcCfg := jsonrpc.ClientConfigDefaults()
		rpcCfg.HTTPURL = cfg.RPCURL
		rpcCfg.Timeout = cfg.RequestTimeout
		rpcCfg.GasLimit = cfg.GasLimit
		rpcCfg.Headers = cfg.RPCHeaders
		client, err := jsonrpc.NewClient(rpcCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("creating RPC client: %w", err)
		}
		return client, func() {}, nil
	}
}

// newExporter picks the row destination from --out.
func newExporter(ctx context.Context, out string, overwrite bool, logger *slog.Logger) (outbound.RowExporter, error) {
	if !strings.HasPrefix(out, "s3://") {
		return file.NewExporter(out, logger)
	}

	dest, err := s3.ParseURL(out)
	if err != nil {
		return nil, err
	}
	dest.Overwrite = overwrite

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewExporter(awsCfg, dest, logger)
}

// initTelemetry starts OTLP trace and metric export when an endpoint is set.
func initTelemetry(ctx context.Context, cfg *config.Config) (func(), error) {
	if cfg.Telemetry.OTLPEndpoint == "" {
		return func() {}, nil
	}

	tracerCfg := telemetry.TracerConfigDefaults()
	tracerCfg.ServiceName = serviceName
	tracerCfg.Environment = cfg.Telemetry.Environment
	tracerCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	tracerCfg.SampleRate = cfg.Telemetry.SampleRate
	shutdownTracer, err := telemetry.InitTracer(ctx, tracerCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing tracer: %w", err)
	}

	shutdownMeter, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    serviceName,
		ServiceVersion: tracerCfg.ServiceVersion,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := errors.Join(shutdownMeter(shutdownCtx), shutdownTracer(shutdownCtx)); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}, nil
}

// newMetrics combines the OpenTelemetry recorder with a Prometheus endpoint
// when --metrics-addr is set.
func newMetrics(cfg *config.Config, logger *slog.Logger) (outbound.MetricsRecorder, func(), error) {
	var recorders outbound.MultiMetrics
	if cfg.Telemetry.OTLPEndpoint != "" {
		otelMetrics, err := telemetry.NewMetrics(serviceName)
		if err != nil {
			return nil, nil, fmt.Errorf("creating otel metrics: %w", err)
		}
		recorders = append(recorders, otelMetrics)
	}
	if cfg.MetricsAddr == "" {
		return recorders, func() {}, nil
	}

	registry := prometheus.NewRegistry()
	promMetrics, err := prommetrics.NewMetrics(registry, "multicall")
	if err != nil {
		return nil, nil, fmt.Errorf("creating prometheus metrics: %w", err)
	}
	recorders = append(recorders, promMetrics)

	listener, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on %s: %w", cfg.MetricsAddr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", listener.Addr().String())

	return recorders, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}, nil
}
