// Package config loads the settings shared by the multicall commands.
//
// Values are layered: built-in defaults, then an optional YAML file named by
// MULTICALL_CONFIG_PATH (or passed explicitly), then MULTICALL_* environment
// variables. Commands apply their flags on top of the result.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/archon-research/multicallcache/internal/pkg/blockchain"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/multicall"
	"github.com/archon-research/multicallcache/internal/pkg/env"
	"github.com/archon-research/multicallcache/internal/pkg/retry"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
	"github.com/archon-research/multicallcache/internal/services/fetch_pipeline"
)

// PathEnv names the environment variable holding the config file path.
const PathEnv = "MULTICALL_CONFIG_PATH"

// Transports accepted in Config.Transport.
const (
	TransportJSONRPC = "jsonrpc"
	TransportEthRPC  = "ethrpc"
)

// Config holds the configuration for the multicall commands.
type Config struct {
	RPCURL     string            `yaml:"rpc_url"`
	Transport  string            `yaml:"transport"` // jsonrpc or ethrpc
	RPCHeaders map[string]string `yaml:"rpc_headers"`
	Cache      string            `yaml:"cache"` // cache location, see cachestore.Parse
	ChainID    uint64            `yaml:"chain_id"`
	Aggregator string            `yaml:"aggregator"`
	GasLimit   uint64            `yaml:"gas_limit"`

	MaxCallsPerRequest int           `yaml:"max_calls_per_request"`
	Concurrent         bool          `yaml:"concurrent"`
	RateLimit          float64       `yaml:"rate_limit"`
	MaxConnections     int           `yaml:"max_connections"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	FinalityDepth      int64         `yaml:"finality_depth"`
	PersistBatchSize   int           `yaml:"persist_batch_size"`
	Retry              RetryConfig   `yaml:"retry"`

	LogLevel    string          `yaml:"log_level"`
	MetricsAddr string          `yaml:"metrics_addr"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// RetryConfig is the YAML form of retry.Config.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Jitter         bool          `yaml:"jitter"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// OTLPEndpoint is the collector's gRPC address. Empty disables export.
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
	Environment  string  `yaml:"environment"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	pipeline := fetch_pipeline.ConfigDefaults()
	backoff := retry.DefaultConfig()
	return &Config{
		RPCURL:             "http://localhost:8545",
		Transport:          TransportJSONRPC,
		Cache:              "multicall-cache.db",
		Aggregator:         blockchain.Multicall3Address,
		GasLimit:           blockchain.DefaultGasLimit,
		MaxCallsPerRequest: pipeline.MaxCallsPerRequest,
		RateLimit:          pipeline.RateLimit,
		MaxConnections:     pipeline.MaxConnections,
		RequestTimeout:     pipeline.RequestTimeout,
		PersistBatchSize:   pipeline.PersistBatchSize,
		Retry: RetryConfig{
			MaxRetries:     backoff.MaxRetries,
			InitialBackoff: backoff.InitialBackoff,
			MaxBackoff:     backoff.MaxBackoff,
			Jitter:         backoff.Jitter,
		},
		LogLevel: "info",
		Telemetry: TelemetryConfig{
			SampleRate:  1.0,
			Environment: "development",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (or at
// MULTICALL_CONFIG_PATH when path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes the YAML file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides c with any MULTICALL_* variables that are set.
func (c *Config) ApplyEnv() error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error

	c.RPCURL = env.Get("MULTICALL_RPC_URL", c.RPCURL)
	c.Transport = env.Get("MULTICALL_TRANSPORT", c.Transport)
	c.Cache = env.Get("MULTICALL_CACHE", c.Cache)
	c.Aggregator = env.Get("MULTICALL_AGGREGATOR", c.Aggregator)
	c.LogLevel = env.Get("LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = env.Get("MULTICALL_METRICS_ADDR", c.MetricsAddr)
	c.Telemetry.OTLPEndpoint = env.Get("MULTICALL_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.Environment = env.Get("MULTICALL_ENVIRONMENT", c.Telemetry.Environment)

	c.ChainID, err = env.GetUint64("MULTICALL_CHAIN_ID", c.ChainID)
	collect(err)
	c.GasLimit, err = env.GetUint64("MULTICALL_GAS_LIMIT", c.GasLimit)
	collect(err)
	c.MaxCallsPerRequest, err = env.GetInt("MULTICALL_MAX_CALLS", c.MaxCallsPerRequest)
	collect(err)
	c.Concurrent, err = env.GetBool("MULTICALL_CONCURRENT", c.Concurrent)
	collect(err)
	c.RateLimit, err = env.GetFloat("MULTICALL_RATE_LIMIT", c.RateLimit)
	collect(err)
	c.MaxConnections, err = env.GetInt("MULTICALL_MAX_CONNECTIONS", c.MaxConnections)
	collect(err)
	c.RequestTimeout, err = env.GetDuration("MULTICALL_REQUEST_TIMEOUT", c.RequestTimeout)
	collect(err)
	c.PersistBatchSize, err = env.GetInt("MULTICALL_PERSIST_BATCH_SIZE", c.PersistBatchSize)
	collect(err)
	c.Retry.MaxRetries, err = env.GetInt("MULTICALL_MAX_RETRIES", c.Retry.MaxRetries)
	collect(err)
	c.Telemetry.SampleRate, err = env.GetFloat("MULTICALL_SAMPLE_RATE", c.Telemetry.SampleRate)
	collect(err)

	depth, err := env.GetInt("MULTICALL_FINALITY_DEPTH", int(c.FinalityDepth))
	collect(err)
	c.FinalityDepth = int64(depth)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Transport != TransportJSONRPC && c.Transport != TransportEthRPC {
		errs = append(errs, fmt.Errorf("transport must be %q or %q, got %q", TransportJSONRPC, TransportEthRPC, c.Transport))
	}
	if c.Cache == "" {
		errs = append(errs, errors.New("cache location is required"))
	}
	if !common.IsHexAddress(c.Aggregator) {
		errs = append(errs, fmt.Errorf("aggregator %q is not an address", c.Aggregator))
	}
	if c.MaxCallsPerRequest <= 0 {
		errs = append(errs, errors.New("max_calls_per_request must be positive"))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, errors.New("rate_limit must be positive"))
	}
	if c.MaxConnections <= 0 {
		errs = append(errs, errors.New("max_connections must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if c.FinalityDepth < 0 {
		errs = append(errs, errors.New("finality_depth must not be negative"))
	}
	if c.PersistBatchSize <= 0 {
		errs = append(errs, errors.New("persist_batch_size must be positive"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, errors.New("telemetry.sample_rate must be within [0, 1]"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() slog.Level {
	return env.LevelFromString(c.LogLevel, slog.LevelInfo)
}

// Pipeline maps c onto the fetch pipeline configuration.
func (c *Config) Pipeline(metrics outbound.MetricsRecorder, logger *slog.Logger) fetch_pipeline.Config {
	backoff := retry.DefaultConfig()
	backoff.MaxRetries = c.Retry.MaxRetries
	backoff.Jitter = c.Retry.Jitter
	if c.Retry.InitialBackoff > 0 {
		backoff.InitialBackoff = c.Retry.InitialBackoff
	}
	if c.Retry.MaxBackoff > 0 {
		backoff.MaxBackoff = c.Retry.MaxBackoff
	}

	return fetch_pipeline.Config{
		ChainID:            c.ChainID,
		Aggregator:         multicall.NewAggregator(common.HexToAddress(c.Aggregator)),
		MaxCallsPerRequest: c.MaxCallsPerRequest,
		Concurrent:         c.Concurrent,
		RateLimit:          c.RateLimit,
		MaxConnections:     c.MaxConnections,
		RequestTimeout:     c.RequestTimeout,
		Retry:              backoff,
		FinalityDepth:      c.FinalityDepth,
		PersistBatchSize:   c.PersistBatchSize,
		Metrics:            metrics,
		Logger:             logger,
	}
}
