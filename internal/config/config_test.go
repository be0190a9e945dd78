package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/archon-research/multicallcache/internal/pkg/blockchain"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "multicall.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// --- Test: Load ---

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(PathEnv, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport != TransportJSONRPC {
		t.Errorf("expected jsonrpc transport, got %q", cfg.Transport)
	}
	if cfg.MaxCallsPerRequest != 1000 || cfg.MaxConnections != 10 || cfg.RateLimit != 10 {
		t.Errorf("unexpected pipeline defaults %+v", cfg)
	}
	if cfg.Aggregator != blockchain.Multicall3Address {
		t.Errorf("expected Multicall3, got %s", cfg.Aggregator)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.InitialBackoff != time.Second {
		t.Errorf("unexpected retry defaults %+v", cfg.Retry)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
rpc_url: https://eth.example.org
transport: ethrpc
cache: postgres://localhost/multicall
max_calls_per_request: 250
concurrent: true
request_timeout: 5s
retry:
  max_retries: 5
  initial_backoff: 250ms
rpc_headers:
  x-api-key: secret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RPCURL != "https://eth.example.org" || cfg.Transport != TransportEthRPC {
		t.Errorf("unexpected node settings %q %q", cfg.RPCURL, cfg.Transport)
	}
	if cfg.MaxCallsPerRequest != 250 || !cfg.Concurrent {
		t.Errorf("unexpected pipeline settings %+v", cfg)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.RequestTimeout)
	}
	if cfg.Retry.MaxRetries != 5 || cfg.Retry.InitialBackoff != 250*time.Millisecond {
		t.Errorf("unexpected retry %+v", cfg.Retry)
	}
	// absent keys keep their defaults
	if cfg.Retry.MaxBackoff != 30*time.Second || cfg.MaxConnections != 10 {
		t.Errorf("expected untouched defaults, got %+v", cfg)
	}
	if cfg.RPCHeaders["x-api-key"] != "secret" {
		t.Errorf("expected header, got %v", cfg.RPCHeaders)
	}
}

func TestLoad_PathFromEnvironment(t *testing.T) {
	t.Setenv(PathEnv, writeConfig(t, "chain_id: 137\n"))

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChainID != 137 {
		t.Errorf("expected chain 137, got %d", cfg.ChainID)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "rate_limit: 5\ncache: from-file.db\n")
	t.Setenv("MULTICALL_RATE_LIMIT", "25.5")
	t.Setenv("MULTICALL_CACHE", "redis://localhost:6379/0")
	t.Setenv("MULTICALL_FINALITY_DEPTH", "64")
	t.Setenv("MULTICALL_REQUEST_TIMEOUT", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimit != 25.5 {
		t.Errorf("expected 25.5, got %v", cfg.RateLimit)
	}
	if cfg.Cache != "redis://localhost:6379/0" {
		t.Errorf("expected env cache, got %q", cfg.Cache)
	}
	if cfg.FinalityDepth != 64 || cfg.RequestTimeout != 2*time.Second {
		t.Errorf("unexpected %d %v", cfg.FinalityDepth, cfg.RequestTimeout)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		env     map[string]string
		wantErr string
	}{
		{name: "unknown key", body: "rpc_urll: x\n", wantErr: "failed to decode config file"},
		{name: "bad duration", body: "request_timeout: soon\n", wantErr: "failed to decode config file"},
		{name: "bad env int", env: map[string]string{"MULTICALL_MAX_CALLS": "lots"}, wantErr: "MULTICALL_MAX_CALLS"},
		{name: "bad env uint", env: map[string]string{"MULTICALL_CHAIN_ID": "-1"}, wantErr: "MULTICALL_CHAIN_ID"},
		{name: "bad transport", body: "transport: ws\n", wantErr: "transport must be"},
		{name: "bad aggregator", body: "aggregator: multicall\n", wantErr: "is not an address"},
		{name: "negative depth", body: "finality_depth: -1\n", wantErr: "finality_depth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(PathEnv, "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// --- Test: Validate ---

func TestValidate_ReportsEverything(t *testing.T) {
	cfg := Defaults()
	cfg.Cache = ""
	cfg.MaxConnections = 0
	cfg.Telemetry.SampleRate = 2

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"cache location", "max_connections", "sample_rate"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

// --- Test: Pipeline ---

func TestPipeline(t *testing.T) {
	cfg := Defaults()
	cfg.ChainID = 10
	cfg.Aggregator = blockchain.Multicall2Address
	cfg.FinalityDepth = 32
	cfg.Retry = RetryConfig{MaxRetries: 1}

	logger := slog.New(slog.DiscardHandler)
	p := cfg.Pipeline(outbound.NopMetrics{}, logger)

	if p.ChainID != 10 || p.FinalityDepth != 32 {
		t.Errorf("unexpected pipeline %+v", p)
	}
	if p.Aggregator.Address() != blockchain.Multicall2 {
		t.Errorf("expected Multicall2, got %s", p.Aggregator.Address())
	}
	if p.Retry.MaxRetries != 1 || p.Retry.InitialBackoff != time.Second {
		t.Errorf("expected default backoff with one retry, got %+v", p.Retry)
	}
	if p.Logger != logger {
		t.Error("expected logger to be passed through")
	}
}

func TestLevel(t *testing.T) {
	cfg := Defaults()
	if cfg.Level() != slog.LevelInfo {
		t.Errorf("expected info, got %v", cfg.Level())
	}
	cfg.LogLevel = "debug"
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("expected debug, got %v", cfg.Level())
	}
}
