package redis

import (
	"bytes"
	"crypto/tls"
	"strings"
	"testing"

	"github.com/archon-research/multicallcache/internal/testutil"
)

// --- Test: NewResultCache ---

func TestNewResultCache_CreatesWithConfig(t *testing.T) {
	cfg := Config{
		Addr:      "localhost:6379",
		Username:  "reader",
		Password:  "secret",
		DB:        1,
		TLSConfig: &tls.Config{ServerName: "cache.internal"},
		KeyPrefix: "test",
		ChunkSize: 10,
	}

	cache, err := NewResultCache(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cache.Close()

	opts := cache.client.Options()
	if opts.Username != "reader" || opts.Password != "secret" || opts.DB != 1 {
		t.Errorf("unexpected client options: user=%s db=%d", opts.Username, opts.DB)
	}
	if opts.TLSConfig != cfg.TLSConfig {
		t.Error("expected TLS config to reach the client")
	}
	if cache.keyPrefix != "test" || cache.chunkSize != 10 {
		t.Errorf("unexpected prefix/chunk: %s/%d", cache.keyPrefix, cache.chunkSize)
	}
	if cache.logger == nil {
		t.Fatal("expected default logger to be set, got nil")
	}
}

func TestNewResultCache_EmptyAddrReturnsError(t *testing.T) {
	_, err := NewResultCache(Config{}, nil)
	if err == nil || !strings.Contains(err.Error(), "redis address is required") {
		t.Errorf("expected 'redis address is required' error, got %v", err)
	}
}

func TestNewResultCache_FillsDefaults(t *testing.T) {
	cache, err := NewResultCache(Config{Addr: "localhost:6379"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cache.Close()

	if cache.keyPrefix != "multicall" || cache.chunkSize != 1000 {
		t.Errorf("expected defaults, got prefix=%s chunk=%d", cache.keyPrefix, cache.chunkSize)
	}
}

// --- Test: ConfigFromURL ---

func TestConfigFromURL(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantAddr   string
		wantDB     int
		wantPass   string
		wantPrefix string
		wantUser   string
		wantTLS    bool
		wantErr    bool
	}{
		{name: "plain", url: "redis://localhost:6379", wantAddr: "localhost:6379", wantPrefix: "multicall"},
		{name: "db and password", url: "redis://:pw@cache:6380/3", wantAddr: "cache:6380", wantDB: 3, wantPass: "pw", wantPrefix: "multicall"},
		{name: "prefix", url: "redis://localhost:6379/0?prefix=mainnet", wantAddr: "localhost:6379", wantPrefix: "mainnet"},
		{
			name:       "tls with acl user",
			url:        "rediss://user:pw@h:6380/1",
			wantAddr:   "h:6380",
			wantDB:     1,
			wantPass:   "pw",
			wantPrefix: "multicall",
			wantUser:   "user",
			wantTLS:    true,
		},
		{name: "wrong scheme", url: "http://localhost:6379", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ConfigFromURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Addr != tt.wantAddr || cfg.DB != tt.wantDB || cfg.Password != tt.wantPass || cfg.KeyPrefix != tt.wantPrefix {
				t.Errorf("got %+v", cfg)
			}
			if cfg.Username != tt.wantUser {
				t.Errorf("expected username %q, got %q", tt.wantUser, cfg.Username)
			}
			if (cfg.TLSConfig != nil) != tt.wantTLS {
				t.Errorf("expected TLS=%v, got %+v", tt.wantTLS, cfg.TLSConfig)
			}
		})
	}
}

// --- Test: key and record encoding ---

func TestKeyFormat(t *testing.T) {
	cache, _ := NewResultCache(Config{Addr: "localhost:6379", KeyPrefix: "p"}, nil)
	defer cache.Close()

	id := testutil.RecordID(1)
	want := "p:call:" + strings.TrimPrefix(id.Hex(), "0x")
	if got := cache.key(id); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	if !strings.HasPrefix(cache.key(id), strings.TrimSuffix(cache.pattern(), "*")) {
		t.Error("keys must match the scan pattern")
	}
}

func TestRecordEncoding(t *testing.T) {
	success := testutil.MakeRecord(1)
	data, err := encodeRecord(success)
	if err != nil {
		t.Fatalf("encodeRecord: %v", err)
	}
	r, err := decodeResult(success.ID, data)
	if err != nil {
		t.Fatalf("decodeResult: %v", err)
	}
	if !r.Success || !bytes.Equal(r.Response, success.Response) || r.ID != success.ID {
		t.Errorf("unexpected result %+v", r)
	}

	revert := testutil.MakeRecord(3)
	data, _ = encodeRecord(revert)
	r, err = decodeResult(revert.ID, data)
	if err != nil {
		t.Fatalf("decodeResult: %v", err)
	}
	if r.Success || r.Response != nil {
		t.Errorf("expected revert without response, got %+v", r)
	}

	if _, err := decodeResult(revert.ID, []byte("not json")); err == nil {
		t.Error("expected error decoding garbage")
	}
}
