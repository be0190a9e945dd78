package fetch_pipeline

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/archon-research/multicallcache/internal/adapters/outbound/ethrpc"
	"github.com/archon-research/multicallcache/internal/adapters/outbound/jsonrpc"
	"github.com/archon-research/multicallcache/internal/adapters/outbound/sqlite"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/callspec"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
	"github.com/archon-research/multicallcache/internal/testutil"
)

func openSQLiteCache(t *testing.T) *sqlite.ResultCache {
	t.Helper()
	ctx := context.Background()
	cache, err := sqlite.Open(ctx, sqlite.ConfigDefaults(filepath.Join(t.TempDir(), "cache.db")), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	if err := cache.CreateStore(ctx); err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	return cache
}

func TestEndToEnd_Transports(t *testing.T) {
	tests := []struct {
		name    string
		connect func(t *testing.T, url string) outbound.EthCaller
	}{
		{
			name: "jsonrpc",
			connect: func(t *testing.T, url string) outbound.EthCaller {
				cfg := jsonrpc.ClientConfigDefaults()
				cfg.HTTPURL = url
				client, err := jsonrpc.NewClient(cfg)
				if err != nil {
					t.Fatalf("NewClient: %v", err)
				}
				return client
			},
		},
		{
			name: "ethrpc",
			connect: func(t *testing.T, url string) outbound.EthCaller {
				cfg := ethrpc.ConfigDefaults()
				cfg.URL = url
				client, err := ethrpc.Dial(context.Background(), cfg, testutil.DiscardLogger())
				if err != nil {
					t.Fatalf("Dial: %v", err)
				}
				t.Cleanup(client.Close)
				return client
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newChain()
			node := testutil.StartMockNode(t, chain)
			cache := openSQLiteCache(t)

			cfg := testConfig()
			cfg.MaxCallsPerRequest = 2
			svc := newTestService(t, cfg, tt.connect(t, node.URL), cache)
			ctx := context.Background()

			calls := append(standardCalls(t), balanceCall(t, frozen, "frozen"))
			blocks := []int64{850, 950}

			rows, err := svc.Fetch(ctx, calls, blocks)
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if len(rows) != 2 {
				t.Fatalf("expected 2 rows, got %d", len(rows))
			}
			if rows[0].Values["bal"] != "2550" || rows[1].Values["r1"] != "1900" {
				t.Errorf("unexpected rows %+v", rows)
			}
			if rows[0].Values["frozen"] != callspec.CallFailed {
				t.Errorf("expected CallFailed, got %v", rows[0].Values["frozen"])
			}

			// only block 850 is finalized
			if n := count(t, cache); n != 4 {
				t.Errorf("expected 4 cached records, got %d", n)
			}

			requests := chain.CallCount()
			if _, err := svc.Fetch(ctx, calls, []int64{850}); err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if chain.CallCount() != requests {
				t.Errorf("expected block 850 to be served from cache")
			}
		})
	}
}

func TestEndToEnd_RetriesHTTPFailures(t *testing.T) {
	chain := newChain()
	node := testutil.StartMockNode(t, chain)

	cfg := jsonrpc.ClientConfigDefaults()
	cfg.HTTPURL = node.URL
	client, err := jsonrpc.NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	pipelineCfg := testConfig()
	pipelineCfg.ChainID = 1
	svc := newTestService(t, pipelineCfg, client, openSQLiteCache(t))

	node.FailNextHTTP(http.StatusTooManyRequests, http.StatusBadGateway)
	rows, err := svc.Fetch(context.Background(), []*callspec.CallSpec{balanceCall(t, holder, "bal")}, []int64{10})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rows[0].Values["bal"] != "30" {
		t.Errorf("unexpected value %v", rows[0].Values["bal"])
	}
}
