package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
	"github.com/archon-research/multicallcache/internal/testutil"
)

func openTestCache(t *testing.T, cfg Config) *ResultCache {
	t.Helper()
	ctx := context.Background()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "cache.db")
	}
	c, err := Open(ctx, cfg, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.CreateStore(ctx); err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	return c
}

func TestResultCache_Contract(t *testing.T) {
	testutil.RunResultCacheSuite(t, func(t *testing.T) outbound.AdminCache {
		// small sizes force several lookup chunks and insert batches
		return openTestCache(t, Config{LookupChunkSize: 64, InsertBatchSize: 50})
	}, 300)
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()

	if _, err := Open(ctx, Config{}, nil); err == nil {
		t.Error("expected error for empty path")
	}

	_, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "x.db"), Table: "bad name; DROP"}, nil)
	if err == nil || !strings.Contains(err.Error(), "invalid table name") {
		t.Errorf("expected invalid table name error, got %v", err)
	}
}

func TestResultCache_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	c := openTestCache(t, Config{Path: path})
	records := testutil.MakeRecords(10)
	if err := c.PutAll(ctx, records); err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := openTestCache(t, Config{Path: path})
	defer reopened.Close()

	n, err := reopened.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 10 {
		t.Errorf("expected 10 records after reopen, got %d", n)
	}
}

func TestDataSourceName_EscapesURIDelimiters(t *testing.T) {
	got := dataSourceName("/data/run?1#a%b.db", 5*time.Second)
	want := "file:/data/run%3F1%23a%25b.db?_busy_timeout=5000"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestResultCache_PathWithURIDelimiters(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run?v=1#x.db")

	c := openTestCache(t, Config{Path: path})
	defer c.Close()
	if err := c.PutAll(ctx, testutil.MakeRecords(3)); err != nil {
		t.Fatalf("PutAll: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected database at %s: %v", path, err)
	}
}

func TestResultCache_SharedFileSeparateTables(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	a := openTestCache(t, Config{Path: path, Table: "cache_a"})
	defer a.Close()
	b := openTestCache(t, Config{Path: path, Table: "cache_b"})
	defer b.Close()

	if err := a.PutAll(ctx, testutil.MakeRecords(4)); err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	if n, _ := b.Count(ctx); n != 0 {
		t.Errorf("expected table cache_b to be empty, got %d", n)
	}
}

func TestResultCache_GetAfterDropFails(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t, Config{})
	defer c.Close()

	if err := c.DropStore(ctx); err != nil {
		t.Fatalf("DropStore: %v", err)
	}
	if _, err := c.Get(ctx, []entity.CallID{testutil.RecordID(1)}); err == nil {
		t.Error("expected an error querying a dropped table")
	}
}
