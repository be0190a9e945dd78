package postgres

import (
	"context"
	"testing"
	"time"
)

func TestNewResultCache_NilPool(t *testing.T) {
	if _, err := NewResultCache(nil, nil, Config{}); err == nil {
		t.Error("expected error for nil pool")
	}
}

func TestDefaults(t *testing.T) {
	cfg := ConfigDefaults()
	if cfg.LookupChunkSize != 10000 || cfg.InsertBatchSize != 1000 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.InsertBatchSize*9 > 65535 {
		t.Error("insert batch would exceed the PostgreSQL parameter limit")
	}

	db := DefaultDBConfig("postgres://localhost/x")
	if db.URL != "postgres://localhost/x" || db.MaxConns != 10 || db.MaxConnLifetime != 5*time.Minute {
		t.Errorf("unexpected db defaults: %+v", db)
	}
}

func TestOpenPool_BadURL(t *testing.T) {
	if _, err := OpenPool(context.Background(), DefaultDBConfig("://bad")); err == nil {
		t.Error("expected error for malformed URL")
	}
}
