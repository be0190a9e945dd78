// Package sqlite provides a file-backed ResultCache on top of SQLite.
//
// The database runs in WAL mode with a busy timeout so that several processes
// can share one cache file. Writes are insert-if-absent via
// ON CONFLICT(call_id) DO NOTHING.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

// Compile-time check that ResultCache implements outbound.AdminCache
var _ outbound.AdminCache = (*ResultCache)(nil)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds SQLite cache configuration.
type Config struct {
	// Path is the database file. It is created on first use.
	Path string
	// Table is the cache table name.
	// Default: "multicall_cache"
	Table string
	// LookupChunkSize bounds the ids bound into one SELECT.
	// Default: 500
	LookupChunkSize int
	// InsertBatchSize bounds the rows in one multi-VALUES INSERT.
	// Default: 500
	InsertBatchSize int
	// BusyTimeout is how long a connection waits on a locked database.
	// Default: 10s
	BusyTimeout time.Duration
}

// ConfigDefaults returns sensible defaults for path.
func ConfigDefaults(path string) Config {
	return Config{
		Path:            path,
		Table:           "multicall_cache",
		LookupChunkSize: 500,
		InsertBatchSize: 500,
		BusyTimeout:     10 * time.Second,
	}
}

// ResultCache is a SQLite implementation of outbound.AdminCache.
type ResultCache struct {
	db        *sql.DB
	table     string
	chunkSize int
	batchSize int
	logger    *slog.Logger
}

// Open opens (and if needed creates) the database file at cfg.Path.
// The cache table itself is created by CreateStore.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*ResultCache, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	defaults := ConfigDefaults(cfg.Path)
	if cfg.Table == "" {
		cfg.Table = defaults.Table
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if cfg.LookupChunkSize <= 0 {
		cfg.LookupChunkSize = defaults.LookupChunkSize
	}
	if cfg.InsertBatchSize <= 0 {
		cfg.InsertBatchSize = defaults.InsertBatchSize
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = defaults.BusyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dataSourceName(cfg.Path, cfg.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for concurrent readers alongside the batch writer
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	return &ResultCache{
		db:        db,
		table:     cfg.Table,
		chunkSize: cfg.LookupChunkSize,
		batchSize: cfg.InsertBatchSize,
		logger:    logger.With("component", "sqlite-cache", "path", cfg.Path),
	}, nil
}

// uriPathEscaper escapes the characters that end the path part of an SQLite URI.
var uriPathEscaper = strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23")

func dataSourceName(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?_busy_timeout=%d", uriPathEscaper.Replace(path), busyTimeout.Milliseconds())
}

// CreateStore creates the cache table if it does not exist.
func (c *ResultCache) CreateStore(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		call_id BLOB PRIMARY KEY,
		target TEXT NOT NULL,
		signature TEXT NOT NULL,
		arguments_canonical TEXT NOT NULL,
		arguments_exact BLOB,
		block INTEGER NOT NULL,
		chain_id INTEGER NOT NULL,
		success INTEGER NOT NULL,
		response BLOB
	) WITHOUT ROWID`, c.table)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s table: %w", c.table, err)
	}
	c.logger.Debug("cache table ready", "table", c.table)
	return nil
}

// DropStore drops the cache table.
func (c *ResultCache) DropStore(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", c.table)); err != nil {
		return fmt.Errorf("failed to drop %s table: %w", c.table, err)
	}
	c.logger.Info("cache table dropped", "table", c.table)
	return nil
}

// Get looks ids up in chunks of LookupChunkSize.
func (c *ResultCache) Get(ctx context.Context, ids []entity.CallID) (entity.Lookup, error) {
	unique := entity.UniqueIDs(ids)
	found := make(map[entity.CallID]entity.CachedResult, len(unique))

	for start := 0; start < len(unique); start += c.chunkSize {
		end := min(start+c.chunkSize, len(unique))
		if err := c.getChunk(ctx, unique[start:end], found); err != nil {
			return entity.Lookup{}, err
		}
	}
	return entity.NewLookup(unique, found), nil
}

func (c *ResultCache) getChunk(ctx context.Context, ids []entity.CallID, found map[entity.CallID]entity.CachedResult) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.Bytes()
	}

	query := fmt.Sprintf("SELECT call_id, success, response FROM %s WHERE call_id IN (%s)", c.table, placeholders)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying cached results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return err
		}
		found[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating cached results: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(s scanner) (entity.CachedResult, error) {
	var (
		idBytes  []byte
		success  bool
		response []byte
	)
	if err := s.Scan(&idBytes, &success, &response); err != nil {
		return entity.CachedResult{}, fmt.Errorf("scanning cached result: %w", err)
	}
	id, err := entity.CallIDFromBytes(idBytes)
	if err != nil {
		return entity.CachedResult{}, fmt.Errorf("scanning cached result: %w", err)
	}
	if !success {
		response = nil
	}
	return entity.CachedResult{ID: id, Success: success, Response: response}, nil
}

// GetOne returns the result for id.
func (c *ResultCache) GetOne(ctx context.Context, id entity.CallID) (entity.CachedResult, bool, error) {
	row := c.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT call_id, success, response FROM %s WHERE call_id = ?", c.table),
		id.Bytes())
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.CachedResult{}, false, nil
	}
	if err != nil {
		return entity.CachedResult{}, false, err
	}
	return r, true, nil
}

// IsCached reports whether id is present.
func (c *ResultCache) IsCached(ctx context.Context, id entity.CallID) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE call_id = ?", c.table),
		id.Bytes()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking cached result: %w", err)
	}
	return true, nil
}

// PutAll inserts records in batches inside one transaction.
// Uses ON CONFLICT DO NOTHING to handle duplicates.
func (c *ResultCache) PutAll(ctx context.Context, records []*entity.CallRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx, c.logger)

	for i := 0; i < len(records); i += c.batchSize {
		end := min(i+c.batchSize, len(records))
		if err := c.insertBatch(ctx, tx, records[i:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (c *ResultCache) insertBatch(ctx context.Context, tx *sql.Tx, records []*entity.CallRecord) error {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`
		INSERT INTO %s (call_id, target, signature, arguments_canonical, arguments_exact, block, chain_id, success, response)
		VALUES `, c.table))

	args := make([]any, 0, len(records)*9)
	for i, r := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")

		var response any
		if r.Success {
			response = nonNil(r.Response)
		}
		args = append(args, r.ID.Bytes(), r.Target, r.Signature, r.ArgumentsCanonical, r.ArgumentsExact,
			r.Block, int64(r.ChainID), r.Success, response)
	}
	sb.WriteString(" ON CONFLICT(call_id) DO NOTHING")

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("inserting cache batch: %w", err)
	}
	return nil
}

// Delete removes id and reports whether it existed.
func (c *ResultCache) Delete(ctx context.Context, id entity.CallID) (bool, error) {
	res, err := c.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE call_id = ?", c.table), id.Bytes())
	if err != nil {
		return false, fmt.Errorf("deleting cached result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting cached result: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of stored records.
func (c *ResultCache) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", c.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cached results: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (c *ResultCache) Close() error {
	return c.db.Close()
}

// rollback rolls back the transaction and logs the error if it is not sql.ErrTxDone.
func rollback(tx *sql.Tx, logger *slog.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Error("failed to rollback transaction", "error", err)
	}
}

// nonNil keeps an empty successful response distinct from NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
