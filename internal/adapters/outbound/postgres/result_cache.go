package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/multicallcache/db/migrations"
	"github.com/archon-research/multicallcache/db/migrator"
	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

// Compile-time check that ResultCache implements outbound.AdminCache.
var _ outbound.AdminCache = (*ResultCache)(nil)

// Config holds batch sizes for cache operations.
type Config struct {
	// LookupChunkSize is the number of ids sent in one = ANY($1) query.
	// Default: 10000
	LookupChunkSize int

	// InsertBatchSize is the number of rows in one multi-VALUES INSERT.
	// 9 parameters per row keeps 1000 rows well under the 65535 parameter limit.
	// Default: 1000
	InsertBatchSize int
}

// ConfigDefaults returns a Config with sensible defaults.
func ConfigDefaults() Config {
	return Config{
		LookupChunkSize: 10000,
		InsertBatchSize: 1000,
	}
}

// ResultCache is a PostgreSQL implementation of outbound.AdminCache backed by
// the multicall_cache table.
type ResultCache struct {
	pool      *pgxpool.Pool
	migrator  *migrator.Migrator
	logger    *slog.Logger
	chunkSize int
	batchSize int
}

// NewResultCache creates a PostgreSQL result cache. The cache takes ownership
// of pool and closes it on Close.
func NewResultCache(pool *pgxpool.Pool, logger *slog.Logger, cfg Config) (*ResultCache, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := ConfigDefaults()
	if cfg.LookupChunkSize <= 0 {
		cfg.LookupChunkSize = defaults.LookupChunkSize
	}
	if cfg.InsertBatchSize <= 0 {
		cfg.InsertBatchSize = defaults.InsertBatchSize
	}
	return &ResultCache{
		pool:      pool,
		migrator:  migrator.New(pool, migrations.FS, logger),
		logger:    logger.With("component", "postgres-cache"),
		chunkSize: cfg.LookupChunkSize,
		batchSize: cfg.InsertBatchSize,
	}, nil
}

// CreateStore applies the embedded migrations.
func (c *ResultCache) CreateStore(ctx context.Context) error {
	if err := c.migrator.ApplyAll(ctx); err != nil {
		return fmt.Errorf("creating cache store: %w", err)
	}
	return nil
}

// DropStore drops the cache table and forgets its migrations.
func (c *ResultCache) DropStore(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, "DROP TABLE IF EXISTS multicall_cache"); err != nil {
		return fmt.Errorf("dropping cache table: %w", err)
	}
	if err := c.migrator.Forget(ctx); err != nil {
		return fmt.Errorf("dropping cache store: %w", err)
	}
	c.logger.Info("cache store dropped")
	return nil
}

// Get looks ids up with = ANY($1) in chunks of LookupChunkSize.
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
	keys := make([][]byte, len(ids))
	for i, id := range ids {
		keys[i] = id.Bytes()
	}

	rows, err := c.pool.Query(ctx, `
		SELECT call_id, success, response
		FROM multicall_cache
		WHERE call_id = ANY($1)
	`, keys)
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

func scanResult(row pgx.Row) (entity.CachedResult, error) {
	var (
		idBytes  []byte
		success  bool
		response []byte
	)
	if err := row.Scan(&idBytes, &success, &response); err != nil {
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
	r, err := scanResult(c.pool.QueryRow(ctx, `
		SELECT call_id, success, response
		FROM multicall_cache
		WHERE call_id = $1
	`, id.Bytes()))
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.CachedResult{}, false, nil
	}
	if err != nil {
		return entity.CachedResult{}, false, err
	}
	return r, true, nil
}

// IsCached reports whether id is present.
func (c *ResultCache) IsCached(ctx context.Context, id entity.CallID) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM multicall_cache WHERE call_id = $1)",
		id.Bytes()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking cached result: %w", err)
	}
	return exists, nil
}

// PutAll inserts records in batches inside one transaction.
// Uses ON CONFLICT DO NOTHING to handle duplicates.
func (c *ResultCache) PutAll(ctx context.Context, records []*entity.CallRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(ctx, tx, c.logger)

	for i := 0; i < len(records); i += c.batchSize {
		end := min(i+c.batchSize, len(records))
		if err := c.insertBatch(ctx, tx, records[i:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (c *ResultCache) insertBatch(ctx context.Context, tx pgx.Tx, records []*entity.CallRecord) error {
	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO multicall_cache (call_id, target, signature, arguments_canonical, arguments_exact, block, chain_id, success, response)
		VALUES `)

	args := make([]any, 0, len(records)*9)
	for i, r := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		baseIdx := i * 9
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			baseIdx+1, baseIdx+2, baseIdx+3, baseIdx+4, baseIdx+5, baseIdx+6, baseIdx+7, baseIdx+8, baseIdx+9))

		var response []byte
		if r.Success {
			response = r.Response
			if response == nil {
				response = []byte{}
			}
		}
		args = append(args, r.ID.Bytes(), r.Target, r.Signature, r.ArgumentsCanonical, r.ArgumentsExact,
			r.Block, int64(r.ChainID), r.Success, response)
	}

	sb.WriteString(` ON CONFLICT (call_id) DO NOTHING`)

	if _, err := tx.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("inserting cache batch: %w", err)
	}
	return nil
}

// Delete removes id and reports whether it existed.
func (c *ResultCache) Delete(ctx context.Context, id entity.CallID) (bool, error) {
	tag, err := c.pool.Exec(ctx, "DELETE FROM multicall_cache WHERE call_id = $1", id.Bytes())
	if err != nil {
		return false, fmt.Errorf("deleting cached result: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Count returns the number of stored records.
func (c *ResultCache) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := c.pool.QueryRow(ctx, "SELECT COUNT(*) FROM multicall_cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cached results: %w", err)
	}
	return n, nil
}

// Close closes the connection pool.
func (c *ResultCache) Close() error {
	c.pool.Close()
	return nil
}
