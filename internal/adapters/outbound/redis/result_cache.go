// Package redis provides a Redis implementation of the ResultCache port.
//
// Each record is stored as a JSON value under prefix:call:<hex call id>.
// Writes use SETNX so the first write of an id wins, lookups use MGET in
// chunks, and dropping the store scans and deletes the prefix.
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/redis/go-redis/v9"

	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

// Compile-time check that ResultCache implements outbound.AdminCache
var _ outbound.AdminCache = (*ResultCache)(nil)

// Config holds Redis cache configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Username for Redis ACL authentication (empty for the default user)
	Username string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config
	// KeyPrefix is prepended to all cache keys
	KeyPrefix string
	// ChunkSize bounds the keys in one MGET and the commands in one pipeline.
	ChunkSize int
}

// ConfigDefaults returns sensible defaults for Redis cache configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		KeyPrefix: "multicall",
		ChunkSize: 1000,
	}
}

// ConfigFromURL parses a redis:// or rediss:// URL into a Config with default
// prefix and chunk size. rediss:// enables TLS. The "prefix" query parameter
// overrides the key prefix.
func ConfigFromURL(rawURL string) (Config, error) {
	cfg := ConfigDefaults()

	u, err := url.Parse(rawURL)
	if err != nil {
		return Config{}, fmt.Errorf("parsing redis url: %w", err)
	}
	query := u.Query()
	if prefix := query.Get("prefix"); prefix != "" {
		cfg.KeyPrefix = prefix
	}
	query.Del("prefix")
	u.RawQuery = query.Encode()

	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return Config{}, fmt.Errorf("parsing redis url: %w", err)
	}
	cfg.Addr = opts.Addr
	cfg.Username = opts.Username
	cfg.Password = opts.Password
	cfg.DB = opts.DB
	cfg.TLSConfig = opts.TLSConfig
	return cfg, nil
}

// ResultCache is a Redis implementation of the outbound.AdminCache port.
type ResultCache struct {
	client    *redis.Client
	keyPrefix string
	chunkSize int
	logger    *slog.Logger
}

// NewResultCache creates a new Redis result cache.
func NewResultCache(cfg Config, logger *slog.Logger) (*ResultCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = ConfigDefaults().KeyPrefix
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = ConfigDefaults().ChunkSize
	}

	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Addr,
		Username:  cfg.Username,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: cfg.TLSConfig,
	})

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "redis-cache")

	return &ResultCache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		chunkSize: cfg.ChunkSize,
		logger:    logger,
	}, nil
}

// Ping checks the Redis connection.
func (c *ResultCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *ResultCache) Close() error {
	return c.client.Close()
}

// key generates a cache key in the format prefix:call:<hex id>
func (c *ResultCache) key(id entity.CallID) string {
	return fmt.Sprintf("%s:call:%x", c.keyPrefix, id[:])
}

func (c *ResultCache) pattern() string {
	return c.keyPrefix + ":call:*"
}

// storedRecord is the JSON value kept per key.
type storedRecord struct {
	Target             string `json:"target"`
	Signature          string `json:"signature"`
	ArgumentsCanonical string `json:"arguments_canonical"`
	ArgumentsExact     []byte `json:"arguments_exact,omitempty"`
	Block              int64  `json:"block"`
	ChainID            uint64 `json:"chain_id"`
	Success            bool   `json:"success"`
	Response           []byte `json:"response"`
}

func encodeRecord(r *entity.CallRecord) ([]byte, error) {
	s := storedRecord{
		Target:             r.Target,
		Signature:          r.Signature,
		ArgumentsCanonical: r.ArgumentsCanonical,
		ArgumentsExact:     r.ArgumentsExact,
		Block:              r.Block,
		ChainID:            r.ChainID,
		Success:            r.Success,
	}
	if r.Success {
		s.Response = r.Response
		if s.Response == nil {
			s.Response = []byte{}
		}
	}
	return json.Marshal(s)
}

func decodeResult(id entity.CallID, data []byte) (entity.CachedResult, error) {
	var s storedRecord
	if err := json.Unmarshal(data, &s); err != nil {
		return entity.CachedResult{}, fmt.Errorf("decoding cached record %s: %w", id, err)
	}
	r := entity.CachedResult{ID: id, Success: s.Success}
	if s.Success {
		r.Response = s.Response
	}
	return r, nil
}

// CreateStore verifies the server is reachable. Redis needs no schema.
func (c *ResultCache) CreateStore(ctx context.Context) error {
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("creating cache store: %w", err)
	}
	return nil
}

// DropStore deletes every key under the prefix.
func (c *ResultCache) DropStore(ctx context.Context) error {
	var deleted int64
	err := c.scan(ctx, func(keys []string) error {
		n, err := c.client.Del(ctx, keys...).Result()
		deleted += n
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to drop cache store: %w", err)
	}
	c.logger.Info("cache store dropped", "prefix", c.keyPrefix, "keys", deleted)
	return nil
}

// scan walks every key under the prefix in batches of up to chunkSize.
func (c *ResultCache) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.pattern(), int64(c.chunkSize)).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Get looks ids up with MGET in chunks of ChunkSize.
func (c *ResultCache) Get(ctx context.Context, ids []entity.CallID) (entity.Lookup, error) {
	unique := entity.UniqueIDs(ids)
	found := make(map[entity.CallID]entity.CachedResult, len(unique))

	for start := 0; start < len(unique); start += c.chunkSize {
		chunk := unique[start:min(start+c.chunkSize, len(unique))]
		keys := make([]string, len(chunk))
		for i, id := range chunk {
			keys[i] = c.key(id)
		}

		values, err := c.client.MGet(ctx, keys...).Result()
		if err != nil {
			return entity.Lookup{}, fmt.Errorf("failed to get cached results: %w", err)
		}
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			r, err := decodeResult(chunk[i], []byte(s))
			if err != nil {
				return entity.Lookup{}, err
			}
			found[chunk[i]] = r
		}
	}
	return entity.NewLookup(unique, found), nil
}

// GetOne returns the result for id.
func (c *ResultCache) GetOne(ctx context.Context, id entity.CallID) (entity.CachedResult, bool, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return entity.CachedResult{}, false, nil
	}
	if err != nil {
		return entity.CachedResult{}, false, fmt.Errorf("failed to get cached result: %w", err)
	}
	r, err := decodeResult(id, data)
	if err != nil {
		return entity.CachedResult{}, false, err
	}
	return r, true, nil
}

// IsCached reports whether id is present.
func (c *ResultCache) IsCached(ctx context.Context, id entity.CallID) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check cached result: %w", err)
	}
	return n > 0, nil
}

// PutAll writes records with pipelined SETNX, ChunkSize commands per round trip.
// Records never expire.
func (c *ResultCache) PutAll(ctx context.Context, records []*entity.CallRecord) error {
	for start := 0; start < len(records); start += c.chunkSize {
		chunk := records[start:min(start+c.chunkSize, len(records))]

		pipe := c.client.Pipeline()
		for _, r := range chunk {
			value, err := encodeRecord(r)
			if err != nil {
				return fmt.Errorf("encoding record %s: %w", r.ID, err)
			}
			pipe.SetNX(ctx, c.key(r.ID), value, 0)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to cache results: %w", err)
		}
	}
	return nil
}

// Delete removes id and reports whether it existed.
func (c *ResultCache) Delete(ctx context.Context, id entity.CallID) (bool, error) {
	n, err := c.client.Del(ctx, c.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete cached result: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of keys under the prefix.
func (c *ResultCache) Count(ctx context.Context) (int64, error) {
	// SCAN may return a key more than once
	seen := make(map[string]struct{})
	err := c.scan(ctx, func(keys []string) error {
		for _, k := range keys {
			seen[k] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count cached results: %w", err)
	}
	return int64(len(seen)), nil
}
