// result_cache.go provides an in-memory implementation of ResultCache.
//
// It backs tests and one-shot runs that should not leave anything on disk.
// All operations are thread-safe. Data is lost when the process exits.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory cache is closed")

// Compile-time check that ResultCache implements outbound.AdminCache
var _ outbound.AdminCache = (*ResultCache)(nil)

// ResultCache is an in-memory ResultCache.
type ResultCache struct {
	mu      sync.RWMutex
	records map[entity.CallID]entity.CallRecord
	closed  bool
}

// NewResultCache creates an empty in-memory cache.
func NewResultCache() *ResultCache {
	return &ResultCache{records: make(map[entity.CallID]entity.CallRecord)}
}

// Get partitions ids into found and missing.
func (c *ResultCache) Get(ctx context.Context, ids []entity.CallID) (entity.Lookup, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return entity.Lookup{}, ErrClosed
	}

	found := make(map[entity.CallID]entity.CachedResult)
	for _, id := range ids {
		if r, ok := c.records[id]; ok {
			found[id] = r.Result()
		}
	}
	return entity.NewLookup(ids, found), nil
}

// GetOne returns the result for id.
func (c *ResultCache) GetOne(ctx context.Context, id entity.CallID) (entity.CachedResult, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return entity.CachedResult{}, false, ErrClosed
	}
	r, ok := c.records[id]
	if !ok {
		return entity.CachedResult{}, false, nil
	}
	return r.Result(), true, nil
}

// IsCached reports whether id is present.
func (c *ResultCache) IsCached(ctx context.Context, id entity.CallID) (bool, error) {
	_, ok, err := c.GetOne(ctx, id)
	return ok, err
}

// PutAll stores records that are not already present.
func (c *ResultCache) PutAll(ctx context.Context, records []*entity.CallRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for _, r := range records {
		if _, exists := c.records[r.ID]; exists {
			continue
		}
		stored := *r
		stored.Response = append([]byte(nil), r.Response...)
		stored.ArgumentsExact = append([]byte(nil), r.ArgumentsExact...)
		c.records[r.ID] = stored
	}
	return nil
}

// Delete removes id.
func (c *ResultCache) Delete(ctx context.Context, id entity.CallID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	_, ok := c.records[id]
	delete(c.records, id)
	return ok, nil
}

// Count returns the number of stored records.
func (c *ResultCache) Count(ctx context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0, ErrClosed
	}
	return int64(len(c.records)), nil
}

// CreateStore is a no-op; the map exists from construction.
func (c *ResultCache) CreateStore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// DropStore removes every record.
func (c *ResultCache) DropStore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.records = make(map[entity.CallID]entity.CallRecord)
	return nil
}

// Close marks the cache closed.
func (c *ResultCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Record returns the full stored record for id. Test helper.
func (c *ResultCache) Record(id entity.CallID) (entity.CallRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[id]
	return r, ok
}
