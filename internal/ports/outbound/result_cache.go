// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"

	"github.com/archon-research/multicallcache/internal/domain/entity"
)

// ResultCache is a durable store of evaluated calls keyed by CallID.
//
// Records are insert-if-absent: a CallID's outcome at a finalized block never
// changes, so a second write of the same id is silently skipped. Which
// results may be written at all is decided by the caller, not the cache.
type ResultCache interface {
	// Get partitions ids into found results and missing ids. Implementations
	// chunk internally so any number of ids may be requested.
	Get(ctx context.Context, ids []entity.CallID) (entity.Lookup, error)

	// GetOne returns the result for id and whether it was found.
	GetOne(ctx context.Context, id entity.CallID) (entity.CachedResult, bool, error)

	// IsCached reports whether id is present.
	IsCached(ctx context.Context, id entity.CallID) (bool, error)

	// PutAll writes records in batches. Duplicate ids are skipped, never an error.
	PutAll(ctx context.Context, records []*entity.CallRecord) error

	// Delete removes id and reports whether a record existed.
	Delete(ctx context.Context, id entity.CallID) (bool, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// Close releases the underlying connection. The caller owns the lifecycle.
	Close() error
}

// StoreAdmin manages the lifecycle of the store behind a ResultCache.
// These operations are administrative and never run on the fetch path.
type StoreAdmin interface {
	// CreateStore creates the schema if it does not exist.
	CreateStore(ctx context.Context) error

	// DropStore removes the store and everything in it.
	DropStore(ctx context.Context) error
}

// AdminCache is a ResultCache that can also manage its own store.
type AdminCache interface {
	ResultCache
	StoreAdmin
}
