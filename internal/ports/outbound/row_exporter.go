package outbound

import (
	"context"

	"github.com/archon-research/multicallcache/internal/domain/entity"
)

// RowExporter writes a fetched result table somewhere durable.
type RowExporter interface {
	// Export writes rows to the destination. Implementations write JSON lines.
	Export(ctx context.Context, rows []entity.Row) error
}
