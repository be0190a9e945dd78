package fetch_pipeline

import (
	"context"
	"fmt"

	"github.com/archon-research/multicallcache/internal/domain/entity"
)

// batchWriter is the only cache writer of an invocation. It accumulates
// records and writes them PersistBatchSize at a time.
func (s *Service) batchWriter(ctx context.Context, recordCh <-chan []*entity.CallRecord) error {
	batch := make([]*entity.CallRecord, 0, s.config.PersistBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.cache.PutAll(ctx, batch); err != nil {
			return fmt.Errorf("persisting %d record(s): %w", len(batch), err)
		}
		s.metrics.RecordPersisted(ctx, len(batch))
		batch = batch[:0]
		return nil
	}

	for records := range recordCh {
		batch = append(batch, records...)
		if len(batch) >= s.config.PersistBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	return flush()
}
