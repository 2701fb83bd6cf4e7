package reindex

import (
	"context"

	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/planner"
	"github.com/poiesic/tributary/storage"
)

// DefaultBatchSize is the number of entities handed to the indexer at once.
const DefaultBatchSize = 25

// EntityIterator walks one tenant's stored entity ids in batches.
type EntityIterator struct {
	artifacts storage.ArtifactRepository
	batchSize int
}

// NewEntityIterator creates an iterator. A non-positive batchSize selects
// DefaultBatchSize.
func NewEntityIterator(artifacts storage.ArtifactRepository, batchSize int) *EntityIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &EntityIterator{artifacts: artifacts, batchSize: batchSize}
}

// Count returns the number of entities ForEach would visit.
func (it *EntityIterator) Count(ctx context.Context, tenantID string, sources []core.Source) (int, error) {
	total := 0
	for _, source := range sources {
		n, err := it.artifacts.CountArtifacts(ctx, tenantID, source)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// ForEach calls fn with each batch of entity ids, source by source.
// Iteration stops at the first error or when ctx is done.
func (it *EntityIterator) ForEach(ctx context.Context, tenantID string, sources []core.Source, fn func(source core.Source, entityIDs []string) error) error {
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := it.artifacts.ListArtifactIDs(ctx, tenantID, source)
		if err != nil {
			return err
		}
		for _, batch := range planner.Partition(ids, it.batchSize) {
			if err := fn(source, batch); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}
