package ingestion

import (
	"context"
	"fmt"

	"github.com/poiesic/tributary/connector"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/jobs"
	"github.com/poiesic/tributary/planner"
	"github.com/poiesic/tributary/queue"
	"github.com/poiesic/tributary/storage"
)

// IncrementalSyncer enqueues batches for records changed since each
// category's last sync, minus an overlap. Categories never synced are
// left to the next full backfill.
type IncrementalSyncer struct {
	vendors connector.Factory
	queue   queue.Enqueuer
	cursors storage.CursorRepository
	settings
}

var _ jobs.Handler = (*IncrementalSyncer)(nil)

// NewIncrementalSyncer creates an incremental syncer.
func NewIncrementalSyncer(vendors connector.Factory, q queue.Enqueuer, cursors storage.CursorRepository, opts ...Option) (*IncrementalSyncer, error) {
	switch {
	case vendors == nil:
		return nil, ErrVendorFactoryRequired
	case q == nil:
		return nil, ErrQueueRequired
	case cursors == nil:
		return nil, ErrCursorRepositoryRequired
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	s.logger = s.logger.With("component", "incremental-sync")
	return &IncrementalSyncer{vendors: vendors, queue: q, cursors: cursors, settings: s}, nil
}

// Handle runs an incremental sync job.
func (s *IncrementalSyncer) Handle(ctx context.Context, job jobs.Job) jobs.Outcome {
	var cfg core.IncrementalJobConfig
	if err := job.Decode(&cfg); err != nil {
		return jobs.Permanent(err)
	}
	_, err := s.Run(ctx, cfg)
	return jobs.FromError(err)
}

// Run performs one incremental pass and returns the number of batches
// enqueued. Cursors of the synced categories advance to the pass's start
// time only after every listing succeeded.
func (s *IncrementalSyncer) Run(ctx context.Context, cfg core.IncrementalJobConfig) (int, error) {
	if err := core.ValidateConnection(cfg.TenantID, cfg.Vendor); err != nil {
		return 0, err
	}
	startedAt := s.now().UTC()
	logger := s.logger.With("tenant_id", cfg.TenantID, "vendor", cfg.Vendor)

	client, err := s.vendors.Client(ctx, cfg.TenantID, cfg.Vendor)
	if err != nil {
		return 0, err
	}
	cursor, err := s.cursors.LoadCursor(ctx, cfg.TenantID, cfg.Vendor)
	if err != nil {
		return 0, err
	}
	partitions, err := connector.SelectPartitions(ctx, client, cursor)
	if err != nil {
		return 0, fmt.Errorf("list partitions: %w", err)
	}

	var groups [][]core.BatchJobConfig
	var synced []core.Source
	for _, cat := range client.Categories() {
		since, ok := cursor.IncrementalSince(cat.Source, s.incrementalOverlap)
		if !ok {
			logger.Debug("category never synced, leaving it to a backfill", "category", cat.Slug)
			continue
		}
		for _, partition := range partitions {
			ids, err := client.ListUpdatedRecordIDs(ctx, cat, partition, since)
			if err != nil {
				if connector.IsCategoryDisabled(err) {
					logger.Warn("category disabled, skipping", "category", cat.Slug, "partition", partition)
					continue
				}
				return 0, fmt.Errorf("list updated %s in %q: %w", cat.Slug, partition, err)
			}
			var group []core.BatchJobConfig
			for _, recordIDs := range planner.Partition(ids, s.batchSize) {
				group = append(group, core.BatchJobConfig{
					TenantID:  cfg.TenantID,
					Vendor:    cfg.Vendor,
					Source:    cat.Source,
					Partition: partition,
					RecordIDs: recordIDs,
				})
			}
			if len(group) > 0 {
				groups = append(groups, group)
			}
		}
		synced = append(synced, cat.Source)
	}

	batches := planner.Interleave(groups)
	for i, batch := range batches {
		batch.StartTimestamp = s.throttle.StartAt(i, startedAt)
		if _, err := jobs.Enqueue(ctx, s.queue, jobs.KindBatchIngest, batch, nil); err != nil {
			return i, fmt.Errorf("enqueue batch: %w", err)
		}
	}

	err = s.cursors.UpdateCursor(ctx, cfg.TenantID, cfg.Vendor, func(c *core.SyncCursor) error {
		for _, source := range synced {
			c.MarkSynced(source, startedAt)
		}
		return nil
	})
	if err != nil {
		return len(batches), err
	}
	logger.Info("incremental sync enqueued", "batches", len(batches), "categories", len(synced))
	return len(batches), nil
}
