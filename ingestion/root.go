package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/tributary/connector"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/jobs"
	"github.com/poiesic/tributary/planner"
	"github.com/poiesic/tributary/queue"
	"github.com/poiesic/tributary/storage"
)

const claimScopeRootJob = "root-job"

// RootResult summarizes one root job run.
type RootResult struct {
	BackfillID string
	Batches    int
	// Duplicate is set when the guard found the job already handled.
	Duplicate bool
}

// RootOrchestrator turns "sync everything for this tenant" into throttled
// batch jobs for one backfill.
type RootOrchestrator struct {
	vendors  connector.Factory
	queue    queue.Enqueuer
	progress storage.ProgressRepository
	cursors  storage.CursorRepository
	settings
}

var _ jobs.Handler = (*RootOrchestrator)(nil)

// NewRootOrchestrator creates an orchestrator.
func NewRootOrchestrator(vendors connector.Factory, q queue.Enqueuer, progress storage.ProgressRepository, cursors storage.CursorRepository, opts ...Option) (*RootOrchestrator, error) {
	switch {
	case vendors == nil:
		return nil, ErrVendorFactoryRequired
	case q == nil:
		return nil, ErrQueueRequired
	case progress == nil:
		return nil, ErrProgressRepositoryRequired
	case cursors == nil:
		return nil, ErrCursorRepositoryRequired
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	s.logger = s.logger.With("component", "root-orchestrator")
	return &RootOrchestrator{vendors: vendors, queue: q, progress: progress, cursors: cursors, settings: s}, nil
}

// Handle runs a root ingest job.
func (o *RootOrchestrator) Handle(ctx context.Context, job jobs.Job) jobs.Outcome {
	var cfg core.RootJobConfig
	if err := job.Decode(&cfg); err != nil {
		return jobs.Permanent(err)
	}
	_, err := o.Run(ctx, job.ID, cfg)
	return jobs.FromError(err)
}

// Run discovers every record id of the connection and enqueues batch jobs.
//
// A disabled category counts as empty. Any other discovery error aborts
// the run before anything is enqueued. The total batch count is recorded
// before the first enqueue, and every category's cursor is advanced to the
// run's start time afterwards, including empty categories. A run that
// fails while enqueueing releases its guard and uncounts the batches it
// did not enqueue, so a retry of the root job starts over cleanly.
func (o *RootOrchestrator) Run(ctx context.Context, jobID string, cfg core.RootJobConfig) (*RootResult, error) {
	if err := core.ValidateConnection(cfg.TenantID, cfg.Vendor); err != nil {
		return nil, err
	}
	startedAt := o.now().UTC()
	backfillID := cfg.BackfillID
	if backfillID == "" {
		backfillID = uuid.NewString()
	}
	logger := o.logger.With("tenant_id", cfg.TenantID, "vendor", cfg.Vendor, "backfill_id", backfillID)

	client, err := o.vendors.Client(ctx, cfg.TenantID, cfg.Vendor)
	if err != nil {
		return nil, err
	}
	cursor, err := o.cursors.LoadCursor(ctx, cfg.TenantID, cfg.Vendor)
	if err != nil {
		return nil, err
	}
	partitions, err := connector.SelectPartitions(ctx, client, cursor)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	groups, err := o.discover(ctx, client, cfg, backfillID, partitions, logger)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	result := &RootResult{BackfillID: backfillID, Batches: total}

	if total == 0 {
		logger.Info("nothing to sync")
		return result, o.advanceCursor(ctx, client, cfg, partitions, startedAt)
	}

	var guardKey string
	if o.rootGuard != nil && jobID != "" {
		guardKey = cfg.TenantID + ":" + jobID
		won, err := o.rootGuard.Claim(ctx, claimScopeRootJob, guardKey)
		if err != nil {
			return nil, err
		}
		if !won {
			logger.Warn("root job already enqueued its batches, skipping", "job_id", jobID)
			result.Duplicate = true
			return result, nil
		}
	}

	run := core.BackfillRun{BackfillID: backfillID, TenantID: cfg.TenantID, SuppressNotification: cfg.SuppressNotification}
	unqueued, err := o.enqueue(ctx, run, groups, total, startedAt)
	if err != nil {
		o.rollback(context.WithoutCancel(ctx), run, guardKey, unqueued, cfg.BackfillID == "", logger)
		return nil, err
	}
	logger.Info("enqueued backfill batches", "batches", total, "groups", len(groups))

	if err := o.advanceCursor(ctx, client, cfg, partitions, startedAt); err != nil {
		return nil, err
	}
	return result, nil
}

// enqueue records total_ingest_jobs and then enqueues every batch. On
// failure it returns how many counted batches never reached the queue.
func (o *RootOrchestrator) enqueue(ctx context.Context, run core.BackfillRun, groups [][]core.BatchJobConfig, total int, startedAt time.Time) (int, error) {
	if _, err := o.progress.Increment(ctx, run.Key(), core.CounterTotalIngestJobs, int64(total)); err != nil {
		return 0, fmt.Errorf("record total ingest jobs: %w", err)
	}
	for i, batch := range planner.Interleave(groups) {
		batch.StartTimestamp = o.throttle.StartAt(i, startedAt)
		if _, err := jobs.Enqueue(ctx, o.queue, jobs.KindBatchIngest, batch, nil); err != nil {
			return total - i, fmt.Errorf("enqueue batch %d of %d: %w", i+1, total, err)
		}
	}
	return 0, nil
}

// rollback leaves a failed run retryable. The guard is released so the
// redelivered root job runs again, and batches that never reached the
// queue are taken back out of total_ingest_jobs so the batches already
// queued can still complete the backfill. When the retry will mint a new
// backfill id, the old one is checked for completion here since its
// queued batches may all have finished already.
func (o *RootOrchestrator) rollback(ctx context.Context, run core.BackfillRun, guardKey string, unqueued int, finalRun bool, logger *slog.Logger) {
	if guardKey != "" {
		if err := o.rootGuard.Release(ctx, claimScopeRootJob, guardKey); err != nil {
			logger.Error("error releasing root job guard", "err", err)
		}
	}
	if unqueued == 0 {
		return
	}
	if _, err := o.progress.Increment(ctx, run.Key(), core.CounterTotalIngestJobs, -int64(unqueued)); err != nil {
		logger.Error("error rolling back total ingest jobs", "unqueued", unqueued, "err", err)
		return
	}
	logger.Warn("rolled back unqueued batches", "unqueued", unqueued)
	if finalRun && o.completion != nil {
		if _, err := o.completion.Check(ctx, run); err != nil {
			logger.Error("error checking backfill completion", "err", err)
		}
	}
}

// discover lists every category in every partition and returns one group
// of batch configs per (category, partition).
func (o *RootOrchestrator) discover(ctx context.Context, client connector.Client, cfg core.RootJobConfig, backfillID string, partitions []string, logger *slog.Logger) ([][]core.BatchJobConfig, error) {
	var groups [][]core.BatchJobConfig
	for _, cat := range client.Categories() {
		for _, partition := range partitions {
			ids, err := client.ListRecordIDs(ctx, cat, partition)
			if err != nil {
				if connector.IsCategoryDisabled(err) {
					logger.Warn("category disabled, skipping", "category", cat.Slug, "partition", partition, "err", err)
					continue
				}
				return nil, fmt.Errorf("list %s in %q: %w", cat.Slug, partition, err)
			}
			batches := planner.Partition(ids, o.batchSize)
			if len(batches) == 0 {
				continue
			}
			group := make([]core.BatchJobConfig, len(batches))
			for i, recordIDs := range batches {
				group[i] = core.BatchJobConfig{
					TenantID:             cfg.TenantID,
					Vendor:               cfg.Vendor,
					Source:               cat.Source,
					Partition:            partition,
					RecordIDs:            recordIDs,
					BackfillID:           backfillID,
					SuppressNotification: cfg.SuppressNotification,
				}
			}
			logger.Debug("discovered records", "category", cat.Slug, "partition", partition, "records", len(ids), "batches", len(batches))
			groups = append(groups, group)
		}
	}
	return groups, nil
}

func (o *RootOrchestrator) advanceCursor(ctx context.Context, client connector.Client, cfg core.RootJobConfig, partitions []string, at time.Time) error {
	return o.cursors.UpdateCursor(ctx, cfg.TenantID, cfg.Vendor, func(c *core.SyncCursor) error {
		for _, cat := range client.Categories() {
			c.MarkSynced(cat.Source, at)
		}
		if partitioned(client) {
			c.SyncedProjectIDs = append([]string(nil), partitions...)
		}
		return nil
	})
}

// partitioned reports whether the vendor's categories live in projects.
func partitioned(client connector.Client) bool {
	for _, cat := range client.Categories() {
		if cat.Source.Partitioned() {
			return true
		}
	}
	return false
}
