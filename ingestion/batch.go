package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/tributary/connector"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/jobs"
	"github.com/poiesic/tributary/storage"
)

// BatchIngester processes one batch job: fetch each record, store the
// artifacts in one write, trigger indexing, and count the attempt.
type BatchIngester struct {
	vendors   connector.Factory
	artifacts storage.ArtifactRepository
	progress  storage.ProgressRepository
	index     *indexDispatcher
	settings
}

var _ jobs.Handler = (*BatchIngester)(nil)

// NewBatchIngester creates a batch ingester.
func NewBatchIngester(vendors connector.Factory, artifacts storage.ArtifactRepository, progress storage.ProgressRepository, trigger IndexTrigger, opts ...Option) (*BatchIngester, error) {
	switch {
	case vendors == nil:
		return nil, ErrVendorFactoryRequired
	case artifacts == nil:
		return nil, ErrArtifactRepositoryRequired
	case progress == nil:
		return nil, ErrProgressRepositoryRequired
	case trigger == nil:
		return nil, ErrIndexTriggerRequired
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	s.logger = s.logger.With("component", "batch-ingester")
	return &BatchIngester{
		vendors:   vendors,
		artifacts: artifacts,
		progress:  progress,
		index:     &indexDispatcher{trigger: trigger, progress: progress, batchSize: s.indexBatchSize},
		settings:  s,
	}, nil
}

// Handle runs a batch ingest job.
func (b *BatchIngester) Handle(ctx context.Context, job jobs.Job) jobs.Outcome {
	var cfg core.BatchJobConfig
	if err := job.Decode(&cfg); err != nil {
		return jobs.Permanent(err)
	}
	return b.Process(ctx, job.ID, cfg)
}

// Process ingests one batch.
//
// A batch whose start time is still ahead is deferred with no side
// effects and is not counted as attempted. Otherwise attempted_ingest_jobs
// is incremented exactly once whatever the result, including a batch
// rejected as invalid, and done_ingest_jobs only on success.
func (b *BatchIngester) Process(ctx context.Context, jobID string, cfg core.BatchJobConfig) jobs.Outcome {
	logger := b.logger.With("job_id", jobID, "tenant_id", cfg.TenantID, "source", cfg.Source, "backfill_id", cfg.BackfillID)

	now := b.now()
	if cfg.StartTimestamp != nil && cfg.StartTimestamp.After(now) {
		delay := b.deferBuffer + cfg.StartTimestamp.Sub(now)
		logger.Debug("batch not due yet, deferring", "start", cfg.StartTimestamp, "delay", delay)
		return jobs.Defer(delay)
	}

	run := core.BackfillRun{BackfillID: cfg.BackfillID, TenantID: cfg.TenantID, SuppressNotification: cfg.SuppressNotification}
	defer b.finish(ctx, run, logger)

	if err := core.ValidateBatchJobConfig(&cfg, b.batchSize); err != nil {
		logger.Error("invalid batch, dropping", "records", len(cfg.RecordIDs), "err", err)
		return jobs.Permanent(err)
	}
	if err := b.ingest(ctx, jobID, cfg, logger); err != nil {
		logger.Error("error ingesting batch", "err", err)
		return jobs.FromError(err)
	}
	b.increment(ctx, run, core.CounterDoneIngestJobs, logger)
	return jobs.Success()
}

func (b *BatchIngester) ingest(ctx context.Context, jobID string, cfg core.BatchJobConfig, logger *slog.Logger) error {
	client, err := b.vendors.Client(ctx, cfg.TenantID, cfg.Vendor)
	if err != nil {
		return err
	}
	cat, ok := connector.CategoryForSource(client, cfg.Source)
	if !ok {
		return fmt.Errorf("%w: vendor %s has no category for %s", core.ErrInvalidJobConfig, cfg.Vendor, cfg.Source)
	}

	artifacts := make([]*core.Artifact, 0, len(cfg.RecordIDs))
	for _, id := range cfg.RecordIDs {
		record, err := client.GetRecord(ctx, cat, cfg.Partition, id)
		if err != nil {
			logger.Warn("error fetching record, skipping", "record_id", id, "err", err)
			continue
		}
		if record.Partition == "" {
			record.Partition = cfg.Partition
		}
		subs := fetchSubResources(ctx, client, cat, id, logger)
		artifacts = append(artifacts, core.NewArtifact(cfg.TenantID, cfg.Source, record, subs, jobID))
	}
	if len(artifacts) == 0 {
		logger.Warn("no records fetched in batch", "records", len(cfg.RecordIDs))
		return nil
	}

	written, err := b.artifacts.StoreArtifacts(ctx, artifacts...)
	if err != nil {
		return fmt.Errorf("store artifacts: %w", err)
	}

	entityIDs := make([]string, len(artifacts))
	for i, a := range artifacts {
		entityIDs[i] = a.EntityID
	}
	run := core.BackfillRun{BackfillID: cfg.BackfillID, TenantID: cfg.TenantID, SuppressNotification: cfg.SuppressNotification}
	indexJobs, err := b.index.dispatch(ctx, run, cfg.Source, entityIDs)
	if err != nil {
		return err
	}
	logger.Info("ingested batch",
		"fetched", len(artifacts), "requested", len(cfg.RecordIDs), "written", written, "index_jobs", indexJobs)
	return nil
}

// finish counts the attempt and checks backfill completion.
func (b *BatchIngester) finish(ctx context.Context, run core.BackfillRun, logger *slog.Logger) {
	b.increment(ctx, run, core.CounterAttemptedIngestJobs, logger)
	if b.completion == nil || run.BackfillID == "" || run.TenantID == "" {
		return
	}
	if _, err := b.completion.Check(ctx, run); err != nil {
		logger.Error("error checking backfill completion", "err", err)
	}
}

func (b *BatchIngester) increment(ctx context.Context, run core.BackfillRun, counter core.Counter, logger *slog.Logger) {
	if run.BackfillID == "" || run.TenantID == "" {
		return
	}
	if _, err := b.progress.Increment(ctx, run.Key(), counter, 1); err != nil {
		logger.Error("error incrementing progress counter", "counter", counter, "err", err)
	}
}
