package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/poiesic/tributary/connector"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/planner"
	"github.com/poiesic/tributary/storage"
)

// IndexTrigger hands stored entities to the downstream indexer.
type IndexTrigger interface {
	TriggerIndexing(ctx context.Context, req core.IndexJobConfig) error
}

// IndexTriggerFunc adapts a function to IndexTrigger.
type IndexTriggerFunc func(ctx context.Context, req core.IndexJobConfig) error

// TriggerIndexing calls f.
func (f IndexTriggerFunc) TriggerIndexing(ctx context.Context, req core.IndexJobConfig) error {
	return f(ctx, req)
}

// indexDispatcher splits entity ids into index jobs and keeps the
// backfill's total_index_jobs counter ahead of them.
type indexDispatcher struct {
	trigger   IndexTrigger
	progress  storage.ProgressRepository
	batchSize int
}

// dispatch records ceil(len(ids)/batchSize) index jobs against the run,
// then triggers each one.
func (d *indexDispatcher) dispatch(ctx context.Context, run core.BackfillRun, source core.Source, entityIDs []string) (int, error) {
	if len(entityIDs) == 0 {
		return 0, nil
	}
	chunks := planner.Partition(entityIDs, d.batchSize)
	if run.BackfillID != "" && d.progress != nil {
		if _, err := d.progress.Increment(ctx, run.Key(), core.CounterTotalIndexJobs, int64(len(chunks))); err != nil {
			return 0, fmt.Errorf("record index jobs: %w", err)
		}
	}
	for i, chunk := range chunks {
		err := d.trigger.TriggerIndexing(ctx, core.IndexJobConfig{
			TenantID:             run.TenantID,
			Source:               source,
			EntityIDs:            chunk,
			BackfillID:           run.BackfillID,
			SuppressNotification: run.SuppressNotification,
		})
		if err != nil {
			return i, fmt.Errorf("trigger indexing: %w", err)
		}
	}
	return len(chunks), nil
}

// fetchSubResources fetches every sub-resource kind of a record. A failed
// fetch is logged and yields an empty list for that kind.
func fetchSubResources(ctx context.Context, client connector.Client, cat connector.Category, recordID string, logger *slog.Logger) map[string][]json.RawMessage {
	if !cat.HasSubResources() {
		return nil
	}
	subs := make(map[string][]json.RawMessage, len(cat.SubResources))
	for _, kind := range cat.SubResources {
		items, err := client.GetSubResources(ctx, cat, kind, recordID)
		if err != nil {
			logger.Warn("error fetching sub-resources, using none",
				"record_id", recordID, "kind", kind, "err", err)
			items = []json.RawMessage{}
		}
		subs[kind] = items
	}
	return subs
}

// Deleter removes an entity from every backing store.
type Deleter struct {
	artifacts storage.ArtifactRepository
	documents storage.DocumentRepository
	logger    *slog.Logger
}

// NewDeleter creates a deleter. documents may be nil when no index exists.
func NewDeleter(artifacts storage.ArtifactRepository, documents storage.DocumentRepository, logger *slog.Logger) *Deleter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deleter{
		artifacts: artifacts,
		documents: documents,
		logger:    logger.With("component", "deleter"),
	}
}

// DeleteEntity deletes the entity's artifact and document. Reports
// whether either existed.
func (d *Deleter) DeleteEntity(ctx context.Context, tenantID string, source core.Source, entityID string) (bool, error) {
	deleted := false
	if d.artifacts != nil {
		existed, err := d.artifacts.DeleteArtifact(ctx, tenantID, entityID)
		if err != nil {
			return false, fmt.Errorf("delete artifact %s: %w", entityID, err)
		}
		deleted = deleted || existed
	}
	if d.documents != nil {
		existed, err := d.documents.DeleteDocument(ctx, tenantID, entityID)
		if err != nil {
			return deleted, fmt.Errorf("delete document %s: %w", entityID, err)
		}
		deleted = deleted || existed
	}
	d.logger.Debug("deleted entity", "tenant_id", tenantID, "source", source, "entity_id", entityID, "existed", deleted)
	return deleted, nil
}
