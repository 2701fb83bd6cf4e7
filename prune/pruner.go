package prune

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/tributary/connector"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/ingestion"
	"github.com/poiesic/tributary/jobs"
	"github.com/poiesic/tributary/storage"
)

// CategoryResult reports one category of a pass.
type CategoryResult struct {
	Source  core.Source
	Indexed int
	Stale   []string
	Deleted int
}

// Result reports one pass over a tenant's vendor connection.
type Result struct {
	TenantID   string
	Vendor     core.Vendor
	Categories []CategoryResult
	// Skipped is set when no partition list could be obtained.
	Skipped bool
}

// Deleted sums the deletions of every category.
func (r *Result) Deleted() int {
	total := 0
	for _, c := range r.Categories {
		total += c.Deleted
	}
	return total
}

// Option configures a Pruner.
type Option func(*Pruner) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pruner) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithMaxDeletionRatio sets the abort threshold of the detector.
// Default is DefaultMaxDeletionRatio.
func WithMaxDeletionRatio(ratio float64) Option {
	return func(p *Pruner) error {
		if ratio <= 0 || ratio > 1 {
			return ErrInvalidRatio
		}
		p.maxRatio = ratio
		return nil
	}
}

// WithDryRun reports stale documents without deleting them.
func WithDryRun(dryRun bool) Option {
	return func(p *Pruner) error {
		p.dryRun = dryRun
		return nil
	}
}

// WithCursors restricts partitioned vendors to the projects selected in
// the tenant's sync cursor.
func WithCursors(cursors storage.CursorRepository) Option {
	return func(p *Pruner) error {
		p.cursors = cursors
		return nil
	}
}

// Pruner runs the staleness pass for every category of a vendor.
type Pruner struct {
	vendors   connector.Factory
	documents storage.DocumentRepository
	cursors   storage.CursorRepository
	deleter   *ingestion.Deleter
	detector  *Detector
	maxRatio  float64
	dryRun    bool
	logger    *slog.Logger
}

var _ jobs.Handler = (*Pruner)(nil)

// NewPruner creates a pruner.
func NewPruner(vendors connector.Factory, documents storage.DocumentRepository, deleter *ingestion.Deleter, opts ...Option) (*Pruner, error) {
	switch {
	case vendors == nil:
		return nil, ErrVendorFactoryRequired
	case documents == nil:
		return nil, ErrDocumentRepositoryRequired
	case deleter == nil:
		return nil, ErrDeleterRequired
	}
	p := &Pruner{
		vendors:   vendors,
		documents: documents,
		deleter:   deleter,
		maxRatio:  DefaultMaxDeletionRatio,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "pruner")
	detector, err := NewDetector(p.maxRatio, p.logger)
	if err != nil {
		return nil, err
	}
	p.detector = detector
	return p, nil
}

// Handle runs a prune job.
func (p *Pruner) Handle(ctx context.Context, job jobs.Job) jobs.Outcome {
	var cfg core.PruneJobConfig
	if err := job.Decode(&cfg); err != nil {
		return jobs.Permanent(err)
	}
	_, err := p.Prune(ctx, cfg)
	return jobs.FromError(err)
}

// Prune runs one pass. Listing failures never surface as errors; they only
// shrink what may be deleted. Store errors are returned.
func (p *Pruner) Prune(ctx context.Context, cfg core.PruneJobConfig) (*Result, error) {
	if err := core.ValidateConnection(cfg.TenantID, cfg.Vendor); err != nil {
		return nil, err
	}
	logger := p.logger.With("tenant_id", cfg.TenantID, "vendor", cfg.Vendor)
	result := &Result{TenantID: cfg.TenantID, Vendor: cfg.Vendor}

	client, err := p.vendors.Client(ctx, cfg.TenantID, cfg.Vendor)
	if err != nil {
		return nil, err
	}
	var cursor *core.SyncCursor
	if p.cursors != nil {
		if cursor, err = p.cursors.LoadCursor(ctx, cfg.TenantID, cfg.Vendor); err != nil {
			return nil, err
		}
	}
	partitions, err := connector.SelectPartitions(ctx, client, cursor)
	if err != nil {
		logger.Warn("error listing partitions, skipping pass", "err", err)
		result.Skipped = true
		return result, nil
	}

	for _, cat := range client.Categories() {
		cr, err := p.pruneCategory(ctx, cfg.TenantID, client, cat, partitions, logger.With("source", cat.Source))
		if err != nil {
			return result, err
		}
		result.Categories = append(result.Categories, cr)
	}
	logger.Info("prune pass finished", "deleted", result.Deleted(), "dry_run", p.dryRun)
	return result, nil
}

func (p *Pruner) pruneCategory(ctx context.Context, tenantID string, client connector.Client, cat connector.Category, partitions []string, logger *slog.Logger) (CategoryResult, error) {
	cr := CategoryResult{Source: cat.Source}
	indexed, err := p.documents.ListDocumentIDs(ctx, tenantID, cat.Source)
	if err != nil {
		return cr, fmt.Errorf("list indexed %s: %w", cat.Source, err)
	}
	cr.Indexed = len(indexed)

	list := func(ctx context.Context, partition string) ([]string, error) {
		ids, err := client.ListRecordIDs(ctx, cat, partition)
		if err != nil {
			return nil, err
		}
		entityIDs := make([]string, len(ids))
		for i, id := range ids {
			entityIDs[i] = core.EntityID(cat.Source, partition, id)
		}
		return entityIDs, nil
	}
	cr.Stale = p.detector.FindStale(ctx, indexed, partitions, list, partitionFunc(cat.Source))
	if len(cr.Stale) == 0 || p.dryRun {
		logger.Debug("stale documents", "indexed", cr.Indexed, "stale", len(cr.Stale))
		return cr, nil
	}

	for _, entityID := range cr.Stale {
		existed, err := p.deleter.DeleteEntity(ctx, tenantID, cat.Source, entityID)
		if err != nil {
			return cr, err
		}
		if existed {
			cr.Deleted++
		}
	}
	logger.Info("pruned stale documents", "indexed", cr.Indexed, "deleted", cr.Deleted)
	return cr, nil
}

// partitionFunc maps entity ids of unpartitioned sources to the single
// implicit partition.
func partitionFunc(source core.Source) PartitionFunc {
	if !source.Partitioned() {
		return func(string) (string, bool) { return "", true }
	}
	return func(entityID string) (string, bool) {
		return core.PartitionOf(source, entityID)
	}
}
