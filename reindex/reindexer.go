package reindex

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/index"
	"github.com/poiesic/tributary/storage"
)

// Config holds configuration for a reindex run.
type Config struct {
	// BatchSize is the number of entities per indexer call
	BatchSize int

	// ReportInterval is how often to report progress (number of entities)
	ReportInterval int

	// MaxRetries is the maximum number of attempts per batch
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     time.Second,
	}
}

// Indexer builds documents for entities.
type Indexer interface {
	Index(ctx context.Context, cfg core.IndexJobConfig) (*index.Result, error)
}

var _ Indexer = (*index.Indexer)(nil)

// Summary reports what a run did.
type Summary struct {
	Entities int
	Indexed  int
	Skipped  int
	Chunks   int
	Elapsed  time.Duration
}

// Reindexer rebuilds the documents of every stored artifact of a tenant.
type Reindexer struct {
	indexer  Indexer
	iterator *EntityIterator
	config   *Config
	progress io.Writer
}

// NewReindexer creates a reindexer.
// progress: where to write progress output (typically os.Stderr)
func NewReindexer(artifacts storage.ArtifactRepository, indexer Indexer, config *Config, progress io.Writer) (*Reindexer, error) {
	switch {
	case artifacts == nil:
		return nil, ErrArtifactRepositoryRequired
	case indexer == nil:
		return nil, ErrIndexerRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries <= 0 {
		return nil, ErrInvalidMaxAttempts
	}
	if progress == nil {
		progress = io.Discard
	}
	return &Reindexer{
		indexer:  indexer,
		iterator: NewEntityIterator(artifacts, config.BatchSize),
		config:   config,
		progress: progress,
	}, nil
}

// Run reindexes the given sources of one tenant, or every known source
// when none are given.
func (r *Reindexer) Run(ctx context.Context, tenantID string, sources ...core.Source) (*Summary, error) {
	if err := core.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		sources = core.AllSources()
	}

	total, err := r.iterator.Count(ctx, tenantID, sources)
	if err != nil {
		return nil, fmt.Errorf("failed to count artifacts: %w", err)
	}
	summary := &Summary{Entities: total}
	if total == 0 {
		fmt.Fprintf(r.progress, "No artifacts found for tenant %s (0 entities)\n", tenantID)
		return summary, nil
	}
	fmt.Fprintf(r.progress, "Starting reindex of %d entities (batch size: %d)\n", total, r.iterator.batchSize)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	err = r.iterator.ForEach(ctx, tenantID, sources, func(source core.Source, entityIDs []string) error {
		var result *index.Result
		err := RetryWithBackoff(ctx, func() error {
			var err error
			result, err = r.indexer.Index(ctx, core.IndexJobConfig{
				TenantID:  tenantID,
				Source:    source,
				EntityIDs: entityIDs,
			})
			return err
		}, r.config.MaxRetries, r.config.RetryDelay)
		if err != nil {
			return fmt.Errorf("failed to index %s batch after %d attempts: %w", source, r.config.MaxRetries, err)
		}
		summary.Indexed += result.Indexed
		summary.Skipped += result.Skipped
		summary.Chunks += result.Chunks
		tracker.Increment(len(entityIDs))
		return nil
	})
	tracker.Finish()
	summary.Elapsed = tracker.Elapsed()
	if err != nil {
		return summary, err
	}

	fmt.Fprintf(r.progress, "Reindex complete. Indexed %d of %d entities in %v\n",
		summary.Indexed, total, summary.Elapsed.Round(time.Millisecond))
	return summary, nil
}
