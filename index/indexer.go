package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/tributary/ai"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/ingestion"
	"github.com/poiesic/tributary/jobs"
	"github.com/poiesic/tributary/storage"
	"github.com/tmc/langchaingo/textsplitter"
)

// Result summarizes one index job.
type Result struct {
	Requested int
	Indexed   int
	Missing   int
	Skipped   int
	Chunks    int
}

// Option configures an Indexer.
type Option func(*Indexer) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) error {
		if logger == nil {
			logger = slog.Default()
		}
		ix.logger = logger
		return nil
	}
}

// WithTransformers replaces the source dispatch table.
func WithTransformers(t Transformers) Option {
	return func(ix *Indexer) error {
		ix.transformers = t
		return nil
	}
}

// WithChunking sets the chunk size and overlap in characters.
func WithChunking(size, overlap int) Option {
	return func(ix *Indexer) error {
		if size < 1 || overlap < 0 || overlap >= size {
			return fmt.Errorf("invalid chunking: size %d, overlap %d", size, overlap)
		}
		ix.splitter = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		)
		return nil
	}
}

// WithProgress counts finished index jobs against their backfill.
func WithProgress(progress storage.ProgressRepository) Option {
	return func(ix *Indexer) error {
		ix.progress = progress
		return nil
	}
}

// WithCompletionTracker checks backfill completion after each job.
func WithCompletionTracker(t *ingestion.CompletionTracker) Option {
	return func(ix *Indexer) error {
		ix.completion = t
		return nil
	}
}

// Indexer turns artifacts into embedded documents.
type Indexer struct {
	artifacts    storage.ArtifactRepository
	documents    storage.DocumentRepository
	embedder     ai.Embedder
	splitter     textsplitter.TextSplitter
	transformers Transformers
	progress     storage.ProgressRepository
	completion   *ingestion.CompletionTracker
	logger       *slog.Logger
	now          func() time.Time
}

var (
	_ jobs.Handler           = (*Indexer)(nil)
	_ ingestion.IndexTrigger = (*Indexer)(nil)
)

// NewIndexer creates an indexer.
func NewIndexer(artifacts storage.ArtifactRepository, documents storage.DocumentRepository, embedder ai.Embedder, opts ...Option) (*Indexer, error) {
	switch {
	case artifacts == nil:
		return nil, ingestion.ErrArtifactRepositoryRequired
	case documents == nil:
		return nil, ErrDocumentRepositoryRequired
	case embedder == nil:
		return nil, ErrEmbedderRequired
	}
	cfg := ai.DefaultConfig()
	ix := &Indexer{
		artifacts:    artifacts,
		documents:    documents,
		embedder:     embedder,
		transformers: DefaultTransformers(),
		logger:       slog.Default(),
		now:          time.Now,
	}
	if err := WithChunking(cfg.ChunkSize, cfg.ChunkOverlap)(ix); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(ix); err != nil {
			return nil, err
		}
	}
	ix.logger = ix.logger.With("component", "indexer")
	return ix, nil
}

// Handle runs an index job.
func (ix *Indexer) Handle(ctx context.Context, job jobs.Job) jobs.Outcome {
	var cfg core.IndexJobConfig
	if err := job.Decode(&cfg); err != nil {
		return jobs.Permanent(err)
	}
	_, err := ix.Index(ctx, cfg)
	return jobs.FromError(err)
}

// TriggerIndexing indexes synchronously.
func (ix *Indexer) TriggerIndexing(ctx context.Context, cfg core.IndexJobConfig) error {
	_, err := ix.Index(ctx, cfg)
	return err
}

// Index builds and stores the documents of one job. Entities whose
// artifact is gone are skipped, as are artifacts that cannot be rendered.
// Embedding and store failures are returned so the job is retried.
//
// done_index_jobs is counted once the documents are stored.
func (ix *Indexer) Index(ctx context.Context, cfg core.IndexJobConfig) (*Result, error) {
	if err := core.ValidateTenantID(cfg.TenantID); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidJobConfig, err)
	}
	logger := ix.logger.With("tenant_id", cfg.TenantID, "source", cfg.Source, "backfill_id", cfg.BackfillID)
	result := &Result{Requested: len(cfg.EntityIDs)}

	artifacts, err := ix.artifacts.GetArtifacts(ctx, cfg.TenantID, cfg.EntityIDs...)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}
	result.Missing = len(cfg.EntityIDs) - len(artifacts)

	docs := make([]*core.Document, 0, len(artifacts))
	var texts []string
	for _, a := range artifacts {
		doc, err := ix.transformers.Transform(a)
		if err != nil {
			logger.Warn("error rendering artifact, skipping", "entity_id", a.EntityID, "err", err)
			result.Skipped++
			continue
		}
		pieces, err := ix.split(doc.Content)
		if err != nil {
			logger.Warn("error splitting document, skipping", "entity_id", a.EntityID, "err", err)
			result.Skipped++
			continue
		}
		doc.Chunks = make([]core.Chunk, len(pieces))
		for i, text := range pieces {
			doc.Chunks[i] = core.Chunk{ID: core.ChunkID(doc.EntityID, i), Ordinal: i, Text: text}
		}
		texts = append(texts, pieces...)
		docs = append(docs, doc)
	}

	if len(texts) > 0 {
		vectors, err := ix.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: %d texts, %d vectors", ErrEmbeddingMismatch, len(texts), len(vectors))
		}
		next := 0
		for _, doc := range docs {
			for i := range doc.Chunks {
				doc.Chunks[i].Vector = NormalizeVector(vectors[next])
				next++
			}
		}
		result.Chunks = len(texts)
	}

	indexedAt := ix.now().UTC()
	for _, doc := range docs {
		doc.IndexedAt = indexedAt
	}
	if err := ix.documents.UpsertDocuments(ctx, docs...); err != nil {
		return nil, fmt.Errorf("store documents: %w", err)
	}
	result.Indexed = len(docs)
	logger.Info("indexed documents",
		"requested", result.Requested, "indexed", result.Indexed, "chunks", result.Chunks,
		"missing", result.Missing, "skipped", result.Skipped)

	ix.finish(ctx, cfg, logger)
	return result, nil
}

func (ix *Indexer) split(content string) ([]string, error) {
	if content == "" {
		return nil, nil
	}
	return ix.splitter.SplitText(content)
}

func (ix *Indexer) finish(ctx context.Context, cfg core.IndexJobConfig, logger *slog.Logger) {
	if cfg.BackfillID == "" || ix.progress == nil {
		return
	}
	run := core.BackfillRun{BackfillID: cfg.BackfillID, TenantID: cfg.TenantID, SuppressNotification: cfg.SuppressNotification}
	if _, err := ix.progress.Increment(ctx, run.Key(), core.CounterDoneIndexJobs, 1); err != nil {
		logger.Error("error incrementing progress counter", "counter", core.CounterDoneIndexJobs, "err", err)
		return
	}
	if ix.completion == nil {
		return
	}
	if _, err := ix.completion.Check(ctx, run); err != nil {
		logger.Error("error checking backfill completion", "err", err)
	}
}
