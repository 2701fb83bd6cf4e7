// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package tributary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/poiesic/tributary/ai"
	"github.com/poiesic/tributary/ai/openai"
	"github.com/poiesic/tributary/config"
	"github.com/poiesic/tributary/connector"
	"github.com/poiesic/tributary/connector/attio"
	"github.com/poiesic/tributary/connector/posthog"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/index"
	"github.com/poiesic/tributary/ingestion"
	"github.com/poiesic/tributary/jobs"
	"github.com/poiesic/tributary/prune"
	"github.com/poiesic/tributary/queue"
	"github.com/poiesic/tributary/reindex"
	"github.com/poiesic/tributary/search"
	"github.com/poiesic/tributary/storage"
	"github.com/poiesic/tributary/storage/badger"
	"github.com/poiesic/tributary/storage/postgres"
	"github.com/poiesic/tributary/webhook"
)

// Platform owns the stores, the queue and every job handler of one
// tributary process.
type Platform struct {
	config   *config.Config
	repos    *badger.Repositories
	pg       *postgres.DB
	progress storage.ProgressRepository
	claims   storage.ClaimRepository
	queue    queue.Queue
	provider ai.Provider
	vendors  connector.Factory
	registry *jobs.Registry
	deleter  *ingestion.Deleter
	indexer  *index.Indexer
	logger   *slog.Logger
}

// PlatformOption configures a Platform.
type PlatformOption func(*platformOptions)

type platformOptions struct {
	logger   *slog.Logger
	provider ai.Provider
	vendors  connector.Factory
	notifier ingestion.Notifier
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) PlatformOption {
	return func(o *platformOptions) {
		o.logger = logger
	}
}

// WithAIProvider replaces the OpenAI-compatible embedding provider.
func WithAIProvider(p ai.Provider) PlatformOption {
	return func(o *platformOptions) {
		o.provider = p
	}
}

// WithVendorFactory replaces the vendor clients built from configuration.
func WithVendorFactory(f connector.Factory) PlatformOption {
	return func(o *platformOptions) {
		o.vendors = f
	}
}

// WithNotifier sets who is told about completed backfills.
func WithNotifier(n ingestion.Notifier) PlatformOption {
	return func(o *platformOptions) {
		o.notifier = n
	}
}

// Open validates cfg and builds a platform from it.
func Open(cfg *config.Config, opts ...PlatformOption) (*Platform, error) {
	options := &platformOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Platform{config: cfg, logger: options.logger}
	if err := p.open(options); err != nil {
		if cerr := p.Close(); cerr != nil {
			p.logger.Error("error closing partially opened platform", "err", cerr)
		}
		return nil, err
	}
	return p, nil
}

func (p *Platform) open(options *platformOptions) error {
	backend, err := badger.OpenBackend(p.config.Storage.Path, p.config.Storage.InMemory)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	p.repos = badger.NewRepositories(backend)
	p.progress = p.repos.Progress
	p.claims = p.repos.Claims

	if dsn := p.config.Progress.DSN; dsn != "" {
		p.pg, err = postgres.Open(dsn)
		if err != nil {
			return fmt.Errorf("open progress store: %w", err)
		}
		p.progress = postgres.NewProgressRepository(p.pg)
		p.claims = postgres.NewClaimRepository(p.pg)
	}

	p.queue, err = queue.OpenFromDSN(p.config.Queue.DSN,
		queue.WithName(p.config.Queue.Name),
		queue.WithVisibilityTimeout(p.config.Queue.VisibilityTimeout),
		queue.WithMaxExtension(p.config.Queue.MaxExtension))
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}

	p.provider = options.provider
	if p.provider == nil {
		p.provider, err = openai.NewProvider(&p.config.AI)
		if err != nil {
			return fmt.Errorf("create AI provider: %w", err)
		}
	}

	p.vendors = options.vendors
	if p.vendors == nil {
		p.vendors = p.vendorRegistry()
	}

	p.deleter = ingestion.NewDeleter(p.repos.Artifacts, p.repos.Documents, p.logger)
	return p.registerHandlers(options.notifier)
}

func (p *Platform) vendorRegistry() *connector.Registry {
	registry := connector.NewRegistry()
	registry.Register(core.VendorAttio, func(tenantID string) (connector.Client, error) {
		return attio.New(attio.Options{
			BaseURL: p.config.Vendors.Attio.BaseURL,
			Token:   p.config.TokenFor(tenantID, core.VendorAttio),
			Logger:  p.logger,
		})
	})
	registry.Register(core.VendorPostHog, func(tenantID string) (connector.Client, error) {
		return posthog.New(posthog.Options{
			BaseURL: p.config.Vendors.PostHog.BaseURL,
			Token:   p.config.TokenFor(tenantID, core.VendorPostHog),
			Logger:  p.logger,
		})
	})
	return registry
}

func (p *Platform) registerHandlers(notifier ingestion.Notifier) error {
	completion := ingestion.NewCompletionTracker(p.progress, p.claims, notifier, p.logger)
	trigger := index.NewQueueTrigger(p.queue)
	planner := p.config.Planner
	ingestOpts := []ingestion.Option{
		ingestion.WithLogger(p.logger),
		ingestion.WithBatchSize(planner.BatchSize),
		ingestion.WithThrottle(planner.Throttle()),
		ingestion.WithIndexBatchSize(planner.IndexBatchSize),
		ingestion.WithDeferBuffer(planner.DeferBuffer),
		ingestion.WithIncrementalOverlap(planner.IncrementalOverlap),
		ingestion.WithRootJobGuard(p.claims),
		ingestion.WithCompletionTracker(completion),
	}

	root, err := ingestion.NewRootOrchestrator(p.vendors, p.queue, p.progress, p.repos.Cursors, ingestOpts...)
	if err != nil {
		return err
	}
	batch, err := ingestion.NewBatchIngester(p.vendors, p.repos.Artifacts, p.progress, trigger, ingestOpts...)
	if err != nil {
		return err
	}
	incremental, err := ingestion.NewIncrementalSyncer(p.vendors, p.queue, p.repos.Cursors, ingestOpts...)
	if err != nil {
		return err
	}
	hooks, err := ingestion.NewWebhookProcessor(p.vendors, p.repos.Artifacts, p.deleter, trigger, ingestOpts...)
	if err != nil {
		return err
	}
	indexer, err := index.NewIndexer(p.repos.Artifacts, p.repos.Documents, p.provider.Embedder(),
		index.WithLogger(p.logger),
		index.WithChunking(p.config.AI.ChunkSize, p.config.AI.ChunkOverlap),
		index.WithProgress(p.progress),
		index.WithCompletionTracker(completion))
	if err != nil {
		return err
	}
	pruner, err := p.newPruner(p.config.Prune.DryRun)
	if err != nil {
		return err
	}
	p.indexer = indexer

	p.registry = jobs.NewRegistry()
	handlers := map[jobs.Kind]jobs.Handler{
		jobs.KindRootIngest:  root,
		jobs.KindBatchIngest: batch,
		jobs.KindIncremental: incremental,
		jobs.KindWebhook:     hooks,
		jobs.KindIndex:       indexer,
		jobs.KindPrune:       pruner,
	}
	for kind, h := range handlers {
		if err := p.registry.Register(kind, h); err != nil {
			return err
		}
	}
	return nil
}

func (p *Platform) newPruner(dryRun bool) (*prune.Pruner, error) {
	return prune.NewPruner(p.vendors, p.repos.Documents, p.deleter,
		prune.WithLogger(p.logger),
		prune.WithMaxDeletionRatio(p.config.Prune.MaxDeletionRatio),
		prune.WithDryRun(dryRun),
		prune.WithCursors(p.repos.Cursors))
}

// Close releases every resource the platform opened.
func (p *Platform) Close() error {
	var errs []error
	if p.provider != nil {
		if err := p.provider.Close(); err != nil {
			p.logger.Error("error closing AI provider", "err", err)
		}
	}
	if p.queue != nil {
		if err := p.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	}
	if p.pg != nil {
		if err := p.pg.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close progress store: %w", err))
		}
	}
	if p.repos != nil {
		if err := p.repos.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (p *Platform) Config() *config.Config {
	return p.config
}

func (p *Platform) Queue() queue.Queue {
	return p.queue
}

func (p *Platform) Registry() *jobs.Registry {
	return p.registry
}

func (p *Platform) Repositories() *badger.Repositories {
	return p.repos
}

// NewRunner creates a runner draining the platform queue. Call Release
// when done.
func (p *Platform) NewRunner(opts ...jobs.RunnerOption) (*jobs.Runner, error) {
	q := p.config.Queue
	base := []jobs.RunnerOption{
		jobs.WithLogger(p.logger),
		jobs.WithWorkers(q.Workers),
		jobs.WithMaxAttempts(q.MaxAttempts),
		jobs.WithBackoff(q.BaseBackoff, q.MaxBackoff),
	}
	return jobs.NewRunner(p.queue, p.registry, append(base, opts...)...)
}

// NewScheduler creates a scheduler for the configured tenants.
func (p *Platform) NewScheduler() *jobs.Scheduler {
	s := p.config.Schedule
	return jobs.NewScheduler(p.config.Connections(), p.repos.Cursors, p.claims, p.queue,
		jobs.WithSchedulerLogger(p.logger),
		jobs.WithTick(s.Tick),
		jobs.WithResyncInterval(s.ResyncInterval),
		jobs.WithIncrementalInterval(s.IncrementalInterval),
		jobs.WithPruneInterval(s.PruneInterval))
}

// NewWebhookServer creates the webhook receiver. Only configured tenants
// are accepted when any are configured.
func (p *Platform) NewWebhookServer() (*webhook.Server, error) {
	opts := []webhook.Option{
		webhook.WithLogger(p.logger),
		webhook.WithMaxBodyBytes(p.config.Webhook.MaxBodyBytes),
	}
	for name, secret := range p.config.Webhook.Secrets {
		opts = append(opts, webhook.WithSecret(core.Vendor(name), secret))
	}
	if conns := p.config.Connections(); len(conns) > 0 {
		opts = append(opts, webhook.WithConnections(conns))
	}
	return webhook.NewServer(p.queue, opts...)
}

// NewSearcher creates a searcher over the indexed documents.
func (p *Platform) NewSearcher(opts ...search.Option) (*search.Searcher, error) {
	return search.NewSearcher(p.repos.Documents, p.provider, append([]search.Option{search.WithLogger(p.logger)}, opts...)...)
}

// NewReindexer creates a reindexer that rebuilds stored artifacts with the
// platform's indexer, writing progress to w.
func (p *Platform) NewReindexer(cfg *reindex.Config, w io.Writer) (*reindex.Reindexer, error) {
	return reindex.NewReindexer(p.repos.Artifacts, p.indexer, cfg, w)
}

// Backfill enqueues a root job for one connection and returns the
// backfill id its progress is tracked under.
func (p *Platform) Backfill(ctx context.Context, tenantID string, v core.Vendor, suppressNotification bool) (string, error) {
	if err := core.ValidateConnection(tenantID, v); err != nil {
		return "", err
	}
	cfg := core.RootJobConfig{
		TenantID:             tenantID,
		Vendor:               v,
		BackfillID:           uuid.NewString(),
		SuppressNotification: suppressNotification,
	}
	if _, err := jobs.Enqueue(ctx, p.queue, jobs.KindRootIngest, cfg, nil); err != nil {
		return "", err
	}
	return cfg.BackfillID, nil
}

// Prune runs one staleness pass synchronously.
func (p *Platform) Prune(ctx context.Context, tenantID string, v core.Vendor, dryRun bool) (*prune.Result, error) {
	pruner, err := p.newPruner(dryRun)
	if err != nil {
		return nil, err
	}
	return pruner.Prune(ctx, core.PruneJobConfig{TenantID: tenantID, Vendor: v})
}

// Progress returns the counters of one backfill.
func (p *Platform) Progress(ctx context.Context, tenantID, backfillID string) (*core.BackfillProgress, error) {
	return p.progress.GetProgress(ctx, core.ProgressKey{BackfillID: backfillID, TenantID: tenantID})
}

// Cursor returns the sync cursor of one connection.
func (p *Platform) Cursor(ctx context.Context, tenantID string, v core.Vendor) (*core.SyncCursor, error) {
	return p.repos.Cursors.LoadCursor(ctx, tenantID, v)
}
