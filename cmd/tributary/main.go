package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/tributary"
	"github.com/poiesic/tributary/config"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/reindex"
	"github.com/poiesic/tributary/storage/postgres"
	"github.com/poiesic/tributary/storage/postgres/migrations"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "tributary",
		Usage: "Ingest SaaS vendor records into a searchable per-tenant index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the TOML configuration file",
				EnvVars: []string{"TRIBUTARY_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the job workers, the scheduler and the webhook receiver",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Usage: "Webhook listen address (overrides the configuration)",
					},
					&cli.BoolFlag{
						Name:  "no-scheduler",
						Usage: "Do not schedule resyncs, incremental syncs or prunes",
					},
				},
			},
			{
				Name:   "backfill",
				Usage:  "Start a full backfill of one tenant's vendor connection",
				Action: backfillCommand,
				Flags: append(connectionFlags(),
					&cli.BoolFlag{
						Name:  "suppress-notification",
						Usage: "Do not announce completion of this backfill",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Process the queue in this process until it is empty",
					},
				),
			},
			{
				Name:   "prune",
				Usage:  "Delete indexed documents whose records no longer exist upstream",
				Action: pruneCommand,
				Flags: append(connectionFlags(),
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Report stale documents without deleting them",
					},
				),
			},
			{
				Name:   "status",
				Usage:  "Show backfill progress and the sync cursor of a connection",
				Action: statusCommand,
				Flags: append(connectionFlags(),
					&cli.StringFlag{
						Name:  "backfill",
						Usage: "Backfill id to show progress counters for",
					},
				),
			},
			{
				Name:      "search",
				Usage:     "Semantic search over one tenant's documents",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "tenant",
						Aliases:  []string{"t"},
						Usage:    "Tenant id",
						Required: true,
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of hits",
						Value:   5,
					},
					&cli.StringSliceFlag{
						Name:  "source",
						Usage: "Restrict hits to these sources",
					},
				},
			},
			{
				Name:   "reindex",
				Usage:  "Rebuild the documents of every stored artifact of a tenant",
				Action: reindexCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "tenant",
						Aliases:  []string{"t"},
						Usage:    "Tenant id",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "source",
						Usage: "Only reindex these sources",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of entities to index in each batch",
						Value: reindex.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N entities",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts per batch",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				},
			},
			{
				Name:   "migrate",
				Usage:  "Apply the Postgres schema migrations",
				Action: migrateCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dsn",
						Usage: "Postgres DSN (defaults to the queue DSN, then the progress DSN)",
					},
				},
			},
		},
	}
}

func connectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "tenant",
			Aliases:  []string{"t"},
			Usage:    "Tenant id",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "vendor",
			Aliases:  []string{"v"},
			Usage:    "Vendor (attio, posthog)",
			Required: true,
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func openPlatform(c *cli.Context) (*tributary.Platform, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return tributary.Open(cfg, tributary.WithLogger(slog.Default()))
}

func serveCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	platform, err := openPlatform(c)
	if err != nil {
		return err
	}
	defer platform.Close()

	runner, err := platform.NewRunner()
	if err != nil {
		return err
	}
	defer runner.Release()

	server, err := platform.NewWebhookServer()
	if err != nil {
		return err
	}
	addr := c.String("listen")
	if addr == "" {
		addr = platform.Config().Webhook.Listen
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(runner.Run(ctx)) })
	g.Go(func() error { return server.ListenAndServe(ctx, addr) })
	if !c.Bool("no-scheduler") {
		scheduler := platform.NewScheduler()
		g.Go(func() error { return ignoreCanceled(scheduler.Run(ctx)) })
	}
	return g.Wait()
}

func backfillCommand(c *cli.Context) error {
	ctx := c.Context
	tenantID, v := c.String("tenant"), core.Vendor(c.String("vendor"))

	platform, err := openPlatform(c)
	if err != nil {
		return err
	}
	defer platform.Close()

	backfillID, err := platform.Backfill(ctx, tenantID, v, c.Bool("suppress-notification"))
	if err != nil {
		return fmt.Errorf("failed to start backfill: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Backfill %s enqueued for %s/%s\n", backfillID, tenantID, v)
	if !c.Bool("wait") {
		return nil
	}

	runner, err := platform.NewRunner()
	if err != nil {
		return err
	}
	defer runner.Release()
	if err := runner.Drain(ctx); err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}
	progress, err := platform.Progress(ctx, tenantID, backfillID)
	if err != nil {
		return err
	}
	printProgress(c, progress)
	return nil
}

func pruneCommand(c *cli.Context) error {
	tenantID, v := c.String("tenant"), core.Vendor(c.String("vendor"))

	platform, err := openPlatform(c)
	if err != nil {
		return err
	}
	defer platform.Close()

	dryRun := c.Bool("dry-run") || platform.Config().Prune.DryRun
	result, err := platform.Prune(c.Context, tenantID, v, dryRun)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}
	if result.Skipped {
		fmt.Fprintln(c.App.Writer, "Prune skipped: partition list unavailable")
		return nil
	}
	for _, cat := range result.Categories {
		fmt.Fprintf(c.App.Writer, "%-20s indexed=%d stale=%d deleted=%d\n", cat.Source, cat.Indexed, len(cat.Stale), cat.Deleted)
	}
	if dryRun {
		fmt.Fprintln(c.App.Writer, "Dry run: nothing was deleted")
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	ctx := c.Context
	tenantID, v := c.String("tenant"), core.Vendor(c.String("vendor"))

	platform, err := openPlatform(c)
	if err != nil {
		return err
	}
	defer platform.Close()

	if backfillID := c.String("backfill"); backfillID != "" {
		progress, err := platform.Progress(ctx, tenantID, backfillID)
		if err != nil {
			return err
		}
		printProgress(c, progress)
	}

	cursor, err := platform.Cursor(ctx, tenantID, v)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Cursor for %s/%s:\n", tenantID, v)
	for _, source := range core.SourcesFor(v) {
		at, ok := cursor.LastSyncedAt[source]
		if !ok {
			fmt.Fprintf(c.App.Writer, "  %-20s never synced\n", source)
			continue
		}
		fmt.Fprintf(c.App.Writer, "  %-20s %s\n", source, at.Format(time.RFC3339))
	}
	if len(cursor.SyncedProjectIDs) > 0 {
		fmt.Fprintf(c.App.Writer, "  projects: %s\n", strings.Join(cursor.SyncedProjectIDs, ", "))
	}
	return nil
}

func printProgress(c *cli.Context, progress *core.BackfillProgress) {
	fmt.Fprintf(c.App.Writer, "Backfill %s: %.1f%% complete=%t\n", progress.Key.BackfillID, progress.Percent(), progress.Complete())
	for _, counter := range []core.Counter{
		core.CounterTotalIngestJobs,
		core.CounterAttemptedIngestJobs,
		core.CounterDoneIngestJobs,
		core.CounterTotalIndexJobs,
		core.CounterDoneIndexJobs,
	} {
		fmt.Fprintf(c.App.Writer, "  %-22s %d\n", counter, progress.Get(counter))
	}
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("a search query is required")
	}
	sources, err := parseSources(c.StringSlice("source"))
	if err != nil {
		return err
	}

	platform, err := openPlatform(c)
	if err != nil {
		return err
	}
	defer platform.Close()

	searcher, err := platform.NewSearcher()
	if err != nil {
		return err
	}
	hits, err := searcher.Search(c.Context, c.String("tenant"), query, c.Int("limit"), sources...)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Found %d hits\n", len(hits))
	for i, hit := range hits {
		fmt.Fprintf(c.App.Writer, "%d: %s (%s)[%0.3f]\n", i, hit.Document.Title, hit.Document.EntityID, hit.Score)
	}
	return nil
}

func reindexCommand(c *cli.Context) error {
	sources, err := parseSources(c.StringSlice("source"))
	if err != nil {
		return err
	}
	reindexConfig := &reindex.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if reindexConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reindexConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}

	platform, err := openPlatform(c)
	if err != nil {
		return err
	}
	defer platform.Close()

	reindexer, err := platform.NewReindexer(reindexConfig, c.App.ErrWriter)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", platform.Config().AI.EmbeddingHost)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", platform.Config().AI.EmbeddingModel)
	if _, err := reindexer.Run(c.Context, c.String("tenant"), sources...); err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	return nil
}

func migrateCommand(c *cli.Context) error {
	dsn := c.String("dsn")
	if dsn == "" {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		cfg.Normalize()
		dsn = cfg.Queue.DSN
		if !strings.HasPrefix(dsn, "postgres") {
			dsn = cfg.Progress.DSN
		}
	}
	if dsn == "" {
		return errors.New("no Postgres DSN configured")
	}

	pg, err := postgres.Open(dsn)
	if err != nil {
		return err
	}
	defer pg.Close()
	db, err := pg.SQL()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if err := migrations.MigrateUp(db); err != nil {
		return err
	}
	version, dirty, err := migrations.Version(db)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Schema at version %d (dirty=%t)\n", version, dirty)
	return nil
}

func parseSources(names []string) ([]core.Source, error) {
	sources := make([]core.Source, 0, len(names))
	for _, name := range names {
		source := core.Source(name)
		if err := core.ValidateSource(source); err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}
