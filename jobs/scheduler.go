package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/queue"
	"github.com/poiesic/tributary/storage"
)

const (
	DefaultResyncInterval = 24 * time.Hour
	DefaultPruneInterval  = 6 * time.Hour
	DefaultSchedulerTick  = time.Minute

	claimScopeSchedule = "schedule"
)

// Scheduler enqueues periodic work for every configured connection: a
// root ingest job when any source's cursor is missing or older than the
// resync interval, an incremental job once per incremental interval while
// no resync is due, and a prune job once per prune interval. Each window
// is claimed first so several scheduler processes enqueue it once.
type Scheduler struct {
	connections    []core.Connection
	cursors        storage.CursorRepository
	claims         storage.ClaimRepository
	queue          queue.Enqueuer
	resyncInterval time.Duration
	pruneInterval  time.Duration
	incremental    time.Duration
	tick           time.Duration
	logger         *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithResyncInterval sets the maximum cursor age before a full resync.
func WithResyncInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.resyncInterval = d
		}
	}
}

// WithPruneInterval sets how often prune jobs are enqueued. Zero disables them.
func WithPruneInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.pruneInterval = d
	}
}

// WithIncrementalInterval sets how often incremental syncs are enqueued.
// Zero, the default, disables them.
func WithIncrementalInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.incremental = d
	}
}

// WithTick sets how often the scheduler wakes up.
func WithTick(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithSchedulerLogger sets a custom logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler creates a scheduler.
func NewScheduler(connections []core.Connection, cursors storage.CursorRepository, claims storage.ClaimRepository, q queue.Enqueuer, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		connections:    connections,
		cursors:        cursors,
		claims:         claims,
		queue:          q,
		resyncInterval: DefaultResyncInterval,
		pruneInterval:  DefaultPruneInterval,
		tick:           DefaultSchedulerTick,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.Tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick evaluates every connection once. Errors are logged per connection.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	for _, conn := range s.connections {
		logger := s.logger.With("tenant_id", conn.TenantID, "vendor", conn.Vendor)
		resync, err := s.scheduleResync(ctx, conn, now)
		if err != nil {
			logger.Error("error scheduling resync", "err", err)
		}
		if err == nil && !resync {
			if err := s.scheduleIncremental(ctx, conn, now); err != nil {
				logger.Error("error scheduling incremental sync", "err", err)
			}
		}
		if err := s.schedulePrune(ctx, conn, now); err != nil {
			logger.Error("error scheduling prune", "err", err)
		}
	}
}

// scheduleResync reports whether a resync is due, whether or not this
// scheduler was the one to enqueue it.
func (s *Scheduler) scheduleResync(ctx context.Context, conn core.Connection, now time.Time) (bool, error) {
	cursor, err := s.cursors.LoadCursor(ctx, conn.TenantID, conn.Vendor)
	if err != nil {
		return false, err
	}
	if !cursor.NeedsResync(core.SourcesFor(conn.Vendor), s.resyncInterval, now) {
		return false, nil
	}
	won, err := s.claimWindow(ctx, "resync", conn, now, s.resyncInterval)
	if err != nil || !won {
		return true, err
	}
	id, err := Enqueue(ctx, s.queue, KindRootIngest, core.RootJobConfig{
		TenantID: conn.TenantID,
		Vendor:   conn.Vendor,
	}, nil)
	if err != nil {
		return true, err
	}
	s.logger.Info("scheduled resync", "tenant_id", conn.TenantID, "vendor", conn.Vendor, "job_id", id)
	return true, nil
}

func (s *Scheduler) scheduleIncremental(ctx context.Context, conn core.Connection, now time.Time) error {
	if s.incremental <= 0 {
		return nil
	}
	won, err := s.claimWindow(ctx, "incremental", conn, now, s.incremental)
	if err != nil || !won {
		return err
	}
	_, err = Enqueue(ctx, s.queue, KindIncremental, core.IncrementalJobConfig{
		TenantID: conn.TenantID,
		Vendor:   conn.Vendor,
	}, nil)
	return err
}

func (s *Scheduler) schedulePrune(ctx context.Context, conn core.Connection, now time.Time) error {
	if s.pruneInterval <= 0 {
		return nil
	}
	won, err := s.claimWindow(ctx, "prune", conn, now, s.pruneInterval)
	if err != nil || !won {
		return err
	}
	_, err = Enqueue(ctx, s.queue, KindPrune, core.PruneJobConfig{
		TenantID: conn.TenantID,
		Vendor:   conn.Vendor,
	}, nil)
	return err
}

func (s *Scheduler) claimWindow(ctx context.Context, what string, conn core.Connection, now time.Time, interval time.Duration) (bool, error) {
	window := now.UTC().Truncate(interval).Unix()
	key := fmt.Sprintf("%s:%s:%s:%d", what, conn.TenantID, conn.Vendor, window)
	return s.claims.Claim(ctx, claimScopeSchedule, key)
}
