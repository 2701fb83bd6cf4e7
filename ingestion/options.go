package ingestion

import (
	"log/slog"
	"time"

	"github.com/poiesic/tributary/planner"
	"github.com/poiesic/tributary/storage"
)

const (
	// DefaultIndexBatchSize bounds the entity ids carried by one index job.
	DefaultIndexBatchSize = 25

	// DefaultDeferBuffer is added to the wait before a delayed batch is
	// redelivered, so it does not arrive a moment too early.
	DefaultDeferBuffer = 5 * time.Second

	// DefaultIncrementalOverlap is subtracted from the last sync time of an
	// incremental pass.
	DefaultIncrementalOverlap = 10 * time.Minute
)

// settings is shared by every job type in the package. Each constructor
// reads the fields it needs.
type settings struct {
	logger             *slog.Logger
	now                func() time.Time
	batchSize          int
	throttle           planner.Throttle
	indexBatchSize     int
	deferBuffer        time.Duration
	incrementalOverlap time.Duration
	rootGuard          storage.ClaimRepository
	completion         *CompletionTracker
}

func defaultSettings() settings {
	return settings{
		logger:             slog.Default(),
		now:                time.Now,
		batchSize:          planner.DefaultBatchSize,
		throttle:           planner.DefaultThrottle(),
		indexBatchSize:     DefaultIndexBatchSize,
		deferBuffer:        DefaultDeferBuffer,
		incrementalOverlap: DefaultIncrementalOverlap,
	}
}

// Option configures the job types of this package.
type Option func(*settings) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) error {
		if now != nil {
			s.now = now
		}
		return nil
	}
}

// WithBatchSize sets the number of record ids per batch job.
// Default is planner.DefaultBatchSize.
func WithBatchSize(size int) Option {
	return func(s *settings) error {
		if size < 1 {
			size = 1
		}
		s.batchSize = size
		return nil
	}
}

// WithThrottle sets the burst/delay schedule for enqueued batches.
func WithThrottle(t planner.Throttle) Option {
	return func(s *settings) error {
		if err := t.Validate(); err != nil {
			return err
		}
		s.throttle = t
		return nil
	}
}

// WithIndexBatchSize sets the number of entity ids per index job.
func WithIndexBatchSize(size int) Option {
	return func(s *settings) error {
		if size < 1 {
			size = 1
		}
		s.indexBatchSize = size
		return nil
	}
}

// WithDeferBuffer sets the extra wait added to deferred batches.
func WithDeferBuffer(d time.Duration) Option {
	return func(s *settings) error {
		if d < 0 {
			d = 0
		}
		s.deferBuffer = d
		return nil
	}
}

// WithIncrementalOverlap sets the overlap subtracted from the last sync time.
func WithIncrementalOverlap(d time.Duration) Option {
	return func(s *settings) error {
		if d < 0 {
			d = 0
		}
		s.incrementalOverlap = d
		return nil
	}
}

// WithRootJobGuard makes the root orchestrator claim (tenant, job id)
// before enqueueing, so a redelivered root job does not enqueue twice.
func WithRootJobGuard(claims storage.ClaimRepository) Option {
	return func(s *settings) error {
		s.rootGuard = claims
		return nil
	}
}

// WithCompletionTracker checks backfill completion after each batch.
func WithCompletionTracker(t *CompletionTracker) Option {
	return func(s *settings) error {
		s.completion = t
		return nil
	}
}

func applyOptions(opts []Option) (settings, error) {
	s := defaultSettings()
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return s, err
		}
	}
	return s, nil
}
