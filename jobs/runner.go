package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/tributary/queue"
)

const (
	DefaultMaxAttempts     = 5
	DefaultBaseBackoff     = 5 * time.Second
	DefaultMaxBackoff      = 10 * time.Minute
	defaultShutdownTimeout = 30 * time.Second
	drainPollInterval      = 50 * time.Millisecond
)

// ErrQueueRequired is returned when a runner is built without a queue.
var ErrQueueRequired = errors.New("queue required")

// antsLoggerAdapter adapts slog.Logger to ants.Logger.
type antsLoggerAdapter struct {
	logger *slog.Logger
}

var _ ants.Logger = (*antsLoggerAdapter)(nil)

func (al *antsLoggerAdapter) Printf(format string, args ...any) {
	al.logger.Info(fmt.Sprintf(format, args...))
}

// Runner drains a queue into registered handlers on an ants worker pool
// and maps each Outcome onto the queue: Success acks, Failure releases
// with exponential backoff until MaxAttempts, Defer extends visibility.
type Runner struct {
	queue       queue.Queue
	registry    *Registry
	pool        *ants.Pool
	workers     int
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner) error

// WithWorkers sets the worker pool size.
// Default is runtime.NumCPU(), with a minimum of 1.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) error {
		if n < 1 {
			n = 1
		}
		r.workers = n
		return nil
	}
}

// WithMaxAttempts sets how many failed deliveries a job gets before it
// is dropped.
func WithMaxAttempts(n int) RunnerOption {
	return func(r *Runner) error {
		if n < 1 {
			return fmt.Errorf("max attempts must be positive: %d", n)
		}
		r.maxAttempts = n
		return nil
	}
}

// WithBackoff sets the retry delay after the first failure and its cap.
func WithBackoff(base, max time.Duration) RunnerOption {
	return func(r *Runner) error {
		if base <= 0 || max < base {
			return fmt.Errorf("invalid backoff %s..%s", base, max)
		}
		r.baseBackoff = base
		r.maxBackoff = max
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRunner creates a runner. Call Release when done.
func NewRunner(q queue.Queue, registry *Registry, opts ...RunnerOption) (*Runner, error) {
	if q == nil {
		return nil, ErrQueueRequired
	}
	if registry == nil {
		registry = NewRegistry()
	}
	r := &Runner{
		queue:       q,
		registry:    registry,
		workers:     max(runtime.NumCPU(), 1),
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: DefaultBaseBackoff,
		maxBackoff:  DefaultMaxBackoff,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "job-runner")

	pool, err := ants.NewPool(r.workers,
		ants.WithLogger(&antsLoggerAdapter{logger: r.logger}),
		ants.WithPanicHandler(func(p any) {
			r.logger.Error("worker panicked", "panic", p)
		}))
	if err != nil {
		return nil, err
	}
	r.pool = pool
	return r, nil
}

// Release stops the worker pool, waiting for in-flight jobs.
func (r *Runner) Release() {
	if r.pool == nil {
		return
	}
	if err := r.pool.ReleaseTimeout(defaultShutdownTimeout); err != nil {
		r.logger.Warn("worker pool did not drain before timeout", "err", err)
	}
}

// Run processes jobs until ctx is done or the queue is closed.
func (r *Runner) Run(ctx context.Context) error {
	return r.loop(ctx, false)
}

// Drain processes jobs until the queue holds no unacknowledged message.
// Deferred jobs keep it waiting until they become visible.
func (r *Runner) Drain(ctx context.Context) error {
	return r.loop(ctx, true)
}

func (r *Runner) loop(ctx context.Context, untilEmpty bool) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if untilEmpty {
			depth, err := r.queue.Depth(ctx)
			if err != nil {
				return err
			}
			if depth == 0 {
				return nil
			}
		}

		msg, err := r.receive(ctx, untilEmpty)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return err
			}
			r.logger.Error("error receiving job", "err", err)
			if sleepErr := sleep(ctx, r.baseBackoff); sleepErr != nil {
				return sleepErr
			}
			continue
		}
		if msg == nil {
			continue
		}

		wg.Add(1)
		if err := r.pool.Submit(func() {
			defer wg.Done()
			r.Process(ctx, msg)
		}); err != nil {
			wg.Done()
			r.logger.Error("error submitting job", "job_id", msg.ID, "err", err)
			_ = r.queue.Nack(ctx, msg.ID, r.baseBackoff)
		}
	}
}

// receive blocks on the queue. In drain mode it gives up after a short
// poll so the loop can notice an empty queue.
func (r *Runner) receive(ctx context.Context, short bool) (*queue.Message, error) {
	if !short {
		return r.queue.Receive(ctx)
	}
	pollCtx, cancel := context.WithTimeout(ctx, drainPollInterval)
	defer cancel()
	msg, err := r.queue.Receive(pollCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, nil
	}
	return msg, err
}

// Process handles one delivery synchronously and settles it on the queue.
func (r *Runner) Process(ctx context.Context, msg *queue.Message) Outcome {
	job := fromMessage(msg)
	logger := r.logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt)

	handler, ok := r.registry.Lookup(job.Kind)
	if !ok {
		logger.Error("no handler registered, dropping job")
		if err := r.queue.Ack(ctx, job.ID); err != nil {
			logger.Error("error dropping job", "err", err)
		}
		return Permanent(fmt.Errorf("no handler for %s", job.Kind))
	}

	outcome := r.invoke(ctx, handler, job)
	switch outcome.Kind {
	case OutcomeSuccess:
		if err := r.queue.Ack(ctx, job.ID); err != nil {
			logger.Error("error acknowledging job", "err", err)
		}
	case OutcomeDefer:
		delay := min(outcome.Delay, r.queue.MaxExtension())
		logger.Debug("deferring job", "delay", delay)
		if err := r.queue.ExtendVisibility(ctx, job.ID, delay); err != nil {
			logger.Error("error deferring job", "err", err)
		}
	case OutcomeFailure:
		if errors.Is(outcome.Err, ErrPermanent) || job.Attempt >= r.maxAttempts {
			logger.Error("job failed permanently, dropping", "err", outcome.Err)
			if err := r.queue.Ack(ctx, job.ID); err != nil {
				logger.Error("error dropping job", "err", err)
			}
			break
		}
		delay := r.backoff(job.Attempt)
		logger.Warn("job failed, will retry", "err", outcome.Err, "retry_in", delay)
		if err := r.queue.Nack(ctx, job.ID, delay); err != nil {
			logger.Error("error releasing job", "err", err)
		}
	}
	return outcome
}

func (r *Runner) invoke(ctx context.Context, h Handler, job Job) (outcome Outcome) {
	defer func() {
		if p := recover(); p != nil {
			outcome = Failure(fmt.Errorf("handler panicked: %v", p))
		}
	}()
	return h.Handle(ctx, job)
}

// backoff returns baseBackoff * 2^(attempt-1), capped at maxBackoff.
func (r *Runner) backoff(attempt int) time.Duration {
	delay := r.baseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.maxBackoff {
			return r.maxBackoff
		}
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
