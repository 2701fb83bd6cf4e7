package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	// DefaultVisibilityTimeout hides a received message from other consumers.
	DefaultVisibilityTimeout = 5 * time.Minute

	// DefaultMaxExtension caps a single visibility extension.
	DefaultMaxExtension = 12 * time.Hour
)

var (
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue closed")

	// ErrUnknownMessage indicates the message id is not in flight.
	ErrUnknownMessage = errors.New("unknown message")

	// ErrInvalidKind indicates an empty job kind.
	ErrInvalidKind = errors.New("job kind is required")
)

// Message is one delivery of an enqueued job.
type Message struct {
	ID      string
	Kind    string
	Payload json.RawMessage
	// Attempts counts deliveries, including this one. Deliveries that
	// ended in a visibility extension are not counted.
	Attempts   int
	EnqueuedAt time.Time
}

// Enqueuer publishes jobs.
type Enqueuer interface {
	// Enqueue publishes a job. A non-nil notBefore keeps the message
	// invisible until that time. Returns the message id.
	Enqueue(ctx context.Context, kind string, payload []byte, notBefore *time.Time) (string, error)
}

// Queue is an at-least-once job transport with visibility timeouts.
// A received message stays invisible to other consumers until it is
// acknowledged, released, or its visibility timeout expires.
type Queue interface {
	Enqueuer

	// Receive blocks until a message is visible or ctx is done.
	Receive(ctx context.Context) (*Message, error)

	// Ack removes a message permanently.
	Ack(ctx context.Context, id string) error

	// Nack makes a message visible again after retryAfter. The delivery
	// counts as a failed attempt.
	Nack(ctx context.Context, id string, retryAfter time.Duration) error

	// ExtendVisibility hides a message for d more, capped at MaxExtension.
	// The delivery does not count as an attempt.
	ExtendVisibility(ctx context.Context, id string, d time.Duration) error

	// MaxExtension is the largest extension ExtendVisibility honors.
	MaxExtension() time.Duration

	// Depth counts messages that are not yet acknowledged.
	Depth(ctx context.Context) (int, error)

	// Close releases resources held by the queue.
	Close() error
}

// Options configures queue implementations.
type Options struct {
	VisibilityTimeout time.Duration
	MaxExtension      time.Duration
	PollInterval      time.Duration
	// Name separates logical queues sharing one Postgres table.
	Name string
}

// Option configures Options.
type Option func(*Options)

// WithVisibilityTimeout sets how long a received message stays hidden.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.VisibilityTimeout = d
		}
	}
}

// WithMaxExtension sets the cap applied by ExtendVisibility.
func WithMaxExtension(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.MaxExtension = d
		}
	}
}

// WithPollInterval sets how often Receive polls for visible messages.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.PollInterval = d
		}
	}
}

// WithName sets the logical queue name.
func WithName(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.Name = name
		}
	}
}

func buildOptions(pollInterval time.Duration, opts []Option) Options {
	o := Options{
		VisibilityTimeout: DefaultVisibilityTimeout,
		MaxExtension:      DefaultMaxExtension,
		PollInterval:      pollInterval,
		Name:              "default",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// capExtension clamps d to [0, max].
func capExtension(d, max time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > max {
		return max
	}
	return d
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
