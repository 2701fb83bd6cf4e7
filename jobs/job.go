package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/queue"
)

// Kind names a job type on the queue.
type Kind string

const (
	KindRootIngest  Kind = "ingest.root"
	KindBatchIngest Kind = "ingest.batch"
	KindIncremental Kind = "ingest.incremental"
	KindWebhook     Kind = "webhook.delivery"
	KindIndex       Kind = "index.batch"
	KindPrune       Kind = "prune.run"
)

// Job is one delivery handed to a Handler.
type Job struct {
	ID         string
	Kind       Kind
	Payload    json.RawMessage
	Attempt    int
	EnqueuedAt time.Time
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrInvalidJobConfig, j.Kind, err)
	}
	return nil
}

func fromMessage(msg *queue.Message) Job {
	return Job{
		ID:         msg.ID,
		Kind:       Kind(msg.Kind),
		Payload:    msg.Payload,
		Attempt:    msg.Attempts,
		EnqueuedAt: msg.EnqueuedAt,
	}
}

// Enqueue marshals cfg and publishes it as a job of the given kind.
func Enqueue(ctx context.Context, q queue.Enqueuer, kind Kind, cfg any, notBefore *time.Time) (string, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", kind, err)
	}
	return q.Enqueue(ctx, string(kind), payload, notBefore)
}

// OutcomeKind classifies how a job invocation ended.
type OutcomeKind int

const (
	// OutcomeSuccess acknowledges the job.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeFailure releases the job for a retry with backoff.
	OutcomeFailure
	// OutcomeDefer hides the job until its delay elapses. Not a failure.
	OutcomeDefer
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeDefer:
		return "defer"
	default:
		return "unknown"
	}
}

// Outcome is the result of handling one job.
type Outcome struct {
	Kind  OutcomeKind
	Err   error
	Delay time.Duration
}

// Success reports a completed job.
func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// Failure reports a job that should be retried.
func Failure(err error) Outcome {
	return Outcome{Kind: OutcomeFailure, Err: err}
}

// Defer asks for redelivery after d without counting a failed attempt.
func Defer(d time.Duration) Outcome {
	return Outcome{Kind: OutcomeDefer, Delay: d}
}

// ErrPermanent marks failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

// Permanent reports a failure the runner drops without retrying.
func Permanent(err error) Outcome {
	return Failure(fmt.Errorf("%w: %w", ErrPermanent, err))
}

// FromError maps nil to Success and anything else to Failure.
// Invalid job configurations are permanent.
func FromError(err error) Outcome {
	switch {
	case err == nil:
		return Success()
	case errors.Is(err, core.ErrInvalidJobConfig):
		return Permanent(err)
	default:
		return Failure(err)
	}
}
