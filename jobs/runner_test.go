package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRunner(t *testing.T, registry *Registry, opts ...RunnerOption) (*Runner, *queue.MemoryQueue) {
	t.Helper()
	q := queue.NewMemoryQueue(queue.WithMaxExtension(time.Hour))
	q.SetClock(func() time.Time { return testNow })
	opts = append([]RunnerOption{WithWorkers(2), WithBackoff(time.Second, 8*time.Second)}, opts...)
	r, err := NewRunner(q, registry, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Release()
		_ = q.Close()
	})
	return r, q
}

func receiveOne(t *testing.T, q *queue.MemoryQueue) *queue.Message {
	t.Helper()
	msg, err := q.TryReceive()
	require.NoError(t, err)
	require.NotNil(t, msg)
	return msg
}

func TestNewRunner_RequiresQueue(t *testing.T) {
	_, err := NewRunner(nil, nil)
	assert.ErrorIs(t, err, ErrQueueRequired)
}

func TestRunner_SuccessAcks(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("k", HandlerFunc(func(ctx context.Context, job Job) Outcome {
		return Success()
	})))
	r, q := newTestRunner(t, reg)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "k", []byte(`{}`), nil)
	require.NoError(t, err)

	out := r.Process(ctx, receiveOne(t, q))
	assert.Equal(t, OutcomeSuccess, out.Kind)
	depth, _ := q.Depth(ctx)
	assert.Zero(t, depth)
}

func TestRunner_FailureBacksOffThenDrops(t *testing.T) {
	boom := errors.New("boom")
	reg := NewRegistry()
	require.NoError(t, reg.Register("k", HandlerFunc(func(ctx context.Context, job Job) Outcome {
		return Failure(boom)
	})))
	r, q := newTestRunner(t, reg, WithMaxAttempts(2))
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "k", nil, nil)
	require.NoError(t, err)

	out := r.Process(ctx, receiveOne(t, q))
	assert.Equal(t, OutcomeFailure, out.Kind)
	assert.ErrorIs(t, out.Err, boom)
	visibleAt, ok := q.VisibleAt(id)
	require.True(t, ok)
	assert.Equal(t, testNow.Add(time.Second), visibleAt)

	// Second delivery reaches max attempts and is dropped
	q.SetClock(func() time.Time { return testNow.Add(time.Second) })
	msg := receiveOne(t, q)
	assert.Equal(t, 2, msg.Attempts)
	r.Process(ctx, msg)
	depth, _ := q.Depth(ctx)
	assert.Zero(t, depth)
}

func TestRunner_PermanentFailureDropsImmediately(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("k", Typed(func(ctx context.Context, job Job, cfg core.BatchJobConfig) Outcome {
		t.Fatal("handler must not run for an undecodable payload")
		return Success()
	})))
	r, q := newTestRunner(t, reg)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "k", []byte(`not json`), nil)
	require.NoError(t, err)

	out := r.Process(ctx, receiveOne(t, q))
	assert.ErrorIs(t, out.Err, ErrPermanent)
	assert.ErrorIs(t, out.Err, core.ErrInvalidJobConfig)
	depth, _ := q.Depth(ctx)
	assert.Zero(t, depth)
}

func TestRunner_DeferExtendsVisibilityWithoutCountingAttempt(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("k", HandlerFunc(func(ctx context.Context, job Job) Outcome {
		return Defer(3 * time.Hour)
	})))
	r, q := newTestRunner(t, reg)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "k", nil, nil)
	require.NoError(t, err)

	out := r.Process(ctx, receiveOne(t, q))
	assert.Equal(t, OutcomeDefer, out.Kind)

	visibleAt, ok := q.VisibleAt(id)
	require.True(t, ok)
	assert.Equal(t, testNow.Add(time.Hour), visibleAt, "delay is capped at the queue's max extension")

	q.SetClock(func() time.Time { return testNow.Add(time.Hour) })
	assert.Equal(t, 1, receiveOne(t, q).Attempts)
}

func TestRunner_RecoversPanics(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("k", HandlerFunc(func(ctx context.Context, job Job) Outcome {
		panic("kaboom")
	})))
	r, q := newTestRunner(t, reg)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "k", nil, nil)
	require.NoError(t, err)

	out := r.Process(ctx, receiveOne(t, q))
	assert.Equal(t, OutcomeFailure, out.Kind)
	assert.ErrorContains(t, out.Err, "kaboom")
}

func TestRunner_UnknownKindDropped(t *testing.T) {
	r, q := newTestRunner(t, NewRegistry())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "mystery", nil, nil)
	require.NoError(t, err)

	out := r.Process(ctx, receiveOne(t, q))
	assert.ErrorIs(t, out.Err, ErrPermanent)
	depth, _ := q.Depth(ctx)
	assert.Zero(t, depth)
}

func TestRunner_Backoff(t *testing.T) {
	r, _ := newTestRunner(t, NewRegistry())
	assert.Equal(t, time.Second, r.backoff(1))
	assert.Equal(t, 2*time.Second, r.backoff(2))
	assert.Equal(t, 4*time.Second, r.backoff(3))
	assert.Equal(t, 8*time.Second, r.backoff(4))
	assert.Equal(t, 8*time.Second, r.backoff(10))
}

func TestRunner_DrainProcessesChainedJobs(t *testing.T) {
	var handled atomic.Int32
	reg := NewRegistry()
	q := queue.NewMemoryQueue()
	require.NoError(t, reg.Register("parent", HandlerFunc(func(ctx context.Context, job Job) Outcome {
		handled.Add(1)
		for range 3 {
			if _, err := q.Enqueue(ctx, "child", nil, nil); err != nil {
				return Failure(err)
			}
		}
		return Success()
	})))
	require.NoError(t, reg.Register("child", HandlerFunc(func(ctx context.Context, job Job) Outcome {
		handled.Add(1)
		return Success()
	})))
	r, err := NewRunner(q, reg, WithWorkers(2))
	require.NoError(t, err)
	defer r.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = q.Enqueue(ctx, "parent", nil, nil)
	require.NoError(t, err)

	require.NoError(t, r.Drain(ctx))
	assert.Equal(t, int32(4), handled.Load())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	h := HandlerFunc(func(ctx context.Context, job Job) Outcome { return Success() })

	require.NoError(t, reg.Register(KindPrune, h))
	assert.ErrorIs(t, reg.Register(KindPrune, h), ErrDuplicateHandler)
	assert.ErrorIs(t, reg.Register(KindIndex, nil), ErrNilHandler)

	_, ok := reg.Lookup(KindPrune)
	assert.True(t, ok)
	_, ok = reg.Lookup(KindWebhook)
	assert.False(t, ok)
	assert.Equal(t, []Kind{KindPrune}, reg.Kinds())
}

func TestFromError(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, FromError(nil).Kind)
	assert.NotErrorIs(t, FromError(errors.New("x")).Err, ErrPermanent)
	assert.ErrorIs(t, FromError(core.ErrInvalidJobConfig).Err, ErrPermanent)
}
