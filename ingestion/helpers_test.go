package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/queue"
	"github.com/poiesic/tributary/storage/badger"
	"github.com/stretchr/testify/require"
)

type testRepos = badger.Repositories

type recordingTrigger struct {
	mu   sync.Mutex
	reqs []core.IndexJobConfig
	err  error
}

func (r *recordingTrigger) TriggerIndexing(ctx context.Context, req core.IndexJobConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *recordingTrigger) requests() []core.IndexJobConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.IndexJobConfig(nil), r.reqs...)
}

func newRepos(t *testing.T) *badger.Repositories {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func pendingBatches(t *testing.T, q *queue.MemoryQueue) []core.BatchJobConfig {
	t.Helper()
	var out []core.BatchJobConfig
	for _, m := range q.Pending() {
		var cfg core.BatchJobConfig
		require.NoError(t, json.Unmarshal(m.Payload, &cfg))
		out = append(out, cfg)
	}
	return out
}

var errQueueUnavailable = errors.New("queue unavailable")

// flakyQueue forwards to a MemoryQueue. before sees every enqueue, and the
// call numbered failOn (1-based) fails instead of reaching the queue.
type flakyQueue struct {
	*queue.MemoryQueue
	failOn int
	calls  int
	before func(call int, payload []byte)
}

func (q *flakyQueue) Enqueue(ctx context.Context, kind string, payload []byte, notBefore *time.Time) (string, error) {
	q.calls++
	if q.before != nil {
		q.before(q.calls, payload)
	}
	if q.calls == q.failOn {
		return "", errQueueUnavailable
	}
	return q.MemoryQueue.Enqueue(ctx, kind, payload, notBefore)
}
