package index

import (
	"context"

	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/ingestion"
	"github.com/poiesic/tributary/jobs"
	"github.com/poiesic/tributary/queue"
)

// QueueTrigger publishes index jobs for the Indexer to pick up.
type QueueTrigger struct {
	queue queue.Enqueuer
}

var _ ingestion.IndexTrigger = (*QueueTrigger)(nil)

// NewQueueTrigger creates a trigger publishing to q.
func NewQueueTrigger(q queue.Enqueuer) *QueueTrigger {
	return &QueueTrigger{queue: q}
}

// TriggerIndexing enqueues one index job.
func (t *QueueTrigger) TriggerIndexing(ctx context.Context, cfg core.IndexJobConfig) error {
	_, err := jobs.Enqueue(ctx, t.queue, jobs.KindIndex, cfg, nil)
	return err
}
