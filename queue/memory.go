package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryPollInterval = 10 * time.Millisecond

type memoryEntry struct {
	msg       Message
	seq       uint64
	visibleAt time.Time
}

// MemoryQueue is an in-process Queue. It is used by tests and by the
// single-binary deployment.
type MemoryQueue struct {
	opts Options
	now  func() time.Time

	mu      sync.Mutex
	seq     uint64
	entries map[string]*memoryEntry
	closed  bool
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(opts ...Option) *MemoryQueue {
	return &MemoryQueue{
		opts:    buildOptions(memoryPollInterval, opts),
		now:     time.Now,
		entries: make(map[string]*memoryEntry),
	}
}

// SetClock replaces the time source. Tests use it to move time forward.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Enqueue adds a message.
func (q *MemoryQueue) Enqueue(ctx context.Context, kind string, payload []byte, notBefore *time.Time) (string, error) {
	if kind == "" {
		return "", ErrInvalidKind
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrClosed
	}

	now := q.now()
	visibleAt := now
	if notBefore != nil && notBefore.After(now) {
		visibleAt = *notBefore
	}
	q.seq++
	id := uuid.NewString()
	q.entries[id] = &memoryEntry{
		msg: Message{
			ID:         id,
			Kind:       kind,
			Payload:    append([]byte(nil), payload...),
			EnqueuedAt: now,
		},
		seq:       q.seq,
		visibleAt: visibleAt,
	}
	return id, nil
}

// Receive returns the earliest visible message.
func (q *MemoryQueue) Receive(ctx context.Context) (*Message, error) {
	for {
		msg, err := q.tryReceive()
		if err != nil || msg != nil {
			return msg, err
		}
		if err := sleepContext(ctx, q.opts.PollInterval); err != nil {
			return nil, err
		}
	}
}

// TryReceive returns the earliest visible message, or nil when none is.
func (q *MemoryQueue) TryReceive() (*Message, error) {
	return q.tryReceive()
}

func (q *MemoryQueue) tryReceive() (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}

	now := q.now()
	var best *memoryEntry
	for _, e := range q.entries {
		if e.visibleAt.After(now) {
			continue
		}
		if best == nil || e.visibleAt.Before(best.visibleAt) ||
			(e.visibleAt.Equal(best.visibleAt) && e.seq < best.seq) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	best.visibleAt = now.Add(q.opts.VisibilityTimeout)
	best.msg.Attempts++
	msg := best.msg
	return &msg, nil
}

// Ack removes a message.
func (q *MemoryQueue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	delete(q.entries, id)
	return nil
}

// Nack makes a message visible again after retryAfter.
func (q *MemoryQueue) Nack(ctx context.Context, id string, retryAfter time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	e.visibleAt = q.now().Add(max(retryAfter, 0))
	return nil
}

// ExtendVisibility hides a message for d more without counting an attempt.
func (q *MemoryQueue) ExtendVisibility(ctx context.Context, id string, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	e.visibleAt = q.now().Add(capExtension(d, q.opts.MaxExtension))
	if e.msg.Attempts > 0 {
		e.msg.Attempts--
	}
	return nil
}

// MaxExtension returns the extension cap.
func (q *MemoryQueue) MaxExtension() time.Duration {
	return q.opts.MaxExtension
}

// Depth counts unacknowledged messages.
func (q *MemoryQueue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}

// Pending returns copies of every unacknowledged message in enqueue order.
func (q *MemoryQueue) Pending() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	ordered := make([]*memoryEntry, 0, len(q.entries))
	for _, e := range q.entries {
		ordered = append(ordered, e)
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].seq < ordered[j-1].seq; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	out := make([]Message, len(ordered))
	for i, e := range ordered {
		out[i] = e.msg
	}
	return out
}

// VisibleAt reports when a message becomes visible.
func (q *MemoryQueue) VisibleAt(id string) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.visibleAt, true
}

// Close stops the queue. Pending messages are dropped.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
