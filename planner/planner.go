package planner

import (
	"errors"
	"time"
)

const (
	// DefaultBatchSize is the number of record ids per ingest batch.
	DefaultBatchSize = 100

	// DefaultBurstBatches is the number of batches released without delay.
	DefaultBurstBatches = 5

	// DefaultBatchDelay spaces batches released after the burst window.
	DefaultBatchDelay = 10 * time.Second
)

// Throttle configures the burst-then-throttle release schedule.
type Throttle struct {
	// BurstBatches batches start immediately.
	BurstBatches int
	// BatchDelay separates consecutive batches after the burst.
	BatchDelay time.Duration
}

// DefaultThrottle returns the default release schedule.
func DefaultThrottle() Throttle {
	return Throttle{
		BurstBatches: DefaultBurstBatches,
		BatchDelay:   DefaultBatchDelay,
	}
}

// ErrInvalidThrottle indicates a negative burst size or delay.
var ErrInvalidThrottle = errors.New("invalid throttle")

// Validate rejects negative values.
func (t Throttle) Validate() error {
	if t.BurstBatches < 0 || t.BatchDelay < 0 {
		return ErrInvalidThrottle
	}
	return nil
}

// StartAt returns the start time of the batch at index, relative to base.
func (t Throttle) StartAt(index int, base time.Time) *time.Time {
	return Schedule(index, base, t.BurstBatches, t.BatchDelay)
}

// Partition splits items into contiguous chunks of at most size elements.
// The last chunk may be smaller. Order is preserved and empty input yields
// no chunks. A non-positive size yields a single chunk.
func Partition[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end:end])
	}
	return batches
}

// Schedule returns nil for batches inside the burst window. Later batches
// start at base + (index-burstCount)*delay.
func Schedule(index int, base time.Time, burstCount int, delay time.Duration) *time.Time {
	if index < burstCount {
		return nil
	}
	at := base.Add(time.Duration(index-burstCount) * delay)
	return &at
}

// Interleave merges groups round-robin: the first element of each group,
// then the second of each, and so on. Each group keeps its internal order.
func Interleave[T any](groups [][]T) []T {
	total := 0
	longest := 0
	for _, g := range groups {
		total += len(g)
		longest = max(longest, len(g))
	}
	out := make([]T, 0, total)
	for i := 0; i < longest; i++ {
		for _, g := range groups {
			if i < len(g) {
				out = append(out, g[i])
			}
		}
	}
	return out
}
