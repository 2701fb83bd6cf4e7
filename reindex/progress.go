package reindex

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker writes a single self-overwriting progress line.
type ProgressTracker struct {
	writer         io.Writer
	total          int
	current        int
	reportInterval int
	lastReported   int
	startTime      time.Time
	started        bool
	mu             sync.Mutex
}

// NewProgressTracker creates a tracker that reports every reportInterval
// entities out of total.
func NewProgressTracker(writer io.Writer, total, reportInterval int) *ProgressTracker {
	if reportInterval < 1 {
		reportInterval = 1
	}
	return &ProgressTracker{
		writer:         writer,
		total:          total,
		reportInterval: reportInterval,
	}
}

// Start begins tracking progress.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.current = 0
	p.lastReported = 0
}

// Increment advances progress by delta, capped at total.
func (p *ProgressTracker) Increment(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.current = min(p.current+delta, p.total)
	if p.current-p.lastReported >= p.reportInterval {
		p.report()
		p.lastReported = p.current
	}
}

// Finish prints the final line. Progress shows what was actually done,
// which is less than total when the run stopped early.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.report()
	fmt.Fprintln(p.writer)
}

// Elapsed returns the time since Start.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}
	return time.Since(p.startTime)
}

// report must be called with the lock held.
func (p *ProgressTracker) report() {
	rate := float64(p.current) / max(time.Since(p.startTime).Seconds(), 1e-9)
	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100.0
	}
	fmt.Fprintf(p.writer, "\rProgress: %d/%d (%.1f%%) - %.1f entities/s",
		p.current, p.total, percentage, rate)
}
