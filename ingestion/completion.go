package ingestion

import (
	"context"
	"log/slog"

	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/storage"
)

const claimScopeCompletion = "backfill-complete"

// Notifier is told once when a backfill completes.
type Notifier interface {
	NotifyBackfillComplete(ctx context.Context, run core.BackfillRun, progress *core.BackfillProgress) error
}

// LogNotifier reports completions to the log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) NotifyBackfillComplete(ctx context.Context, run core.BackfillRun, progress *core.BackfillProgress) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("backfill complete",
		"tenant_id", run.TenantID,
		"backfill_id", run.BackfillID,
		"ingest_jobs", progress.Get(core.CounterTotalIngestJobs),
		"done_ingest_jobs", progress.Get(core.CounterDoneIngestJobs),
		"index_jobs", progress.Get(core.CounterTotalIndexJobs))
	return nil
}

// CompletionTracker detects finished backfills from their progress
// counters and notifies exactly once per backfill.
type CompletionTracker struct {
	progress storage.ProgressRepository
	claims   storage.ClaimRepository
	notifier Notifier
	logger   *slog.Logger
}

// NewCompletionTracker creates a tracker. A nil notifier logs completions.
func NewCompletionTracker(progress storage.ProgressRepository, claims storage.ClaimRepository, notifier Notifier, logger *slog.Logger) *CompletionTracker {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "completion")
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &CompletionTracker{progress: progress, claims: claims, notifier: notifier, logger: logger}
}

// Check reports whether this call observed the run complete and won the
// right to announce it. Runs with SuppressNotification are still marked
// but not announced.
func (t *CompletionTracker) Check(ctx context.Context, run core.BackfillRun) (bool, error) {
	if run.BackfillID == "" {
		return false, nil
	}
	progress, err := t.progress.GetProgress(ctx, run.Key())
	if err != nil {
		return false, err
	}
	if !progress.Complete() {
		return false, nil
	}
	won, err := t.claims.Claim(ctx, claimScopeCompletion, run.TenantID+":"+run.BackfillID)
	if err != nil || !won {
		return false, err
	}
	if run.SuppressNotification {
		t.logger.Debug("backfill complete, notification suppressed", "tenant_id", run.TenantID, "backfill_id", run.BackfillID)
		return true, nil
	}
	return true, t.notifier.NotifyBackfillComplete(ctx, run, progress)
}
