package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/tributary/connector"
	"github.com/poiesic/tributary/connector/fake"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/planner"
	"github.com/poiesic/tributary/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestRootOrchestrator_DisabledCategoryCountsAsEmpty(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	client := fake.NewAttio()
	client.DisableCategory(core.SourceAttioCompany)
	client.AddRecords(core.SourceAttioPerson, "", "p", 50)
	q := queue.NewMemoryQueue()

	o, err := NewRootOrchestrator(fake.Factory{core.VendorAttio: client}, q, repos.Progress, repos.Cursors,
		WithBatchSize(100), WithClock(fixedClock(t0)))
	require.NoError(t, err)

	result, err := o.Run(ctx, "job-1", core.RootJobConfig{TenantID: "t1", Vendor: core.VendorAttio, BackfillID: "bf-1"})
	require.NoError(t, err)
	assert.Equal(t, "bf-1", result.BackfillID)
	assert.Equal(t, 1, result.Batches)

	batches := pendingBatches(t, q)
	require.Len(t, batches, 1)
	assert.Nil(t, batches[0].StartTimestamp)
	assert.Equal(t, core.SourceAttioPerson, batches[0].Source)
	assert.Len(t, batches[0].RecordIDs, 50)
	assert.Equal(t, "bf-1", batches[0].BackfillID)

	progress, err := repos.Progress.GetProgress(ctx, core.ProgressKey{BackfillID: "bf-1", TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), progress.Get(core.CounterTotalIngestJobs))

	cursor, err := repos.Cursors.LoadCursor(ctx, "t1", core.VendorAttio)
	require.NoError(t, err)
	for _, src := range core.SourcesFor(core.VendorAttio) {
		ts, ok := cursor.LastSynced(src)
		require.True(t, ok, "source %s", src)
		assert.True(t, ts.Equal(t0))
	}
}

func TestRootOrchestrator_ListErrorAbortsBeforeEnqueue(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	client := fake.NewAttio()
	client.AddRecords(core.SourceAttioCompany, "", "c", 10)
	client.FailList(core.SourceAttioPerson, "", &connector.APIError{Status: 500, Message: "boom"})
	q := queue.NewMemoryQueue()

	o, err := NewRootOrchestrator(fake.Factory{core.VendorAttio: client}, q, repos.Progress, repos.Cursors)
	require.NoError(t, err)

	_, err = o.Run(ctx, "job-1", core.RootJobConfig{TenantID: "t1", Vendor: core.VendorAttio, BackfillID: "bf-1"})
	require.Error(t, err)
	assert.Empty(t, q.Pending())

	cursor, err := repos.Cursors.LoadCursor(ctx, "t1", core.VendorAttio)
	require.NoError(t, err)
	_, ok := cursor.LastSynced(core.SourceAttioCompany)
	assert.False(t, ok)
}

func TestRootOrchestrator_InterleavesAndThrottles(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	client := fake.NewAttio()
	client.AddRecords(core.SourceAttioCompany, "", "c", 6)
	client.AddRecords(core.SourceAttioPerson, "", "p", 2)
	q := queue.NewMemoryQueue()

	o, err := NewRootOrchestrator(fake.Factory{core.VendorAttio: client}, q, repos.Progress, repos.Cursors,
		WithBatchSize(2), WithClock(fixedClock(t0)),
		WithThrottle(planner.Throttle{BurstBatches: 2, BatchDelay: 10 * time.Second}))
	require.NoError(t, err)

	result, err := o.Run(ctx, "job-1", core.RootJobConfig{TenantID: "t1", Vendor: core.VendorAttio})
	require.NoError(t, err)
	assert.NotEmpty(t, result.BackfillID)
	assert.Equal(t, 4, result.Batches)

	batches := pendingBatches(t, q)
	require.Len(t, batches, 4)
	sources := make([]core.Source, len(batches))
	for i, b := range batches {
		sources[i] = b.Source
	}
	assert.Equal(t, []core.Source{
		core.SourceAttioCompany, core.SourceAttioPerson, core.SourceAttioCompany, core.SourceAttioCompany,
	}, sources)

	assert.Nil(t, batches[0].StartTimestamp)
	assert.Nil(t, batches[1].StartTimestamp)
	require.NotNil(t, batches[2].StartTimestamp)
	require.NotNil(t, batches[3].StartTimestamp)
	assert.True(t, batches[3].StartTimestamp.After(*batches[2].StartTimestamp))
}

func TestRootOrchestrator_NothingToSync(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	client := fake.NewAttio()
	q := queue.NewMemoryQueue()

	o, err := NewRootOrchestrator(fake.Factory{core.VendorAttio: client}, q, repos.Progress, repos.Cursors,
		WithClock(fixedClock(t0)))
	require.NoError(t, err)

	result, err := o.Run(ctx, "job-1", core.RootJobConfig{TenantID: "t1", Vendor: core.VendorAttio, BackfillID: "bf-1"})
	require.NoError(t, err)
	assert.Zero(t, result.Batches)
	assert.Empty(t, q.Pending())

	progress, err := repos.Progress.GetProgress(ctx, core.ProgressKey{BackfillID: "bf-1", TenantID: "t1"})
	require.NoError(t, err)
	assert.Zero(t, progress.Get(core.CounterTotalIngestJobs))

	cursor, err := repos.Cursors.LoadCursor(ctx, "t1", core.VendorAttio)
	require.NoError(t, err)
	_, ok := cursor.LastSynced(core.SourceAttioDeal)
	assert.True(t, ok)
}

func TestRootOrchestrator_GuardSkipsRedelivery(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	client := fake.NewAttio()
	client.AddRecords(core.SourceAttioDeal, "", "d", 3)
	q := queue.NewMemoryQueue()

	o, err := NewRootOrchestrator(fake.Factory{core.VendorAttio: client}, q, repos.Progress, repos.Cursors,
		WithRootJobGuard(repos.Claims))
	require.NoError(t, err)

	cfg := core.RootJobConfig{TenantID: "t1", Vendor: core.VendorAttio, BackfillID: "bf-1"}
	first, err := o.Run(ctx, "job-1", cfg)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := o.Run(ctx, "job-1", cfg)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Len(t, q.Pending(), 1)

	progress, err := repos.Progress.GetProgress(ctx, core.ProgressKey{BackfillID: "bf-1", TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), progress.Get(core.CounterTotalIngestJobs))
}

func TestRootOrchestrator_RetryAfterPartialEnqueue(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	client := fake.NewAttio()
	client.AddRecords(core.SourceAttioCompany, "", "c", 300)
	q := &flakyQueue{MemoryQueue: queue.NewMemoryQueue(), failOn: 2}

	o, err := NewRootOrchestrator(fake.Factory{core.VendorAttio: client}, q, repos.Progress, repos.Cursors,
		WithBatchSize(100), WithRootJobGuard(repos.Claims))
	require.NoError(t, err)

	cfg := core.RootJobConfig{TenantID: "t1", Vendor: core.VendorAttio, BackfillID: "bf-1"}
	key := core.ProgressKey{BackfillID: "bf-1", TenantID: "t1"}

	_, err = o.Run(ctx, "job-1", cfg)
	require.ErrorIs(t, err, errQueueUnavailable)
	assert.Len(t, q.Pending(), 1)

	progress, err := repos.Progress.GetProgress(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), progress.Get(core.CounterTotalIngestJobs), "only the queued batch stays counted")

	claimed, err := repos.Claims.IsClaimed(ctx, claimScopeRootJob, "t1:job-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	retry, err := o.Run(ctx, "job-1", cfg)
	require.NoError(t, err)
	assert.False(t, retry.Duplicate)
	assert.Len(t, q.Pending(), 4)

	progress, err = repos.Progress.GetProgress(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(4), progress.Get(core.CounterTotalIngestJobs))

	again, err := o.Run(ctx, "job-1", cfg)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Len(t, q.Pending(), 4)
}

func TestRootOrchestrator_FailedRunWithGeneratedIDCanComplete(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	client := fake.NewAttio()
	client.AddRecords(core.SourceAttioCompany, "", "c", 200)
	notifier := &countingNotifier{}
	tracker := NewCompletionTracker(repos.Progress, repos.Claims, notifier, nil)

	// The first batch is attempted before the second enqueue fails.
	q := &flakyQueue{MemoryQueue: queue.NewMemoryQueue(), failOn: 2}
	q.before = func(call int, payload []byte) {
		if call != 2 {
			return
		}
		var batch core.BatchJobConfig
		require.NoError(t, json.Unmarshal(payload, &batch))
		_, err := repos.Progress.Increment(ctx, core.ProgressKey{BackfillID: batch.BackfillID, TenantID: "t1"},
			core.CounterAttemptedIngestJobs, 1)
		require.NoError(t, err)
	}

	o, err := NewRootOrchestrator(fake.Factory{core.VendorAttio: client}, q, repos.Progress, repos.Cursors,
		WithBatchSize(100), WithCompletionTracker(tracker))
	require.NoError(t, err)

	_, err = o.Run(ctx, "job-1", core.RootJobConfig{TenantID: "t1", Vendor: core.VendorAttio})
	require.Error(t, err)
	assert.Equal(t, 1, notifier.calls())
}

func TestRootOrchestrator_RecordsTotalBeforeFirstEnqueue(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	client := fake.NewAttio()
	client.AddRecords(core.SourceAttioCompany, "", "c", 5)
	client.AddRecords(core.SourceAttioPerson, "", "p", 3)

	var seen []int64
	q := &flakyQueue{MemoryQueue: queue.NewMemoryQueue()}
	q.before = func(call int, payload []byte) {
		progress, err := repos.Progress.GetProgress(ctx, core.ProgressKey{BackfillID: "bf-1", TenantID: "t1"})
		require.NoError(t, err)
		seen = append(seen, progress.Get(core.CounterTotalIngestJobs))
	}

	o, err := NewRootOrchestrator(fake.Factory{core.VendorAttio: client}, q, repos.Progress, repos.Cursors,
		WithBatchSize(2))
	require.NoError(t, err)

	result, err := o.Run(ctx, "job-1", core.RootJobConfig{TenantID: "t1", Vendor: core.VendorAttio, BackfillID: "bf-1"})
	require.NoError(t, err)
	require.Equal(t, 5, result.Batches)
	assert.Equal(t, []int64{5, 5, 5, 5, 5}, seen)
}

func TestRootOrchestrator_PartitionedVendor(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	client := fake.NewPostHog("11", "12")
	client.AddRecords(core.SourcePostHogDashboard, "11", "d", 1)
	client.AddRecords(core.SourcePostHogInsight, "12", "i", 1)
	q := queue.NewMemoryQueue()

	o, err := NewRootOrchestrator(fake.Factory{core.VendorPostHog: client}, q, repos.Progress, repos.Cursors)
	require.NoError(t, err)

	_, err = o.Run(ctx, "job-1", core.RootJobConfig{TenantID: "t1", Vendor: core.VendorPostHog})
	require.NoError(t, err)

	batches := pendingBatches(t, q)
	require.Len(t, batches, 2)
	assert.Equal(t, "11", batches[0].Partition)
	assert.Equal(t, "12", batches[1].Partition)

	cursor, err := repos.Cursors.LoadCursor(ctx, "t1", core.VendorPostHog)
	require.NoError(t, err)
	assert.Equal(t, []string{"11", "12"}, cursor.SyncedProjectIDs)
}

func TestNewRootOrchestrator_RequiresDependencies(t *testing.T) {
	repos := newRepos(t)
	q := queue.NewMemoryQueue()

	_, err := NewRootOrchestrator(nil, q, repos.Progress, repos.Cursors)
	assert.ErrorIs(t, err, ErrVendorFactoryRequired)

	_, err = NewRootOrchestrator(fake.Factory{}, nil, repos.Progress, repos.Cursors)
	assert.ErrorIs(t, err, ErrQueueRequired)

	_, err = NewRootOrchestrator(fake.Factory{}, q, repos.Progress, repos.Cursors,
		WithThrottle(planner.Throttle{BurstBatches: -1}))
	assert.True(t, errors.Is(err, planner.ErrInvalidThrottle))
}
