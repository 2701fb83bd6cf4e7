package prune

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/poiesic/tributary/connector/fake"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/ingestion"
	"github.com/poiesic/tributary/jobs"
	"github.com/poiesic/tributary/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexDocs(t *testing.T, repos *badger.Repositories, tenantID string, source core.Source, partition string, recordIDs ...string) {
	t.Helper()
	for _, id := range recordIDs {
		require.NoError(t, repos.Documents.UpsertDocuments(context.Background(), &core.Document{
			EntityID:  core.EntityID(source, partition, id),
			TenantID:  tenantID,
			Source:    source,
			Partition: partition,
			Title:     id,
		}))
	}
}

func newPruner(t *testing.T, client *fake.Client, opts ...Option) (*Pruner, *badger.Repositories) {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	deleter := ingestion.NewDeleter(repos.Artifacts, repos.Documents, nil)
	p, err := NewPruner(fake.Factory{client.Vendor(): client}, repos.Documents, deleter, opts...)
	require.NoError(t, err)
	return p, repos
}

func TestPruner_DeletesConfirmedStale(t *testing.T) {
	ctx := context.Background()
	client := fake.NewPostHog("1", "2")
	client.AddRecords(core.SourcePostHogDashboard, "1", "d", 5)
	client.AddRecords(core.SourcePostHogDashboard, "2", "e", 5)
	p, repos := newPruner(t, client)

	indexDocs(t, repos, "t1", core.SourcePostHogDashboard, "1", "d-0", "d-1", "d-2", "d-3", "d-4", "gone")
	indexDocs(t, repos, "t1", core.SourcePostHogDashboard, "2", "e-0", "e-1", "e-2", "e-3", "e-4")

	result, err := p.Prune(ctx, core.PruneJobConfig{TenantID: "t1", Vendor: core.VendorPostHog})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted())

	remaining, err := repos.Documents.ListDocumentIDs(ctx, "t1", core.SourcePostHogDashboard)
	require.NoError(t, err)
	assert.Len(t, remaining, 10)
	assert.NotContains(t, remaining, core.EntityID(core.SourcePostHogDashboard, "1", "gone"))
}

func TestPruner_FailedProjectIsNotTouched(t *testing.T) {
	ctx := context.Background()
	client := fake.NewPostHog("1", "2")
	client.AddRecords(core.SourcePostHogInsight, "1", "i", 4)
	client.FailList(core.SourcePostHogInsight, "2", errors.New("503"))
	p, repos := newPruner(t, client)

	indexDocs(t, repos, "t1", core.SourcePostHogInsight, "1", "i-0", "i-1", "i-2", "i-3")
	indexDocs(t, repos, "t1", core.SourcePostHogInsight, "2", "j-0", "j-1")

	result, err := p.Prune(ctx, core.PruneJobConfig{TenantID: "t1", Vendor: core.VendorPostHog})
	require.NoError(t, err)
	assert.Zero(t, result.Deleted())

	remaining, err := repos.Documents.ListDocumentIDs(ctx, "t1", core.SourcePostHogInsight)
	require.NoError(t, err)
	assert.Len(t, remaining, 6)
}

func TestPruner_MassDeletionAborted(t *testing.T) {
	ctx := context.Background()
	client := fake.NewAttio()
	client.AddRecords(core.SourceAttioCompany, "", "c", 2)
	p, repos := newPruner(t, client)

	indexDocs(t, repos, "t1", core.SourceAttioCompany, "", "c-0", "c-1", "c-2", "c-3", "c-4", "c-5", "c-6", "c-7", "c-8", "c-9")

	result, err := p.Prune(ctx, core.PruneJobConfig{TenantID: "t1", Vendor: core.VendorAttio})
	require.NoError(t, err)
	assert.Zero(t, result.Deleted())

	remaining, err := repos.Documents.ListDocumentIDs(ctx, "t1", core.SourceAttioCompany)
	require.NoError(t, err)
	assert.Len(t, remaining, 10)
}

func TestPruner_DisabledCategoryKeepsDocuments(t *testing.T) {
	ctx := context.Background()
	client := fake.NewAttio()
	client.DisableCategory(core.SourceAttioDeal)
	p, repos := newPruner(t, client)

	indexDocs(t, repos, "t1", core.SourceAttioDeal, "", "d-0", "d-1")

	result, err := p.Prune(ctx, core.PruneJobConfig{TenantID: "t1", Vendor: core.VendorAttio})
	require.NoError(t, err)
	assert.Zero(t, result.Deleted())
}

func TestPruner_PartitionListingFailureSkipsPass(t *testing.T) {
	client := fake.NewPostHog("1")
	client.FailPartitions(errors.New("unauthorized"))
	p, _ := newPruner(t, client)

	result, err := p.Prune(context.Background(), core.PruneJobConfig{TenantID: "t1", Vendor: core.VendorPostHog})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
}

func TestPruner_DryRun(t *testing.T) {
	ctx := context.Background()
	client := fake.NewAttio()
	client.AddRecords(core.SourceAttioPerson, "", "p", 9)
	p, repos := newPruner(t, client, WithDryRun(true))

	indexDocs(t, repos, "t1", core.SourceAttioPerson, "", "p-0", "p-1", "p-2", "p-3", "p-4", "p-5", "p-6", "p-7", "p-8", "gone")

	result, err := p.Prune(ctx, core.PruneJobConfig{TenantID: "t1", Vendor: core.VendorAttio})
	require.NoError(t, err)
	require.Len(t, result.Categories, 3)
	assert.Equal(t, []string{core.EntityID(core.SourceAttioPerson, "", "gone")}, result.Categories[1].Stale)
	assert.Zero(t, result.Deleted())

	remaining, err := repos.Documents.ListDocumentIDs(ctx, "t1", core.SourceAttioPerson)
	require.NoError(t, err)
	assert.Len(t, remaining, 10)
}

func TestPruner_Handle(t *testing.T) {
	client := fake.NewAttio()
	p, _ := newPruner(t, client)

	payload, err := json.Marshal(core.PruneJobConfig{TenantID: "t1", Vendor: core.VendorAttio})
	require.NoError(t, err)
	outcome := p.Handle(context.Background(), jobs.Job{ID: "j1", Kind: jobs.KindPrune, Payload: payload})
	assert.Equal(t, jobs.OutcomeSuccess, outcome.Kind)

	outcome = p.Handle(context.Background(), jobs.Job{ID: "j2", Kind: jobs.KindPrune, Payload: []byte(`{`)})
	assert.ErrorIs(t, outcome.Err, jobs.ErrPermanent)
}

func TestNewPruner_InvalidRatio(t *testing.T) {
	client := fake.NewAttio()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	_, err = NewPruner(fake.Factory{client.Vendor(): client}, repos.Documents,
		ingestion.NewDeleter(repos.Artifacts, repos.Documents, nil), WithMaxDeletionRatio(2))
	assert.ErrorIs(t, err, ErrInvalidRatio)
}
