package badger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArtifact(tenant string, source core.Source, id string, updated time.Time, body string) *core.Artifact {
	return core.NewArtifact(tenant, source, &core.Record{
		ID:        id,
		UpdatedAt: updated,
		Payload:   json.RawMessage(body),
	}, nil, "job-1")
}

func TestStoreArtifacts_InsertOrOverwrite(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()
	ctx := context.Background()

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := newArtifact("t1", core.SourceAttioPerson, "p1", t0, `{"v":1}`)
	b := newArtifact("t1", core.SourceAttioPerson, "p2", t0, `{"v":1}`)

	n, err := repos.Artifacts.StoreArtifacts(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Same records again overwrite rather than duplicate
	n, err = repos.Artifacts.StoreArtifacts(ctx,
		newArtifact("t1", core.SourceAttioPerson, "p1", t0, `{"v":1}`),
		newArtifact("t1", core.SourceAttioPerson, "p2", t0, `{"v":1}`),
	)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := repos.Artifacts.CountArtifacts(ctx, "t1", core.SourceAttioPerson)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	ids, err := repos.Artifacts.ListArtifactIDs(ctx, "t1", core.SourceAttioPerson)
	require.NoError(t, err)
	assert.Equal(t, []string{a.EntityID, b.EntityID}, ids)

	ids, err = repos.Artifacts.ListArtifactIDs(ctx, "t2", core.SourceAttioPerson)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStoreArtifacts_SkipsOlder(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()
	ctx := context.Background()

	newer := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	_, err = repos.Artifacts.StoreArtifacts(ctx, newArtifact("t1", core.SourceAttioDeal, "d1", newer, `{"v":"new"}`))
	require.NoError(t, err)

	n, err := repos.Artifacts.StoreArtifacts(ctx, newArtifact("t1", core.SourceAttioDeal, "d1", older, `{"v":"old"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := repos.Artifacts.GetArtifact(ctx, "t1", "attio_deal_d1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":"new"}`, string(got.Content))

	// Force store bypasses the freshness comparison
	require.NoError(t, repos.Artifacts.ForceStoreArtifacts(ctx, newArtifact("t1", core.SourceAttioDeal, "d1", older, `{"v":"forced"}`)))
	got, err = repos.Artifacts.GetArtifact(ctx, "t1", "attio_deal_d1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":"forced"}`, string(got.Content))
}

func TestStoreArtifacts_RejectsInvalid(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	_, err = repos.Artifacts.StoreArtifacts(context.Background(), &core.Artifact{TenantID: "t1", Source: core.SourceAttioDeal})
	assert.ErrorIs(t, err, core.ErrInvalidArtifact)
}

func TestGetArtifacts_TenantIsolation(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	_, err = repos.Artifacts.StoreArtifacts(ctx,
		newArtifact("t1", core.SourceAttioCompany, "c1", now, `{}`),
		newArtifact("t2", core.SourceAttioCompany, "c2", now, `{}`),
	)
	require.NoError(t, err)

	got, err := repos.Artifacts.GetArtifacts(ctx, "t1", "attio_company_c1", "attio_company_c2", "attio_company_missing")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "attio_company_c1", got[0].EntityID)

	_, err = repos.Artifacts.GetArtifact(ctx, "t1", "attio_company_c2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteArtifact(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()
	ctx := context.Background()

	_, err = repos.Artifacts.StoreArtifacts(ctx, newArtifact("t1", core.SourceAttioCompany, "c1", time.Now(), `{}`))
	require.NoError(t, err)

	existed, err := repos.Artifacts.DeleteArtifact(ctx, "t1", "attio_company_c1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = repos.Artifacts.DeleteArtifact(ctx, "t1", "attio_company_c1")
	require.NoError(t, err)
	assert.False(t, existed)
}
