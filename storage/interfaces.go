package storage

import (
	"context"

	"github.com/poiesic/tributary/core"
)

// ArtifactRepository persists fetched vendor records.
// Implementations must be thread-safe and support concurrent access.
type ArtifactRepository interface {
	// StoreArtifacts writes artifacts in one batch, insert-or-overwrite by
	// (tenant, entity id). An artifact whose SourceUpdatedAt is older than
	// the stored copy is skipped. Returns the number of artifacts written.
	StoreArtifacts(ctx context.Context, artifacts ...*core.Artifact) (int, error)

	// ForceStoreArtifacts writes artifacts in one batch without comparing
	// against the stored copy.
	ForceStoreArtifacts(ctx context.Context, artifacts ...*core.Artifact) error

	// GetArtifact retrieves one artifact.
	// Returns ErrNotFound if it doesn't exist.
	GetArtifact(ctx context.Context, tenantID, entityID string) (*core.Artifact, error)

	// GetArtifacts retrieves artifacts by entity id.
	// Returns only the artifacts that exist (no error for missing ones).
	GetArtifacts(ctx context.Context, tenantID string, entityIDs ...string) ([]*core.Artifact, error)

	// ListArtifactIDs returns the entity ids of one source's artifacts, sorted.
	ListArtifactIDs(ctx context.Context, tenantID string, source core.Source) ([]string, error)

	// CountArtifacts counts the stored artifacts of one source.
	CountArtifacts(ctx context.Context, tenantID string, source core.Source) (int, error)

	// DeleteArtifact removes one artifact. Reports whether it existed.
	DeleteArtifact(ctx context.Context, tenantID, entityID string) (bool, error)

	// Close releases resources held by the repository.
	Close() error
}

// DocumentRepository persists indexed documents and their chunk vectors.
type DocumentRepository interface {
	// UpsertDocuments writes documents, insert-or-overwrite by (tenant, entity id).
	UpsertDocuments(ctx context.Context, docs ...*core.Document) error

	// GetDocument retrieves one document.
	// Returns ErrNotFound if it doesn't exist.
	GetDocument(ctx context.Context, tenantID, entityID string) (*core.Document, error)

	// ListDocumentIDs returns the entity ids of every indexed document of a source.
	ListDocumentIDs(ctx context.Context, tenantID string, source core.Source) ([]string, error)

	// DeleteDocument removes one document. Reports whether it existed.
	DeleteDocument(ctx context.Context, tenantID, entityID string) (bool, error)

	// FindSimilar finds the tenant's chunks similar to the given vector.
	// Returns chunks with similarity >= minSimilarity, up to limit results,
	// ordered by similarity score (highest first).
	FindSimilar(ctx context.Context, tenantID string, vector []float32, minSimilarity float32, limit int) ([]*core.SearchResult, error)

	// Close releases resources held by the repository.
	Close() error
}

// ProgressRepository stores backfill progress counters.
// Increment must be atomic: concurrent increments never lose updates.
type ProgressRepository interface {
	// Increment adds delta to a counter and returns the new value.
	Increment(ctx context.Context, key core.ProgressKey, counter core.Counter, delta int64) (int64, error)

	// GetProgress returns a snapshot of every counter of a backfill.
	GetProgress(ctx context.Context, key core.ProgressKey) (*core.BackfillProgress, error)

	// Close releases resources held by the repository.
	Close() error
}

// ClaimRepository records one-shot markers. A claim succeeds exactly once
// per (scope, key), no matter how many callers race for it.
type ClaimRepository interface {
	// Claim marks (scope, key). Reports true only for the first caller.
	Claim(ctx context.Context, scope, key string) (bool, error)

	// IsClaimed reports whether (scope, key) has been claimed.
	IsClaimed(ctx context.Context, scope, key string) (bool, error)

	// Release removes the marker so (scope, key) can be claimed again.
	// Releasing an unclaimed key is not an error.
	Release(ctx context.Context, scope, key string) error

	// Close releases resources held by the repository.
	Close() error
}

// CursorRepository stores per-tenant sync cursors.
type CursorRepository interface {
	// LoadCursor returns the cursor of a tenant's vendor connection.
	// A missing cursor is returned empty, not as an error.
	LoadCursor(ctx context.Context, tenantID string, vendor core.Vendor) (*core.SyncCursor, error)

	// UpdateCursor applies fn to the stored cursor inside one transaction.
	// If fn returns an error nothing is written.
	UpdateCursor(ctx context.Context, tenantID string, vendor core.Vendor, fn func(*core.SyncCursor) error) error

	// Close releases resources held by the repository.
	Close() error
}
