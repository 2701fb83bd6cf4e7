package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/storage"
)

// ArtifactRepository implements storage.ArtifactRepository for BadgerDB.
type ArtifactRepository struct {
	backend *Backend
}

var _ storage.ArtifactRepository = (*ArtifactRepository)(nil)

// NewArtifactRepository creates a new ArtifactRepository.
func NewArtifactRepository(backend *Backend) *ArtifactRepository {
	return &ArtifactRepository{
		backend: backend,
	}
}

// Close releases resources. ArtifactRepository has no resources to release.
func (r *ArtifactRepository) Close() error {
	return nil
}

// StoreArtifacts writes artifacts in a single transaction, skipping any
// artifact older than the stored copy.
func (r *ArtifactRepository) StoreArtifacts(ctx context.Context, artifacts ...*core.Artifact) (int, error) {
	return r.store(artifacts, false)
}

// ForceStoreArtifacts writes artifacts in a single transaction
// unconditionally.
func (r *ArtifactRepository) ForceStoreArtifacts(ctx context.Context, artifacts ...*core.Artifact) error {
	_, err := r.store(artifacts, true)
	return err
}

func (r *ArtifactRepository) store(artifacts []*core.Artifact, force bool) (int, error) {
	for _, a := range artifacts {
		if err := core.ValidateArtifact(a); err != nil {
			return 0, err
		}
	}
	if len(artifacts) == 0 {
		return 0, nil
	}

	var written int
	err := r.backend.Update(func(tx *badger.Txn) error {
		written = 0
		now := time.Now().UTC()
		for _, a := range artifacts {
			key := makeArtifactKey(a.TenantID, a.EntityID)

			if !force {
				existing, err := readArtifact(tx, key)
				if err != nil {
					return err
				}
				// Keep the stored copy when it is strictly newer
				if existing != nil && existing.SourceUpdatedAt.After(a.SourceUpdatedAt) {
					continue
				}
			}

			a.StoredAt = now
			value, err := storage.MarshalArtifact(a)
			if err != nil {
				return err
			}
			if err := tx.Set(key, value); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	return written, err
}

// GetArtifact retrieves a single artifact.
func (r *ArtifactRepository) GetArtifact(ctx context.Context, tenantID, entityID string) (*core.Artifact, error) {
	var result *core.Artifact
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readArtifact(tx, makeArtifactKey(tenantID, entityID))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// GetArtifacts retrieves the artifacts that exist among entityIDs, in order.
func (r *ArtifactRepository) GetArtifacts(ctx context.Context, tenantID string, entityIDs ...string) ([]*core.Artifact, error) {
	var result []*core.Artifact
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range entityIDs {
			a, err := readArtifact(tx, makeArtifactKey(tenantID, id))
			if err != nil {
				return err
			}
			if a != nil {
				result = append(result, a)
			}
		}
		return nil
	}, false)
	return result, err
}

// ListArtifactIDs returns one source's entity ids in key order.
func (r *ArtifactRepository) ListArtifactIDs(ctx context.Context, tenantID string, source core.Source) ([]string, error) {
	var ids []string
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return iteratePrefix(tx, makeArtifactSourcePrefix(tenantID, source), true, func(key, _ []byte) error {
			ids = append(ids, entityIDFromKey(key))
			return nil
		})
	}, false)
	return ids, err
}

// CountArtifacts counts one source's artifacts.
func (r *ArtifactRepository) CountArtifacts(ctx context.Context, tenantID string, source core.Source) (int, error) {
	var count int
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return iteratePrefix(tx, makeArtifactSourcePrefix(tenantID, source), true, func(_, _ []byte) error {
			count++
			return nil
		})
	}, false)
	return count, err
}

// DeleteArtifact removes an artifact, reporting whether it existed.
func (r *ArtifactRepository) DeleteArtifact(ctx context.Context, tenantID, entityID string) (bool, error) {
	var existed bool
	err := r.backend.Update(func(tx *badger.Txn) error {
		key := makeArtifactKey(tenantID, entityID)
		value, err := getValue(tx, key)
		if err != nil {
			return err
		}
		existed = value != nil
		if !existed {
			return nil
		}
		return tx.Delete(key)
	})
	return existed, err
}

// readArtifact reads an artifact. Returns nil, nil if it doesn't exist.
func readArtifact(tx *badger.Txn, key []byte) (*core.Artifact, error) {
	value, err := getValue(tx, key)
	if err != nil || value == nil {
		return nil, err
	}
	return storage.UnmarshalArtifact(value)
}
