package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/tributary/storage"
)

// ClaimRepository implements storage.ClaimRepository for BadgerDB.
type ClaimRepository struct {
	backend *Backend
}

var _ storage.ClaimRepository = (*ClaimRepository)(nil)

// NewClaimRepository creates a new ClaimRepository.
func NewClaimRepository(backend *Backend) *ClaimRepository {
	return &ClaimRepository{
		backend: backend,
	}
}

// Close releases resources. ClaimRepository has no resources to release.
func (r *ClaimRepository) Close() error {
	return nil
}

// Claim marks (scope, key) if it is unclaimed. Concurrent claimers conflict
// on the same key and the retried loser observes the winner's marker.
func (r *ClaimRepository) Claim(ctx context.Context, scope, key string) (bool, error) {
	var won bool
	err := r.backend.Update(func(tx *badger.Txn) error {
		k := makeClaimKey(scope, key)
		value, err := getValue(tx, k)
		if err != nil {
			return err
		}
		if value != nil {
			won = false
			return nil
		}
		won = true
		stamp, _ := time.Now().UTC().MarshalBinary()
		return tx.Set(k, stamp)
	})
	return won, err
}

// IsClaimed reports whether (scope, key) has been claimed.
func (r *ClaimRepository) IsClaimed(ctx context.Context, scope, key string) (bool, error) {
	var claimed bool
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		value, err := getValue(tx, makeClaimKey(scope, key))
		claimed = value != nil
		return err
	}, false)
	return claimed, err
}

// Release deletes the marker of (scope, key).
func (r *ClaimRepository) Release(ctx context.Context, scope, key string) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		return tx.Delete(makeClaimKey(scope, key))
	})
}
