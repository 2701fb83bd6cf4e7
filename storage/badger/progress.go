package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/storage"
)

// ProgressRepository implements storage.ProgressRepository for BadgerDB.
//
// Increments run as optimistic read-modify-write transactions. Badger
// detects the conflict when two increments of the same counter overlap and
// Backend.Update re-runs the loser, so no update is lost.
type ProgressRepository struct {
	backend *Backend
}

var _ storage.ProgressRepository = (*ProgressRepository)(nil)

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(backend *Backend) *ProgressRepository {
	return &ProgressRepository{
		backend: backend,
	}
}

// Close releases resources. ProgressRepository has no resources to release.
func (r *ProgressRepository) Close() error {
	return nil
}

// Increment atomically adds delta to a counter.
func (r *ProgressRepository) Increment(ctx context.Context, key core.ProgressKey, counter core.Counter, delta int64) (int64, error) {
	var next int64
	err := r.backend.Update(func(tx *badger.Txn) error {
		k := makeProgressKey(key, counter)
		value, err := getValue(tx, k)
		if err != nil {
			return err
		}
		var current int64
		if value != nil {
			current, err = storage.UnmarshalCounter(value)
			if err != nil {
				return err
			}
		}
		next = current + delta
		return tx.Set(k, storage.MarshalCounter(next))
	})
	return next, err
}

// GetProgress reads every counter of a backfill in one snapshot.
func (r *ProgressRepository) GetProgress(ctx context.Context, key core.ProgressKey) (*core.BackfillProgress, error) {
	progress := &core.BackfillProgress{
		Key:    key,
		Values: make(map[core.Counter]int64, len(core.Counters)),
	}
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, c := range core.Counters {
			value, err := getValue(tx, makeProgressKey(key, c))
			if err != nil {
				return err
			}
			if value == nil {
				continue
			}
			v, err := storage.UnmarshalCounter(value)
			if err != nil {
				return err
			}
			progress.Values[c] = v
		}
		return nil
	}, false)
	return progress, err
}
