package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/storage"
)

// CursorRepository implements storage.CursorRepository for BadgerDB.
type CursorRepository struct {
	backend *Backend
}

var _ storage.CursorRepository = (*CursorRepository)(nil)

// NewCursorRepository creates a new CursorRepository.
func NewCursorRepository(backend *Backend) *CursorRepository {
	return &CursorRepository{
		backend: backend,
	}
}

// Close releases resources. CursorRepository has no resources to release.
func (r *CursorRepository) Close() error {
	return nil
}

// LoadCursor retrieves a cursor, returning an empty one if none is stored.
func (r *CursorRepository) LoadCursor(ctx context.Context, tenantID string, vendor core.Vendor) (*core.SyncCursor, error) {
	var cursor *core.SyncCursor
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		cursor, err = readCursor(tx, tenantID, vendor)
		return err
	}, false)
	return cursor, err
}

// UpdateCursor applies fn to the stored cursor and writes it back in one
// transaction.
func (r *CursorRepository) UpdateCursor(ctx context.Context, tenantID string, vendor core.Vendor, fn func(*core.SyncCursor) error) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		cursor, err := readCursor(tx, tenantID, vendor)
		if err != nil {
			return err
		}
		if err := fn(cursor); err != nil {
			return err
		}
		value, err := storage.MarshalSyncCursor(cursor)
		if err != nil {
			return err
		}
		return tx.Set(makeCursorKey(tenantID, vendor), value)
	})
}

func readCursor(tx *badger.Txn, tenantID string, vendor core.Vendor) (*core.SyncCursor, error) {
	value, err := getValue(tx, makeCursorKey(tenantID, vendor))
	if err != nil {
		return nil, err
	}
	if value == nil {
		return core.NewSyncCursor(tenantID, vendor), nil
	}
	cursor, err := storage.UnmarshalSyncCursor(value)
	if err != nil {
		return nil, err
	}
	if cursor.LastSyncedAt == nil {
		cursor.LastSyncedAt = make(map[core.Source]time.Time)
	}
	return cursor, nil
}
