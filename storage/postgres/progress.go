package postgres

import (
	"context"

	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/storage"
)

// ProgressRepository implements storage.ProgressRepository on Postgres.
// Each increment is a single upsert, atomic at the row level.
type ProgressRepository struct {
	db *DB
}

var _ storage.ProgressRepository = (*ProgressRepository)(nil)

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(db *DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// Close releases resources. The shared DB is closed by its owner.
func (r *ProgressRepository) Close() error {
	return nil
}

const incrementQuery = `
	INSERT INTO backfill_progress (tenant_id, backfill_id, counter, value, updated_at)
	VALUES ($1, $2, $3, $4, NOW())
	ON CONFLICT (tenant_id, backfill_id, counter)
	DO UPDATE SET value = backfill_progress.value + EXCLUDED.value, updated_at = NOW()
	RETURNING value`

// Increment atomically adds delta to a counter.
func (r *ProgressRepository) Increment(ctx context.Context, key core.ProgressKey, counter core.Counter, delta int64) (int64, error) {
	db, err := r.db.SQL()
	if err != nil {
		return 0, err
	}
	var value int64
	err = db.QueryRowContext(ctx, incrementQuery, key.TenantID, key.BackfillID, string(counter), delta).Scan(&value)
	return value, err
}

// GetProgress reads every counter of a backfill.
func (r *ProgressRepository) GetProgress(ctx context.Context, key core.ProgressKey) (*core.BackfillProgress, error) {
	db, err := r.db.SQL()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		"SELECT counter, value FROM backfill_progress WHERE tenant_id = $1 AND backfill_id = $2",
		key.TenantID, key.BackfillID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	progress := &core.BackfillProgress{
		Key:    key,
		Values: make(map[core.Counter]int64, len(core.Counters)),
	}
	for rows.Next() {
		var counter string
		var value int64
		if err := rows.Scan(&counter, &value); err != nil {
			return nil, err
		}
		progress.Values[core.Counter(counter)] = value
	}
	return progress, rows.Err()
}
