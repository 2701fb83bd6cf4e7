package postgres

import (
	"context"

	"github.com/poiesic/tributary/storage"
)

// ClaimRepository implements storage.ClaimRepository on Postgres.
type ClaimRepository struct {
	db *DB
}

var _ storage.ClaimRepository = (*ClaimRepository)(nil)

// NewClaimRepository creates a new ClaimRepository.
func NewClaimRepository(db *DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// Close releases resources. The shared DB is closed by its owner.
func (r *ClaimRepository) Close() error {
	return nil
}

// Claim inserts the marker; only the first insert affects a row.
func (r *ClaimRepository) Claim(ctx context.Context, scope, key string) (bool, error) {
	db, err := r.db.SQL()
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx,
		"INSERT INTO claims (scope, claim_key) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		scope, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IsClaimed reports whether the marker exists.
func (r *ClaimRepository) IsClaimed(ctx context.Context, scope, key string) (bool, error) {
	db, err := r.db.SQL()
	if err != nil {
		return false, err
	}
	var exists bool
	err = db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM claims WHERE scope = $1 AND claim_key = $2)",
		scope, key).Scan(&exists)
	return exists, err
}

func (r *ClaimRepository) Release(ctx context.Context, scope, key string) error {
	db, err := r.db.SQL()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "DELETE FROM claims WHERE scope = $1 AND claim_key = $2", scope, key)
	return err
}
