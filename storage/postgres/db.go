package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/poiesic/tributary/storage/postgres/migrations"
)

const operationTimeout = 5 * time.Second

// ErrInvalidDSN indicates an empty connection string.
var ErrInvalidDSN = errors.New("postgres: dsn is required")

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// DB is a lazily connected Postgres handle shared by the repositories and
// the job queue. The schema is migrated on first use.
type DB struct {
	dsn    string
	openDB sqlOpenFunc
	logger *slog.Logger

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// Open prepares a handle for dsn. No connection is made until first use.
func Open(dsn string) (*DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidDSN
	}
	return &DB{
		dsn:    dsn,
		openDB: sql.Open,
		logger: slog.Default().With("component", "postgres"),
	}, nil
}

// SQL connects and migrates on first call, then returns the pool.
func (d *DB) SQL() (*sql.DB, error) {
	if err := d.ensureReady(); err != nil {
		return nil, err
	}
	return d.db, nil
}

func (d *DB) ensureReady() error {
	d.initOnce.Do(func() {
		db, err := d.openDB("postgres", d.dsn)
		if err != nil {
			d.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			d.initErr = err
			return
		}
		if err := migrations.MigrateUp(db); err != nil {
			_ = db.Close()
			d.initErr = err
			return
		}
		d.logger.Debug("postgres ready")
		d.db = db
	})
	return d.initErr
}

// Close closes the pool if it was opened.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}
