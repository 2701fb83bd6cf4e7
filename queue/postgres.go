package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/tributary/storage/postgres"
)

const postgresPollInterval = 250 * time.Millisecond

// PostgresQueue is a Queue on the job_queue table. Consumers claim rows
// with FOR UPDATE SKIP LOCKED and push visible_at forward while a
// message is in flight.
type PostgresQueue struct {
	db   *postgres.DB
	opts Options
}

var _ Queue = (*PostgresQueue)(nil)

// NewPostgresQueue creates a queue sharing db with the repositories.
func NewPostgresQueue(db *postgres.DB, opts ...Option) *PostgresQueue {
	return &PostgresQueue{db: db, opts: buildOptions(postgresPollInterval, opts)}
}

// Enqueue inserts a row.
func (q *PostgresQueue) Enqueue(ctx context.Context, kind string, payload []byte, notBefore *time.Time) (string, error) {
	if kind == "" {
		return "", ErrInvalidKind
	}
	db, err := q.db.SQL()
	if err != nil {
		return "", err
	}
	var visibleAt any
	if notBefore != nil {
		visibleAt = notBefore.UTC()
	}
	id := uuid.NewString()
	_, err = db.ExecContext(ctx, `
		INSERT INTO job_queue (id, queue_name, kind, payload, visible_at)
		VALUES ($1, $2, $3, $4, COALESCE($5::timestamptz, NOW()))`,
		id, q.opts.Name, kind, string(payload), visibleAt)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return id, nil
}

// Receive polls until a row is visible.
func (q *PostgresQueue) Receive(ctx context.Context) (*Message, error) {
	for {
		msg, err := q.tryReceive(ctx)
		if err != nil || msg != nil {
			return msg, err
		}
		if err := sleepContext(ctx, q.opts.PollInterval); err != nil {
			return nil, err
		}
	}
}

func (q *PostgresQueue) tryReceive(ctx context.Context) (*Message, error) {
	db, err := q.db.SQL()
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var msg Message
	var payload string
	err = tx.QueryRowContext(ctx, `
		SELECT id, kind, payload, attempts, created_at
		FROM job_queue
		WHERE queue_name = $1 AND visible_at <= NOW()
		ORDER BY visible_at ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, q.opts.Name).
		Scan(&msg.ID, &msg.Kind, &payload, &msg.Attempts, &msg.EnqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	msg.Attempts++
	_, err = tx.ExecContext(ctx, `
		UPDATE job_queue
		SET attempts = $2, visible_at = NOW() + make_interval(secs => $3)
		WHERE id = $1`, msg.ID, msg.Attempts, q.opts.VisibilityTimeout.Seconds())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	msg.Payload = []byte(payload)
	return &msg, nil
}

// Ack deletes the row.
func (q *PostgresQueue) Ack(ctx context.Context, id string) error {
	return q.exec(ctx, id, "DELETE FROM job_queue WHERE id = $1")
}

// Nack makes the row visible after retryAfter.
func (q *PostgresQueue) Nack(ctx context.Context, id string, retryAfter time.Duration) error {
	return q.exec(ctx, id,
		"UPDATE job_queue SET visible_at = NOW() + make_interval(secs => $2) WHERE id = $1",
		max(retryAfter, 0).Seconds())
}

// ExtendVisibility hides the row for d more and gives back the attempt.
func (q *PostgresQueue) ExtendVisibility(ctx context.Context, id string, d time.Duration) error {
	return q.exec(ctx, id, `
		UPDATE job_queue
		SET visible_at = NOW() + make_interval(secs => $2), attempts = GREATEST(attempts - 1, 0)
		WHERE id = $1`, capExtension(d, q.opts.MaxExtension).Seconds())
}

// MaxExtension returns the extension cap.
func (q *PostgresQueue) MaxExtension() time.Duration {
	return q.opts.MaxExtension
}

// Depth counts rows in this logical queue.
func (q *PostgresQueue) Depth(ctx context.Context) (int, error) {
	db, err := q.db.SQL()
	if err != nil {
		return 0, err
	}
	var depth int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM job_queue WHERE queue_name = $1", q.opts.Name).Scan(&depth)
	return depth, err
}

// Close releases the shared DB handle.
func (q *PostgresQueue) Close() error {
	return q.db.Close()
}

func (q *PostgresQueue) exec(ctx context.Context, id, query string, args ...any) error {
	db, err := q.db.SQL()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	return nil
}
