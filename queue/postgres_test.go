package queue

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/tributary/storage/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresQueue_RoundTrip(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("TRIBUTARY_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("TRIBUTARY_TEST_POSTGRES_DSN not set")
	}
	db, err := postgres.Open(dsn)
	require.NoError(t, err)
	q := NewPostgresQueue(db, WithName("test-"+uuid.NewString()), WithPollInterval(10*time.Millisecond))
	t.Cleanup(func() { _ = q.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := q.Enqueue(ctx, "ingest.batch", []byte(`{"tenant_id":"t1"}`), nil)
	require.NoError(t, err)

	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, 1, msg.Attempts)
	assert.JSONEq(t, `{"tenant_id":"t1"}`, string(msg.Payload))

	require.NoError(t, q.ExtendVisibility(ctx, id, time.Hour))
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	require.NoError(t, q.Ack(ctx, id))
	assert.ErrorIs(t, q.Ack(ctx, id), ErrUnknownMessage)
}
