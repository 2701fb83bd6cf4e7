package queue

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/poiesic/tributary/storage/postgres"
)

// ErrUnsupportedScheme is returned for DSN schemes with no queue backend.
var ErrUnsupportedScheme = errors.New("unsupported queue scheme")

// OpenFromDSN builds a queue from a DSN. An empty DSN or the memory
// scheme yields a MemoryQueue; postgres DSNs yield a PostgresQueue.
func OpenFromDSN(dsn string, opts ...Option) (Queue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryQueue(opts...), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "memory", "mem", "inmem":
		return NewMemoryQueue(opts...), nil
	case "postgres", "postgresql":
		db, err := postgres.Open(dsn)
		if err != nil {
			return nil, err
		}
		return NewPostgresQueue(db, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
}
