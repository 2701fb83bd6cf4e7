package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateHandler is returned when a kind is registered twice.
	ErrDuplicateHandler = errors.New("handler already registered")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("handler required")
)

// Handler processes one job delivery.
type Handler interface {
	Handle(ctx context.Context, job Job) Outcome
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) Outcome

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job Job) Outcome {
	return f(ctx, job)
}

// Typed decodes the payload into T before calling fn. Payloads that do
// not decode are permanent failures.
func Typed[T any](fn func(ctx context.Context, job Job, cfg T) Outcome) Handler {
	return HandlerFunc(func(ctx context.Context, job Job) Outcome {
		var cfg T
		if err := job.Decode(&cfg); err != nil {
			return Permanent(err)
		}
		return fn(ctx, job, cfg)
	})
}

// Registry maps job kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register binds a handler to a kind.
func (r *Registry) Register(kind Kind, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, kind)
	}
	r.handlers[kind] = h
	return nil
}

// Lookup returns the handler for kind.
func (r *Registry) Lookup(kind Kind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds lists registered kinds.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}
