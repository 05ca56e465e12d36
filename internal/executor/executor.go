// Package executor defines the boundary between the compensation sweep and
// whatever actually runs a message's payload. The sweep only needs to know
// whether a run succeeded, failed transiently, or can never succeed.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/topicq/internal/domain"
)

// ErrUnsupportedKind is returned when no handler is registered for a
// payload's type tag. It is permanent: retrying cannot help.
var ErrUnsupportedKind = errors.New("unsupported payload kind")

// Executor runs one dispatched message.
type Executor interface {
	Execute(ctx context.Context, msg *domain.QueuedMessage) error
}

// Func adapts an ordinary function to the Executor interface.
type Func func(ctx context.Context, msg *domain.QueuedMessage) error

// Execute calls f(ctx, msg).
func (f Func) Execute(ctx context.Context, msg *domain.QueuedMessage) error {
	return f(ctx, msg)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. The sweep fails the message
// immediately instead of scheduling another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent or is an
// ErrUnsupportedKind.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe) || errors.Is(err, ErrUnsupportedKind)
}

// Registry dispatches messages to the Executor registered for their payload
// type.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Executor
	fallback Executor
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Executor),
		logger:   logger.With("component", "executor_registry"),
	}
}

// Register binds kind to e, replacing any previous binding.
func (r *Registry) Register(kind string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = e
	r.logger.Debug("registered executor", "payload_type", kind)
}

// SetFallback routes payload types without a registered handler to e.
func (r *Registry) SetFallback(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = e
}

// Kinds returns the registered payload types.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Execute implements Executor.
func (r *Registry) Execute(ctx context.Context, msg *domain.QueuedMessage) error {
	r.mu.RLock()
	handler, ok := r.handlers[msg.Payload.Type]
	if !ok && r.fallback != nil {
		handler, ok = r.fallback, true
	}
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, msg.Payload.Type)
	}
	return handler.Execute(ctx, msg)
}
