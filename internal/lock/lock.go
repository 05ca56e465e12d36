package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBusy is returned by Acquire when another owner holds a live lock on
	// the key. It signals expected contention, not a failure.
	ErrBusy = errors.New("lock is held by another owner")

	// ErrNotHeld is returned by Release when the handle no longer owns the
	// lock, typically because its TTL elapsed and another owner took over.
	ErrNotHeld = errors.New("lock is no longer held by this owner")
)

// Handle identifies one successful acquisition.
type Handle struct {
	Key   string
	Owner string
	// Token is the fencing token of this acquisition. It increases every time
	// the key changes hands; 0 means the backend does not issue tokens.
	Token     int64
	ExpiresAt time.Time

	// release is backend-specific cleanup, set by backends that pin a
	// resource (such as a database session) for the lock's lifetime.
	release func(ctx context.Context) error
}

// Fenced reports whether the handle carries a usable fencing token.
func (h *Handle) Fenced() bool {
	return h != nil && h.Token > 0
}

// Locker provides short-TTL mutual exclusion keyed by an arbitrary string,
// typically a topic ID.
type Locker interface {
	// Acquire takes the lock for key for at most ttl. It returns ErrBusy when
	// the key is held by someone else.
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error)

	// Release gives the lock back. Releasing a lock that has already expired
	// and been taken by another owner returns ErrNotHeld and changes nothing.
	Release(ctx context.Context, h *Handle) error
}
