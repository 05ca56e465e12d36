package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Keys are hashed to the 64-bit advisory lock space. hashtextextended needs
// PostgreSQL 11 or later.
const (
	queryTryAdvisoryLock = "SELECT pg_try_advisory_lock(hashtextextended($1, 0))"
	queryAdvisoryUnlock  = "SELECT pg_advisory_unlock(hashtextextended($1, 0))"
)

// AdvisoryLocker maps keys onto Postgres session advisory locks. Two keys
// whose 64-bit hashes collide share one lock and only serialize each other.
//
// Each held lock pins one pooled connection until Release, so the pool must
// be larger than the number of locks held at once. Advisory locks have no
// TTL of their own: the lock lives as long as the session, so the ttl
// argument only populates Handle.ExpiresAt. Tokens are not issued.
type AdvisoryLocker struct {
	db *sql.DB
}

// NewAdvisoryLocker creates an AdvisoryLocker over db.
func NewAdvisoryLocker(db *sql.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

// Acquire implements Locker.
func (l *AdvisoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve connection for advisory lock: %w", err)
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, queryTryAdvisoryLock, key).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to acquire advisory lock for %s: %w", key, err)
	}
	if !ok {
		_ = conn.Close()
		return nil, ErrBusy
	}

	h := &Handle{
		Key:       key,
		Owner:     uuid.NewString(),
		ExpiresAt: time.Now().Add(ttl),
	}
	h.release = func(ctx context.Context) error {
		defer conn.Close()

		var released bool
		if err := conn.QueryRowContext(ctx, queryAdvisoryUnlock, key).Scan(&released); err != nil {
			return fmt.Errorf("failed to release advisory lock for %s: %w", key, err)
		}
		if !released {
			return ErrNotHeld
		}
		return nil
	}
	return h, nil
}

// Release implements Locker.
func (l *AdvisoryLocker) Release(ctx context.Context, h *Handle) error {
	if h.release == nil {
		return ErrNotHeld
	}
	release := h.release
	h.release = nil
	return release(ctx)
}
