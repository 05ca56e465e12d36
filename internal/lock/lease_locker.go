package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/topicq/internal/store"
)

const (
	// queryAcquireLease inserts a lease or takes over an expired one. The
	// conflict branch only fires when the current lease has lapsed, so a live
	// holder makes the statement return no rows. The fencing token is bumped
	// on every takeover and never reset.
	queryAcquireLease = `
INSERT INTO topic_locks (topic_id, owner_id, fence_token, expires_at)
VALUES ($1, $2, 1, now() + make_interval(secs => $3))
ON CONFLICT (topic_id) DO UPDATE
SET owner_id    = EXCLUDED.owner_id,
    fence_token = topic_locks.fence_token + 1,
    expires_at  = EXCLUDED.expires_at
WHERE topic_locks.expires_at <= now()
RETURNING fence_token, expires_at`

	// queryReleaseLease expires the lease in place, keeping the token.
	queryReleaseLease = `
UPDATE topic_locks
SET owner_id = '', expires_at = now()
WHERE topic_id = $1 AND owner_id = $2 AND fence_token = $3`
)

// LeaseLocker stores TTL leases in the topic_locks table.
type LeaseLocker struct {
	db store.DBTX
}

// NewLeaseLocker creates a LeaseLocker over db.
func NewLeaseLocker(db store.DBTX) *LeaseLocker {
	return &LeaseLocker{db: db}
}

// Acquire implements Locker.
func (l *LeaseLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error) {
	owner := uuid.NewString()

	var token int64
	var expiresAt time.Time
	err := l.db.QueryRowContext(ctx, queryAcquireLease, key, owner, ttl.Seconds()).
		Scan(&token, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease for %s: %w", key, err)
	}

	return &Handle{
		Key:       key,
		Owner:     owner,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// Release implements Locker.
func (l *LeaseLocker) Release(ctx context.Context, h *Handle) error {
	result, err := l.db.ExecContext(ctx, queryReleaseLease, h.Key, h.Owner, h.Token)
	if err != nil {
		return fmt.Errorf("failed to release lease for %s: %w", h.Key, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotHeld
	}
	return nil
}
