package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	owner     string
	token     int64
	expiresAt time.Time
}

// MemoryLocker is an in-process Locker. Tokens survive release so that a key
// never reissues a token it has handed out before.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (l *MemoryLocker) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[key]
	if !ok {
		entry = &memoryEntry{}
		l.entries[key] = entry
	}
	if entry.owner != "" && now.Before(entry.expiresAt) {
		return nil, ErrBusy
	}

	entry.owner = uuid.NewString()
	entry.token++
	entry.expiresAt = now.Add(ttl)

	return &Handle{
		Key:       key,
		Owner:     entry.owner,
		Token:     entry.token,
		ExpiresAt: entry.expiresAt,
	}, nil
}

// Release implements Locker.
func (l *MemoryLocker) Release(_ context.Context, h *Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[h.Key]
	if !ok || entry.owner != h.Owner || entry.token != h.Token {
		return ErrNotHeld
	}
	entry.owner = ""
	entry.expiresAt = time.Time{}
	return nil
}

// Held reports whether key is currently locked. Intended for tests.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	return ok && entry.owner != "" && l.now().Before(entry.expiresAt)
}
