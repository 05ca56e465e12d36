package recovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/topicq/internal/domain"
	"github.com/phrazzld/topicq/internal/store"
)

// MemoryStore is an in-process Store used by tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[int64]*domain.TaskExecutionRecord
	nextID  int64
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[int64]*domain.TaskExecutionRecord),
		now:     time.Now,
	}
}

// Put stores a copy of rec, assigning an ID when it has none, and returns the ID.
func (s *MemoryStore) Put(rec domain.TaskExecutionRecord) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == 0 {
		s.nextID++
		rec.ID = s.nextID
	} else if rec.ID > s.nextID {
		s.nextID = rec.ID
	}
	s.records[rec.ID] = &rec
	return rec.ID
}

// TimedOut implements Store.
func (s *MemoryStore) TimedOut(ctx context.Context, c Criteria) ([]*domain.TaskExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.TaskExecutionRecord
	for _, rec := range s.records {
		if !rec.IsRoot() || !rec.Status.IsActive() {
			continue
		}
		if rec.RetryCount >= c.RetryLimit {
			continue
		}
		if rec.CreatedAt.Before(c.CreatedAfter) || !rec.CreatedAt.Before(c.CreatedBefore) {
			continue
		}
		if !rec.UpdatedAt.Before(c.UpdatedBefore) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if c.Limit > 0 && len(out) > c.Limit {
		out = out[:c.Limit]
	}
	return out, nil
}

// Reclaim implements Store.
func (s *MemoryStore) Reclaim(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || !rec.Status.IsActive() {
		return false, nil
	}
	rec.Status = domain.StatusPending
	rec.RetryCount++
	rec.UpdatedAt = s.now()
	return true, nil
}

// SetClock replaces the time stamped on reclaimed records.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id int64) (*domain.TaskExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, store.ErrExecutionNotFound
	}
	cp := *rec
	return &cp, nil
}
