package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/topicq/internal/domain"
	"github.com/phrazzld/topicq/internal/store"
)

// MemoryStore is an in-process Store. It backs tests and the dry-run mode of
// the CLI. Messages handed out are copies, so callers cannot mutate state
// behind the store's back.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[int64]*domain.QueuedMessage
	nextID   int64
	now      func() time.Time

	// UpdateStatusFn, when set, runs before every status write. A non-nil
	// error aborts the write. Tests use it to inject faults.
	UpdateStatusFn func(ctx context.Context, id int64, upd StatusUpdate) error
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[int64]*domain.QueuedMessage),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, msg domain.NewMessage) (*domain.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.now()
	stored := &domain.QueuedMessage{
		ID:               s.nextID,
		TopicID:          msg.TopicID,
		OrganizationCode: msg.OrganizationCode,
		UserID:           msg.UserID,
		ProjectID:        msg.ProjectID,
		Payload:          msg.Payload,
		Status:           domain.StatusPending,
		EligibleAt:       msg.EligibleAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.messages[stored.ID] = stored

	cp := *stored
	return &cp, nil
}

// Put stores msg as-is, overwriting any message with the same ID. Tests use it
// to seed rows in arbitrary states.
func (s *MemoryStore) Put(msg domain.QueuedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == 0 {
		s.nextID++
		msg.ID = s.nextID
	} else if msg.ID > s.nextID {
		s.nextID = msg.ID
	}
	s.messages[msg.ID] = &msg
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id int64) (*domain.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, store.ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

// All returns a copy of every message ordered by ID.
func (s *MemoryStore) All() []domain.QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.QueuedMessage, 0, len(s.messages))
	for _, msg := range s.messages {
		out = append(out, *msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CompensationTopics implements Store.
func (s *MemoryStore) CompensationTopics(
	ctx context.Context,
	now time.Time,
	limit int,
	organizations []string,
) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed := make(map[string]bool, len(organizations))
	for _, org := range organizations {
		allowed[org] = true
	}

	oldest := make(map[string]time.Time)
	for _, msg := range s.messages {
		if !msg.IsEligible(now) {
			continue
		}
		if len(allowed) > 0 && !allowed[msg.OrganizationCode] {
			continue
		}
		if at, ok := oldest[msg.TopicID]; !ok || msg.EligibleAt.Before(at) {
			oldest[msg.TopicID] = msg.EligibleAt
		}
	}

	topics := make([]string, 0, len(oldest))
	for topic := range oldest {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool {
		a, b := oldest[topics[i]], oldest[topics[j]]
		if !a.Equal(b) {
			return a.Before(b)
		}
		return topics[i] < topics[j]
	})
	if len(topics) > limit {
		topics = topics[:limit]
	}
	return topics, nil
}

// EarliestPending implements Store.
func (s *MemoryStore) EarliestPending(ctx context.Context, topicID string) (*domain.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var head *domain.QueuedMessage
	for _, msg := range s.messages {
		if msg.TopicID != topicID || msg.Status != domain.StatusPending {
			continue
		}
		if head == nil || msg.Before(head) {
			head = msg
		}
	}
	if head == nil {
		return nil, nil
	}
	cp := *head
	return &cp, nil
}

// HasRunning implements Store.
func (s *MemoryStore) HasRunning(ctx context.Context, topicID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.messages {
		if msg.TopicID == topicID && msg.Status == domain.StatusRunning {
			return true, nil
		}
	}
	return false, nil
}

// DelayTopic implements Store.
func (s *MemoryStore) DelayTopic(ctx context.Context, topicID string, delay time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := s.now()
	for _, msg := range s.messages {
		if msg.TopicID != topicID || msg.Status != domain.StatusPending {
			continue
		}
		msg.EligibleAt = msg.EligibleAt.Add(delay)
		msg.UpdatedAt = now
		n++
	}
	return n, nil
}

// UpdateStatus implements Store.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id int64, upd StatusUpdate) (bool, error) {
	if s.UpdateStatusFn != nil {
		if err := s.UpdateStatusFn(ctx, id, upd); err != nil {
			return false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return false, nil
	}
	if !domain.CanTransition(msg.Status, upd.Status) {
		return false, nil
	}
	if upd.RequireFence > 0 && msg.FenceToken != upd.RequireFence {
		return false, nil
	}
	if !upd.UpdatedBefore.IsZero() && !msg.UpdatedAt.Before(upd.UpdatedBefore) {
		return false, nil
	}

	msg.Status = upd.Status
	if upd.ErrorMessage != nil {
		msg.LastError = *upd.ErrorMessage
	}
	if upd.IncrementRetry {
		msg.RetryCount++
	}
	if upd.Status == domain.StatusRunning {
		msg.FenceToken = upd.AssignFence
	}
	msg.UpdatedAt = s.now()
	return true, nil
}

// StuckRunning implements Store.
func (s *MemoryStore) StuckRunning(ctx context.Context, cutoff time.Time, limit int) ([]*domain.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stuck []*domain.QueuedMessage
	for _, msg := range s.messages {
		if msg.Status == domain.StatusRunning && msg.UpdatedAt.Before(cutoff) {
			cp := *msg
			stuck = append(stuck, &cp)
		}
	}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt) })
	if limit > 0 && len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

// WithinTx runs fn against a private copy of the store while holding the
// store's lock and publishes the copy only if fn succeeds.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[int64]*domain.QueuedMessage, len(s.messages))
	for id, msg := range s.messages {
		cp := *msg
		snapshot[id] = &cp
	}
	tx := &MemoryStore{
		messages:       snapshot,
		nextID:         s.nextID,
		now:            s.now,
		UpdateStatusFn: s.UpdateStatusFn,
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.messages = tx.messages
	s.nextID = tx.nextID
	return nil
}
