package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/topicq/internal/domain"
)

// UpdateOption adds a guard or side effect to Service.UpdateStatus.
type UpdateOption func(*StatusUpdate)

// WithFenceToken rejects the update unless the message still carries token.
// A zero token disables the guard.
func WithFenceToken(token int64) UpdateOption {
	return func(u *StatusUpdate) {
		u.RequireFence = token
	}
}

// WithRetryIncrement increments retry_count in the same write.
func WithRetryIncrement() UpdateOption {
	return func(u *StatusUpdate) {
		u.IncrementRetry = true
	}
}

// withUpdatedBefore rejects the update if the message changed at or after t.
func withUpdatedBefore(t time.Time) UpdateOption {
	return func(u *StatusUpdate) {
		u.UpdatedBefore = t
	}
}

// Service is the domain service over the message queue. It validates inputs
// and enforces the status state machine before anything reaches the store.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service backed by store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger.With("component", "queue_service"),
		now:    time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the service's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// Enqueue validates msg and stores it as pending. A zero EligibleAt means
// due immediately.
func (s *Service) Enqueue(ctx context.Context, msg domain.NewMessage) (*domain.QueuedMessage, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.EligibleAt.IsZero() {
		msg.EligibleAt = s.now()
	}

	stored, err := s.store.Insert(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue message: %w", err)
	}

	s.logger.DebugContext(ctx, "message enqueued",
		"message_id", stored.ID,
		"topic_id", stored.TopicID,
		"payload_type", stored.Payload.Type)
	return stored, nil
}

// Get returns one message by ID.
func (s *Service) Get(ctx context.Context, id int64) (*domain.QueuedMessage, error) {
	return s.store.Get(ctx, id)
}

// CompensationTopics returns up to limit topics with at least one pending
// message that is due now, ordered by their oldest due message. An empty
// whitelist places no restriction on organizations.
func (s *Service) CompensationTopics(ctx context.Context, limit int, whitelist []string) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	topics, err := s.store.CompensationTopics(ctx, s.now(), limit, whitelist)
	if err != nil {
		return nil, fmt.Errorf("failed to select compensation topics: %w", err)
	}
	return topics, nil
}

// EarliestMessageByTopic returns the topic's pending message with the
// smallest (eligible_at, id), or nil when it has none.
func (s *Service) EarliestMessageByTopic(ctx context.Context, topicID string) (*domain.QueuedMessage, error) {
	if topicID == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrEmptyTopicID)
	}
	msg, err := s.store.EarliestPending(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to read head of topic %s: %w", topicID, err)
	}
	return msg, nil
}

// HasRunningMessage reports whether the topic currently has a running message.
func (s *Service) HasRunningMessage(ctx context.Context, topicID string) (bool, error) {
	running, err := s.store.HasRunning(ctx, topicID)
	if err != nil {
		return false, fmt.Errorf("failed to check running messages of topic %s: %w", topicID, err)
	}
	return running, nil
}

// DelayTopicMessages pushes every pending message of the topic back by
// delayMinutes and reports whether any row changed. Relative order inside
// the topic is preserved.
func (s *Service) DelayTopicMessages(ctx context.Context, topicID string, delayMinutes int) (bool, error) {
	if delayMinutes < 0 {
		return false, fmt.Errorf("%w: negative delay %d", domain.ErrValidation, delayMinutes)
	}
	n, err := s.store.DelayTopic(ctx, topicID, time.Duration(delayMinutes)*time.Minute)
	if err != nil {
		return false, fmt.Errorf("failed to delay topic %s: %w", topicID, err)
	}
	return n > 0, nil
}

// UpdateStatus moves a message to status, storing errorMessage (truncated to
// domain.MaxErrorLength) when it is non-empty. It reports false when the row
// does not exist, the transition is not allowed from the row's current
// status, or a guard option rejects the write.
func (s *Service) UpdateStatus(
	ctx context.Context,
	id int64,
	status domain.Status,
	errorMessage string,
	opts ...UpdateOption,
) (bool, error) {
	if !status.IsValid() {
		return false, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}

	upd := StatusUpdate{Status: status}
	if errorMessage != "" {
		truncated := domain.TruncateError(errorMessage)
		upd.ErrorMessage = &truncated
	}
	for _, opt := range opts {
		opt(&upd)
	}

	updated, err := s.store.UpdateStatus(ctx, id, upd)
	if err != nil {
		return false, fmt.Errorf("failed to update message %d to %s: %w", id, status, err)
	}
	return updated, nil
}

// MarkRunning moves a pending message to running and stamps it with the
// fencing token of the lock under which it is dispatched.
func (s *Service) MarkRunning(ctx context.Context, id int64, token int64) (bool, error) {
	updated, err := s.store.UpdateStatus(ctx, id, StatusUpdate{
		Status:      domain.StatusRunning,
		AssignFence: token,
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark message %d running: %w", id, err)
	}
	return updated, nil
}

// RetryLater returns a running message to pending with its retry count
// incremented, then delays the whole topic. Both writes commit together. It
// reports false, without delaying the topic, when the fence check rejects the
// status write.
func (s *Service) RetryLater(
	ctx context.Context,
	msg *domain.QueuedMessage,
	token int64,
	errorMessage string,
	delayMinutes int,
) (bool, error) {
	if delayMinutes < 0 {
		return false, fmt.Errorf("%w: negative delay %d", domain.ErrValidation, delayMinutes)
	}
	truncated := domain.TruncateError(errorMessage)

	var updated bool
	err := s.store.WithinTx(ctx, func(tx Store) error {
		ok, err := tx.UpdateStatus(ctx, msg.ID, StatusUpdate{
			Status:         domain.StatusPending,
			ErrorMessage:   &truncated,
			IncrementRetry: true,
			RequireFence:   token,
		})
		if err != nil || !ok {
			return err
		}
		updated = true

		if delayMinutes == 0 {
			return nil
		}
		_, err = tx.DelayTopic(ctx, msg.TopicID, time.Duration(delayMinutes)*time.Minute)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to schedule retry of message %d: %w", msg.ID, err)
	}
	return updated, nil
}
