package queue

import (
	"context"
	"time"

	"github.com/phrazzld/topicq/internal/domain"
)

// StatusUpdate describes one guarded status write. The store applies it only
// when the row's current status may legally move to Status and every set
// guard holds.
type StatusUpdate struct {
	Status domain.Status

	// ErrorMessage replaces last_error when non-nil. It must already be
	// truncated to domain.MaxErrorLength.
	ErrorMessage *string

	// IncrementRetry adds one to retry_count in the same write.
	IncrementRetry bool

	// AssignFence stores the token on the row. Used when moving to running.
	AssignFence int64

	// RequireFence, when positive, rejects the write unless the row's token
	// equals it.
	RequireFence int64

	// UpdatedBefore, when set, rejects the write unless the row was last
	// touched before it.
	UpdatedBefore time.Time
}

// Store is the persistent queue. Implementations must make each method atomic.
type Store interface {
	// Insert stores a new pending message and returns it with ID and
	// timestamps populated.
	Insert(ctx context.Context, msg domain.NewMessage) (*domain.QueuedMessage, error)

	// Get returns the message or store.ErrMessageNotFound.
	Get(ctx context.Context, id int64) (*domain.QueuedMessage, error)

	// CompensationTopics returns up to limit distinct topics that have a
	// pending message due at now, oldest due message first. A non-empty
	// organizations slice restricts the result to those organizations.
	CompensationTopics(ctx context.Context, now time.Time, limit int, organizations []string) ([]string, error)

	// EarliestPending returns the pending message of the topic with the
	// smallest (eligible_at, id), or nil when the topic has none.
	EarliestPending(ctx context.Context, topicID string) (*domain.QueuedMessage, error)

	// HasRunning reports whether any message of the topic is running.
	HasRunning(ctx context.Context, topicID string) (bool, error)

	// DelayTopic pushes eligible_at of every pending message of the topic
	// back by delay and returns the number of rows changed.
	DelayTopic(ctx context.Context, topicID string, delay time.Duration) (int64, error)

	// UpdateStatus applies upd to the message and reports whether a row was
	// changed.
	UpdateStatus(ctx context.Context, id int64, upd StatusUpdate) (bool, error)

	// StuckRunning returns up to limit running messages last updated before
	// cutoff.
	StuckRunning(ctx context.Context, cutoff time.Time, limit int) ([]*domain.QueuedMessage, error)

	// WithinTx runs fn against a Store whose writes commit or roll back
	// together.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
