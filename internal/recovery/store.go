package recovery

import (
	"context"
	"time"

	"github.com/phrazzld/topicq/internal/domain"
)

// Criteria selects timed-out execution records. Only root-level records whose
// status is pending or running are ever candidates.
type Criteria struct {
	// CreatedAfter is the inclusive lower bound of the lookback window.
	CreatedAfter time.Time
	// CreatedBefore is the exclusive upper bound; records younger than this
	// are still within their execution timeout.
	CreatedBefore time.Time
	// UpdatedBefore excludes records touched since, so a reclaimed record
	// gets a full timeout before it can be reclaimed again.
	UpdatedBefore time.Time
	// RetryLimit excludes records with retry_count >= RetryLimit.
	RetryLimit int
	Limit      int
}

// Store persists task execution records.
type Store interface {
	// TimedOut returns root-level pending or running records matching c,
	// oldest first.
	TimedOut(ctx context.Context, c Criteria) ([]*domain.TaskExecutionRecord, error)

	// Reclaim sets the record back to pending and increments its retry count
	// if it is still pending or running. It reports whether a row changed.
	Reclaim(ctx context.Context, id int64) (bool, error)

	// Get returns a record or store.ErrExecutionNotFound.
	Get(ctx context.Context, id int64) (*domain.TaskExecutionRecord, error)
}
