package domain

import (
	"encoding/json"
	"time"
)

// RootLevel is the level of top-level executions. Only root records are
// reclaimed directly; nested ones are re-driven by re-running their parent.
const RootLevel = 0

// TaskExecutionRecord is a flow or agent execution run.
type TaskExecutionRecord struct {
	ID         int64           `json:"id"`
	TopicID    string          `json:"topic_id,omitempty"`
	Level      int             `json:"level"`
	Status     Status          `json:"status"`
	RetryCount int             `json:"retry_count"`
	Result     json.RawMessage `json:"result,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// IsRoot reports whether the record is a top-level execution.
func (r *TaskExecutionRecord) IsRoot() bool {
	return r.Level == RootLevel
}

// Validate checks the record's invariant fields.
func (r *TaskExecutionRecord) Validate() error {
	if r.Level < 0 {
		return ErrInvalidLevel
	}
	if !r.Status.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}
