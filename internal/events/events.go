package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OutcomeKind names what happened to a message at the end of a dispatch or
// reclaim.
type OutcomeKind string

// Possible outcome kinds
const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeRetried   OutcomeKind = "retried"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeReclaimed OutcomeKind = "reclaimed"
)

// MessageOutcomeEvent reports the result of driving one queued message.
type MessageOutcomeEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Kind             OutcomeKind `json:"kind"`
	MessageID        int64       `json:"message_id"`
	TopicID          string      `json:"topic_id"`
	OrganizationCode string      `json:"organization_code"`
	RetryCount       int         `json:"retry_count"`

	// Error is the redacted failure text, empty for completions.
	Error string `json:"error,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// NewMessageOutcomeEvent creates an event stamped with a fresh ID and the
// current time.
func NewMessageOutcomeEvent(kind OutcomeKind, messageID int64, topicID, organizationCode string, retryCount int, errText string) *MessageOutcomeEvent {
	return &MessageOutcomeEvent{
		ID:               uuid.New(),
		Kind:             kind,
		MessageID:        messageID,
		TopicID:          topicID,
		OrganizationCode: organizationCode,
		RetryCount:       retryCount,
		Error:            errText,
		OccurredAt:       time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *MessageOutcomeEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the sweep to publish outcomes without knowing who consumes them.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *MessageOutcomeEvent) error
}

// NopEmitter discards every event.
type NopEmitter struct{}

// EmitEvent implements EventEmitter.
func (NopEmitter) EmitEvent(context.Context, *MessageOutcomeEvent) error { return nil }
