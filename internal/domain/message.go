package domain

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// MaxErrorLength is the number of characters kept in QueuedMessage.LastError.
const MaxErrorLength = 500

const truncationSuffix = "..."

// Payload is an opaque unit of work plus the type tag the executor dispatches on.
type Payload struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// QueuedMessage is a unit of deferred work bound to a topic (a conversation or
// thread). Within a topic, messages are dispatched one at a time in
// (EligibleAt, ID) order.
type QueuedMessage struct {
	ID               int64     `json:"id"`
	TopicID          string    `json:"topic_id"`
	OrganizationCode string    `json:"organization_code"`
	UserID           string    `json:"user_id,omitempty"`
	ProjectID        string    `json:"project_id,omitempty"`
	Payload          Payload   `json:"payload"`
	Status           Status    `json:"status"`
	EligibleAt       time.Time `json:"eligible_at"`
	RetryCount       int       `json:"retry_count"`
	LastError        string    `json:"last_error,omitempty"`
	FenceToken       int64     `json:"fence_token"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewMessage carries the producer-supplied fields of a message. The store
// assigns the ID and timestamps.
type NewMessage struct {
	TopicID          string    `json:"topic_id"`
	OrganizationCode string    `json:"organization_code"`
	UserID           string    `json:"user_id,omitempty"`
	ProjectID        string    `json:"project_id,omitempty"`
	Payload          Payload   `json:"payload"`
	EligibleAt       time.Time `json:"eligible_at"`
}

// Validate checks the producer-supplied fields.
func (m NewMessage) Validate() error {
	if m.TopicID == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyTopicID)
	}
	if m.OrganizationCode == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyOrganization)
	}
	if m.Payload.Type == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyPayloadType)
	}
	return nil
}

// Before reports whether m sorts ahead of other in dispatch order.
func (m *QueuedMessage) Before(other *QueuedMessage) bool {
	if !m.EligibleAt.Equal(other.EligibleAt) {
		return m.EligibleAt.Before(other.EligibleAt)
	}
	return m.ID < other.ID
}

// IsEligible reports whether m is Pending and due at the given instant.
func (m *QueuedMessage) IsEligible(now time.Time) bool {
	return m.Status == StatusPending && !m.EligibleAt.After(now)
}

// TruncateError caps an error message at MaxErrorLength characters. Longer
// messages keep their first MaxErrorLength-3 characters followed by "...".
func TruncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= MaxErrorLength {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:MaxErrorLength-len(truncationSuffix)]) + truncationSuffix
}
