package domain

import "fmt"

// Status is the lifecycle state shared by queued messages and execution records.
type Status string

// Possible status values
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
}

func (s Status) String() string {
	return string(s)
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsActive reports whether s is Pending or Running.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// IsTerminal reports whether s is Completed or Failed. Terminal rows are never
// mutated again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus converts a raw string into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// Transition is a permitted edge in the status state machine.
type Transition struct {
	From Status
	To   Status
}

// ValidTransitions is the complete state machine. Pending -> Failed exists for
// payloads that can never be executed (unsupported kind, operator dead-letter).
var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusRunning},
	{From: StatusPending, To: StatusFailed},
	{From: StatusRunning, To: StatusCompleted},
	{From: StatusRunning, To: StatusFailed},
	{From: StatusRunning, To: StatusPending},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to Status) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// SourceStatuses returns every status a row may be in to legally move to the
// target status. Stores use it to guard UPDATE statements.
func SourceStatuses(to Status) []Status {
	var from []Status
	for _, t := range ValidTransitions {
		if t.To == to {
			from = append(from, t.From)
		}
	}
	return from
}
