package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyTopicID is returned when a message is not bound to a topic.
	ErrEmptyTopicID = errors.New("topic ID cannot be empty")

	// ErrEmptyOrganization is returned when a message has no organization code.
	ErrEmptyOrganization = errors.New("organization code cannot be empty")

	// ErrEmptyPayloadType is returned when a payload carries no type tag.
	ErrEmptyPayloadType = errors.New("payload type cannot be empty")

	// ErrInvalidStatus is returned when a status value is not recognised.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidLevel is returned when an execution record has a negative level.
	ErrInvalidLevel = errors.New("execution level cannot be negative")
)
