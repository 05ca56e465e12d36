package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/topicq/internal/domain"
	"github.com/phrazzld/topicq/internal/report"
	"github.com/phrazzld/topicq/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking their text.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, report.ErrInvalidLoops):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, store.ErrMessageNotFound):
		return "Message not found"
	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"
	case errors.Is(err, store.ErrDuplicate):
		return "Resource already exists"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request data"
	case errors.Is(err, report.ErrInvalidLoops):
		return "loops must be at least 1"
	default:
		return "An unexpected error occurred"
	}
}
