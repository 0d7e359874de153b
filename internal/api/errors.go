package api

import (
	"errors"
	"net/http"

	"github.com/oakhurst/playnest-api/internal/store"
	"github.com/oakhurst/playnest-api/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Bad request errors
	case errors.Is(err, task.ErrUnregisteredType),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Not found errors
	case store.IsNotFoundError(err):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, task.ErrNotDeadLetter),
		errors.Is(err, store.ErrTerminalState):
		return http.StatusConflict

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	switch {
	case errors.Is(err, task.ErrUnregisteredType):
		return "No handler is registered for the requested task type"
	case store.IsNotFoundError(err):
		return "Task not found"
	case errors.Is(err, task.ErrNotDeadLetter):
		return "Only dead-lettered tasks can be requeued"
	case errors.Is(err, store.ErrTerminalState):
		return "Task has already reached a terminal state"
	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid task data"
	default:
		return "An internal error occurred"
	}
}
