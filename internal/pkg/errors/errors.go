// Package errors provides domain-specific error types for SagaFlow.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrUnknownSagaType is returned when a saga type is not registered.
	ErrUnknownSagaType = errors.New("unknown saga type")

	// ErrSagaNotFound is returned when no state exists for a saga id that
	// should exist. It indicates a lost start or data corruption.
	ErrSagaNotFound = errors.New("saga not found")

	// ErrDuplicateSaga is returned on a saga id collision at create.
	ErrDuplicateSaga = errors.New("saga already exists")

	// ErrDuplicateEvent is returned when an event id has already been
	// appended. Callers use it to skip redelivered broker messages.
	ErrDuplicateEvent = errors.New("event already appended")

	// ErrVersionConflict is returned when a state update carries a stale
	// expected version. A reordered or duplicate response is rejected
	// rather than silently corrupting progress.
	ErrVersionConflict = errors.New("saga state version conflict")

	// ErrInternal is an unclassified internal failure.
	ErrInternal = errors.New("internal error")
)

// AppError is a structured application error with HTTP status and error code.
type AppError struct {
	// Code is a machine-readable error code (e.g., "SAGA_NOT_FOUND").
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// HTTPStatus is the corresponding HTTP status code.
	HTTPStatus int `json:"-"`

	// Err is the wrapped underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error into an AppError.
func Wrap(err error, code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Common error constructors.

// NotFound creates a 404 error.
func NotFound(code, message string) *AppError {
	return New(code, message, http.StatusNotFound)
}

// BadRequest creates a 400 error.
func BadRequest(code, message string) *AppError {
	return New(code, message, http.StatusBadRequest)
}

// Conflict creates a 409 error.
func Conflict(code, message string) *AppError {
	return New(code, message, http.StatusConflict)
}

// Internal creates a 500 error.
func Internal(code, message string) *AppError {
	return New(code, message, http.StatusInternalServerError)
}

// UnknownSagaType creates the 400 error for an unregistered saga type.
func UnknownSagaType(sagaType string) *AppError {
	return Wrap(ErrUnknownSagaType, CodeSagaTypeUnknown,
		fmt.Sprintf("saga type %q is not registered", sagaType), http.StatusBadRequest)
}

// SagaNotFound creates the 404 error for a missing saga.
func SagaNotFound(sagaID string) *AppError {
	return Wrap(ErrSagaNotFound, CodeSagaNotFound,
		fmt.Sprintf("saga %q not found", sagaID), http.StatusNotFound)
}

// IsAppError checks if an error is an AppError and returns it.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
