package service

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a service failure so transports can translate it
// to their wire form.
type ErrorCode string

const (
	// ErrCodeInvalidInput indicates a validation failure on caller input.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrCodeNotFound indicates no matching entity exists.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInternal indicates an unexpected internal failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Error is a classified service error. Message is safe to surface to
// clients; Err carries the underlying cause, if any.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrInvalidInput creates a validation error with a field-named reason.
func ErrInvalidInput(message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: message}
}

// ErrNotFound creates a not-found error.
func ErrNotFound(message string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: message}
}

// ErrInternal wraps an unexpected failure.
func ErrInternal(message string, err error) *Error {
	return &Error{Code: ErrCodeInternal, Message: message, Err: err}
}

// CodeOf extracts the ErrorCode from err, defaulting to ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return ErrCodeInternal
}
