package core

import (
	"fmt"
)

// Error represents a practice gateway error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Code    string    `json:"code,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrState          ErrorType = "state_error"
	ErrAudio          ErrorType = "audio_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrInternal       ErrorType = "internal_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewStateError creates an error for a command that is invalid in the
// current session state, e.g. advancing with no active session.
func NewStateError(message string) *Error {
	return &Error{
		Type:    ErrState,
		Message: message,
	}
}

// NewAudioError creates an error for malformed or unsupported audio input.
func NewAudioError(message string) *Error {
	return &Error{
		Type:    ErrAudio,
		Message: message,
	}
}

// NewOverloadedError creates an overloaded error.
func NewOverloadedError(message string) *Error {
	return &Error{
		Type:    ErrOverloaded,
		Message: message,
	}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, cause error) *Error {
	return &Error{
		Type:    ErrInternal,
		Message: message,
		Cause:   cause,
	}
}

// WithCode attaches a machine-readable code and returns the error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// IsFatal reports whether the error should close the connection.
func (e *Error) IsFatal() bool {
	switch e.Type {
	case ErrInternal, ErrOverloaded:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}
