package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the orchestration core.
type ErrorCode string

// Capture error codes
const (
	ErrPermissionDenied      ErrorCode = "PERMISSION_DENIED"
	ErrCapabilityUnsupported ErrorCode = "CAPABILITY_UNSUPPORTED"
	ErrTransientRecognition  ErrorCode = "TRANSIENT_RECOGNITION"
	ErrCaptureFailed         ErrorCode = "CAPTURE_FAILED"
)

// Synthesis error codes
const (
	ErrInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrProviderError      ErrorCode = "PROVIDER_ERROR"
	ErrSynthesisTimeout   ErrorCode = "SYNTHESIS_TIMEOUT"
	ErrSynthesisExhausted ErrorCode = "SYNTHESIS_EXHAUSTED"
	ErrPlayback           ErrorCode = "PLAYBACK_FAILED"
)

// Session error codes
const (
	ErrStateViolation    ErrorCode = "STATE_VIOLATION"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrSessionEnded      ErrorCode = "SESSION_ENDED"
	ErrEngineError       ErrorCode = "ENGINE_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// AsError extracts a *Error from err, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// WrapError wraps err into a *Error with the given code, preserving the cause.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// NewPermissionError creates a microphone permission denied error.
func NewPermissionError(message string) *Error {
	return &Error{Code: ErrPermissionDenied, Message: message}
}

// NewCapabilityUnsupportedError creates an error for a missing platform primitive.
func NewCapabilityUnsupportedError(message string) *Error {
	return &Error{Code: ErrCapabilityUnsupported, Message: message}
}

// NewStateViolationError creates an error for an operation issued in the wrong state.
// State violations are rejected as no-ops and never escalated to the user.
func NewStateViolationError(message string) *Error {
	return &Error{Code: ErrStateViolation, Message: message}
}

// NewInvalidInputError creates an error for malformed caller input.
func NewInvalidInputError(message string) *Error {
	return &Error{Code: ErrInvalidInput, Message: message}
}
