package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Registry / definition error codes
const (
	ErrCodeDuplicateType     ErrorCode = "DUPLICATE_TYPE"
	ErrCodeUnknownType       ErrorCode = "UNKNOWN_TYPE"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidDefinition ErrorCode = "INVALID_DEFINITION"
)

// Execution error codes
const (
	ErrCodeNodeFailed        ErrorCode = "NODE_FAILED"
	ErrCodeMissingOutput     ErrorCode = "MISSING_OUTPUT"
	ErrCodeMissingInput      ErrorCode = "MISSING_INPUT"
	ErrCodeRunNotFound       ErrorCode = "RUN_NOT_FOUND"
	ErrCodeRunNotResumable   ErrorCode = "RUN_NOT_RESUMABLE"
	ErrCodeDefinitionChanged ErrorCode = "DEFINITION_CHANGED"
	ErrCodeCheckpointFailed  ErrorCode = "CHECKPOINT_FAILED"
	ErrCodeCancelled         ErrorCode = "CANCELLED"
)

// Upstream / transport error codes
const (
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeUpstreamError   ErrorCode = "UPSTREAM_ERROR"
	ErrCodeTimeout         ErrorCode = "TIMEOUT"
	ErrCodeUnavailable     ErrorCode = "UNAVAILABLE"
	ErrCodeInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrCodeTooManyRuns     ErrorCode = "TOO_MANY_RUNS"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeInternalError   ErrorCode = "INTERNAL_ERROR"
	ErrCodeCircuitOpen     ErrorCode = "CIRCUIT_OPEN"
	ErrCodeStoreNotEnabled ErrorCode = "STORE_NOT_ENABLED"
)

// Sentinels matched by code through (*Error).Is.
var (
	ErrDuplicateType     = NewError(ErrCodeDuplicateType, "node type already registered")
	ErrUnknownType       = NewError(ErrCodeUnknownType, "unknown node type")
	ErrValidationFailed  = NewError(ErrCodeValidationFailed, "workflow validation failed")
	ErrRunNotFound       = NewError(ErrCodeRunNotFound, "run not found")
	ErrMissingInput      = NewError(ErrCodeMissingInput, "required workflow input not supplied")
	ErrDefinitionChanged = NewError(ErrCodeDefinitionChanged, "workflow definition changed since run started")
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
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

// Is matches any *Error carrying the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
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
