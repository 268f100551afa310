package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Request errors
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeRateLimit    ErrorType = "RATE_LIMIT"

	// Node errors
	ErrorTypeSignatureInvalid   ErrorType = "SIGNATURE_INVALID"
	ErrorTypeResolutionFailed   ErrorType = "IDENTITY_RESOLUTION_FAILED"
	ErrorTypeCapacityExhausted  ErrorType = "CAPACITY_EXHAUSTED"
	ErrorTypeGenerationFailed   ErrorType = "GENERATION_FAILED"
	ErrorTypeStorageWriteFailed ErrorType = "STORAGE_WRITE_FAILED"
	ErrorTypeBusy               ErrorType = "BUSY"

	// Infrastructure errors
	ErrorTypeInternal    ErrorType = "INTERNAL"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
	ErrorTypeNetwork     ErrorType = "NETWORK"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Retryable  bool                   `json:"retryable"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError of the same type, so callers can
// compare against the sentinel values below with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && (t.Code == "" || e.Code == t.Code)
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var sb strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&sb, "%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return sb.String()
}

// Sentinels for errors.Is comparisons. Only Type is compared.
var (
	ErrSignatureInvalid   = &AppError{Type: ErrorTypeSignatureInvalid}
	ErrResolutionFailed   = &AppError{Type: ErrorTypeResolutionFailed}
	ErrCapacityExhausted  = &AppError{Type: ErrorTypeCapacityExhausted}
	ErrGenerationFailed   = &AppError{Type: ErrorTypeGenerationFailed}
	ErrStorageWriteFailed = &AppError{Type: ErrorTypeStorageWriteFailed}
	ErrBusy               = &AppError{Type: ErrorTypeBusy}
)

// Constructor functions for common error types

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		StackTrace: captureStackTrace(),
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		StackTrace: captureStackTrace(),
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
		StackTrace: captureStackTrace(),
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
		StackTrace: captureStackTrace(),
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit int, window string) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimit,
		Message:    fmt.Sprintf("rate limit exceeded: %d requests per %s", limit, window),
		HTTPStatus: http.StatusTooManyRequests,
		Retryable:  true,
		StackTrace: captureStackTrace(),
	}
}

// NewSignatureInvalidError is raised when an inbound message fails verification.
// The message is dropped and never retried.
func NewSignatureInvalidError(did string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeSignatureInvalid,
		Message:    fmt.Sprintf("signature verification failed for %s", did),
		Details:    map[string]interface{}{"did": did},
		Cause:      cause,
		HTTPStatus: http.StatusUnauthorized,
		StackTrace: captureStackTrace(),
	}
}

// NewResolutionFailedError is raised when a DID cannot be resolved to an
// identity document. Unlike signature failures it is retryable.
func NewResolutionFailedError(did string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeResolutionFailed,
		Message:    fmt.Sprintf("could not resolve identity for %s", did),
		Details:    map[string]interface{}{"did": did},
		Cause:      cause,
		Retryable:  true,
		HTTPStatus: http.StatusBadGateway,
		StackTrace: captureStackTrace(),
	}
}

// NewCapacityExhaustedError describes a budget denial
func NewCapacityExhaustedError(reason string) *AppError {
	return &AppError{
		Type:       ErrorTypeCapacityExhausted,
		Message:    reason,
		HTTPStatus: http.StatusForbidden,
		StackTrace: captureStackTrace(),
	}
}

// NewGenerationFailedError wraps an Essence Engine failure
func NewGenerationFailedError(threadID string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeGenerationFailed,
		Message:    fmt.Sprintf("response generation failed for thread %s", threadID),
		Details:    map[string]interface{}{"thread_id": threadID},
		Cause:      cause,
		Retryable:  true,
		HTTPStatus: http.StatusBadGateway,
		StackTrace: captureStackTrace(),
	}
}

// NewStorageWriteFailedError wraps a failed essence store write
func NewStorageWriteFailedError(file string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeStorageWriteFailed,
		Message:    fmt.Sprintf("failed to write %s", file),
		Details:    map[string]interface{}{"file": file},
		Cause:      cause,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewBusyError is returned when a thread already has an action in flight
func NewBusyError(threadID string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusy,
		Message:    fmt.Sprintf("thread %s has an action in flight", threadID),
		Details:    map[string]interface{}{"thread_id": threadID},
		Retryable:  true,
		HTTPStatus: http.StatusConflict,
		StackTrace: captureStackTrace(),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewUnavailableError creates a service unavailable error
func NewUnavailableError(service string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Message:    fmt.Sprintf("service '%s' is unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  true,
		StackTrace: captureStackTrace(),
	}
}

// NewNetworkError creates a network error
func NewNetworkError(message string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeNetwork,
		Message:    message,
		Cause:      err,
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		StackTrace: captureStackTrace(),
	}
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsBusy checks if an error is a busy rejection
func IsBusy(err error) bool {
	return IsType(err, ErrorTypeBusy)
}

// IsSignatureInvalid checks if an error is a verification failure
func IsSignatureInvalid(err error) bool {
	return IsType(err, ErrorTypeSignatureInvalid)
}

// IsResolutionFailed checks if an error is an identity resolution failure
func IsResolutionFailed(err error) bool {
	return IsType(err, ErrorTypeResolutionFailed)
}

// IsGenerationFailed checks if an error is an engine failure
func IsGenerationFailed(err error) bool {
	return IsType(err, ErrorTypeGenerationFailed)
}

// IsStorageWriteFailed checks if an error is a store write failure
func IsStorageWriteFailed(err error) bool {
	return IsType(err, ErrorTypeStorageWriteFailed)
}

// IsRetryable reports whether the error chain carries a retryable AppError
func IsRetryable(err error) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Retryable
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, add context to message
	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
