package provider

import (
	"errors"
	"fmt"
)

// Error codes for categorizing provider errors
const (
	ErrCodeConfiguration   = "CONFIG_ERROR"
	ErrCodeAuthentication  = "AUTH_ERROR"
	ErrCodeUnavailable     = "UNAVAILABLE_ERROR"
	ErrCodeDownloadLimit   = "DOWNLOAD_LIMIT_ERROR"
	ErrCodeTooManyRequests = "RATE_LIMIT_ERROR"
	ErrCodeNotInitialized  = "NOT_INITIALIZED_ERROR"
	ErrCodeInvalidSubtitle = "INVALID_SUBTITLE_ERROR"
	ErrCodeTimeout         = "TIMEOUT_ERROR"
	ErrCodeProvider        = "PROVIDER_ERROR"
)

// Error is a categorized error from a provider operation. The pool's
// state machine dispatches on Code.
type Error struct {
	Code     string // Error category code
	Message  string // Human-readable message
	Provider string // Name of the affected provider
	Cause    error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Provider, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by category code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Common error instances for comparison with errors.Is.
var (
	ErrConfiguration   = &Error{Code: ErrCodeConfiguration, Message: "configuration error"}
	ErrAuthentication  = &Error{Code: ErrCodeAuthentication, Message: "authentication failed"}
	ErrUnavailable     = &Error{Code: ErrCodeUnavailable, Message: "service unavailable"}
	ErrDownloadLimit   = &Error{Code: ErrCodeDownloadLimit, Message: "download limit exceeded"}
	ErrTooManyRequests = &Error{Code: ErrCodeTooManyRequests, Message: "too many requests"}
	ErrNotInitialized  = &Error{Code: ErrCodeNotInitialized, Message: "provider not initialized"}
	ErrInvalidSubtitle = &Error{Code: ErrCodeInvalidSubtitle, Message: "invalid subtitle content"}
	ErrTimeout         = &Error{Code: ErrCodeTimeout, Message: "operation timed out"}
	ErrProvider        = &Error{Code: ErrCodeProvider, Message: "provider error"}
)

// NewConfigError creates a configuration error, raised eagerly at
// provider construction.
func NewConfigError(name, message string) *Error {
	return &Error{
		Code:     ErrCodeConfiguration,
		Message:  message,
		Provider: name,
	}
}

// NewAuthError creates an authentication error.
func NewAuthError(name string, cause error) *Error {
	return &Error{
		Code:     ErrCodeAuthentication,
		Message:  "authentication failed",
		Provider: name,
		Cause:    cause,
	}
}

// NewUnavailableError creates a transient upstream failure.
func NewUnavailableError(name string, cause error) *Error {
	return &Error{
		Code:     ErrCodeUnavailable,
		Message:  "service unavailable",
		Provider: name,
		Cause:    cause,
	}
}

// NewDownloadLimitError creates a quota-exhausted error.
func NewDownloadLimitError(name string) *Error {
	return &Error{
		Code:     ErrCodeDownloadLimit,
		Message:  "download limit exceeded",
		Provider: name,
	}
}

// NewTooManyRequestsError creates a rate-limit error.
func NewTooManyRequestsError(name string) *Error {
	return &Error{
		Code:     ErrCodeTooManyRequests,
		Message:  "too many requests",
		Provider: name,
	}
}

// NewNotInitializedError reports a list or download call before
// Initialize. This is a programming error and propagates.
func NewNotInitializedError(name string) *Error {
	return &Error{
		Code:     ErrCodeNotInitialized,
		Message:  "provider not initialized",
		Provider: name,
	}
}

// NewInvalidSubtitleError reports downloaded content that fails
// validation.
func NewInvalidSubtitleError(name, subtitleID string) *Error {
	return &Error{
		Code:     ErrCodeInvalidSubtitle,
		Message:  fmt.Sprintf("invalid subtitle content for %s", subtitleID),
		Provider: name,
	}
}

// NewTimeoutError reports an exceeded deadline.
func NewTimeoutError(name string, cause error) *Error {
	return &Error{
		Code:     ErrCodeTimeout,
		Message:  "operation timed out",
		Provider: name,
		Cause:    cause,
	}
}

// NewProviderError creates a generic provider error.
func NewProviderError(name string, cause error) *Error {
	return &Error{
		Code:     ErrCodeProvider,
		Message:  "provider error",
		Provider: name,
		Cause:    cause,
	}
}

// IsConfigError returns whether the error is a configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsAuthError returns whether the error is an authentication error.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// IsUnavailableError returns whether the error is a transient upstream
// failure eligible for one retry.
func IsUnavailableError(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsDiscardError returns whether the error discards the provider for
// the rest of the pool's lifetime without a retry.
func IsDiscardError(err error) bool {
	return errors.Is(err, ErrDownloadLimit) ||
		errors.Is(err, ErrTooManyRequests) ||
		errors.Is(err, ErrTimeout)
}

// GetErrorCode extracts the category code from an error.
func GetErrorCode(err error) string {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ""
}
