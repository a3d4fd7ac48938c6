package llm

import (
	"errors"
	"time"
)

// Error represents a provider-neutral LLM error. Every backend maps its native
// failures onto this type; nothing else crosses the Client boundary.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeConfiguration  ErrorType = "configuration"
	ErrorTypeProvider       ErrorType = "provider"
	ErrorTypeNetwork        ErrorType = "network"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeRateLimit
	}
	return false
}

// IsConfigurationError reports whether err came from settings or construction-time validation.
func IsConfigurationError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeConfiguration
	}
	return false
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		ProviderErr: providerErr,
	}
}

// NewProviderError creates a new provider error.
func NewProviderError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProvider,
		Message:     message,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}

// NewConfigurationError creates an error for missing or invalid settings.
func NewConfigurationError(message string) *Error {
	return &Error{
		Type:    ErrorTypeConfiguration,
		Message: message,
	}
}

// NewInvalidRequestError creates an error for a request the backend cannot express.
func NewInvalidRequestError(message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeInvalidRequest,
		Message:     message,
		ProviderErr: cause,
	}
}

// StatusError maps an HTTP status code from a backend onto the taxonomy.
// 429 is the only retryable status; everything else is fatal.
func StatusError(backend string, statusCode int, message string, cause error) *Error {
	e := &Error{
		Message:     backend + ": " + message,
		StatusCode:  statusCode,
		ProviderErr: cause,
	}
	switch {
	case statusCode == 429:
		e.Type = ErrorTypeRateLimit
		e.Retryable = true
		e.Message = backend + " rate limit: " + message
	case statusCode == 401 || statusCode == 403:
		e.Type = ErrorTypeAuthentication
	case statusCode == 400 || statusCode == 404 || statusCode == 413 || statusCode == 422:
		e.Type = ErrorTypeInvalidRequest
	default:
		e.Type = ErrorTypeProvider
	}
	return e
}
