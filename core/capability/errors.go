package capability

import "errors"

// ErrCursorExpired signals that a provider rejected an incremental-sync
// cursor and a bounded window refresh is required instead.
var ErrCursorExpired = errors.New("sync cursor expired")

// ProviderError is a classified failure from an external provider.
// Transient failures are retried with the same idempotency key; permanent
// ones fail the step and its dependents immediately.
type ProviderError struct {
	Code      string
	Message   string
	Transient bool
}

func (e *ProviderError) Error() string {
	return e.Message
}

// NewTransientError creates a retryable provider error.
func NewTransientError(code, message string) *ProviderError {
	return &ProviderError{Code: code, Message: message, Transient: true}
}

// NewPermanentError creates a non-retryable provider error.
func NewPermanentError(code, message string) *ProviderError {
	return &ProviderError{Code: code, Message: message, Transient: false}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}
	return false
}

// ErrorCode extracts the provider error code, defaulting by transience.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.Code != "" {
		return providerErr.Code
	}
	if IsTransient(err) {
		return "transient_provider_error"
	}
	return "permanent_provider_error"
}
