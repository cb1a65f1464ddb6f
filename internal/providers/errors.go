package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorCategory classifies why a provider request failed.
// This drives retry decisions in the agent loop.
type ErrorCategory string

const (
	// CategoryCredential indicates authentication failure (HTTP 401, 403).
	CategoryCredential ErrorCategory = "credential_invalid"

	// CategoryRateLimited indicates throttling (HTTP 429).
	CategoryRateLimited ErrorCategory = "rate_limited"

	// CategoryAPI indicates a provider-side failure (HTTP 5xx or a
	// provider-reported error on a well-formed request).
	CategoryAPI ErrorCategory = "api_error"

	// CategoryNetwork indicates the request never produced a provider
	// response: timeouts, DNS, connection resets.
	CategoryNetwork ErrorCategory = "network"

	// CategoryCanceled indicates the caller canceled the request.
	CategoryCanceled ErrorCategory = "canceled"

	// CategoryUnknown indicates an unclassified error.
	CategoryUnknown ErrorCategory = "unknown"
)

// Retryable reports whether the category suggests retrying may succeed.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case CategoryRateLimited, CategoryNetwork:
		return true
	default:
		return false
	}
}

// defaultServerRetryDelay is used for retryable server errors when the
// provider supplied no Retry-After hint.
const defaultServerRetryDelay = 2 * time.Second

// Error is a structured provider failure. It captures what retry logic
// and diagnostics need: category, HTTP status, provider error code, and
// an optional server-supplied retry delay.
type Error struct {
	Category ErrorCategory

	// Provider is the adapter name, e.g. "anthropic".
	Provider string

	// Model is the model that was requested.
	Model string

	// Status is the HTTP status code, if applicable.
	Status int

	// Code is the provider-specific error code.
	Code string

	// Message is the human-readable error message.
	Message string

	// RequestID is the provider's request ID for debugging.
	RequestID string

	// RetryAfter is the server-suggested wait before retrying, zero when
	// the server gave no hint.
	RetryAfter time.Duration

	// retryable overrides the category default when set.
	retryable *bool

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Category)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure is worth retrying. Server errors
// (5xx) are retryable even though api_error as a whole is not.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Status >= 500 {
		return true
	}
	return e.Category.Retryable()
}

// RetryDelay returns the wait before the next attempt: the server's
// Retry-After when present, otherwise a fixed default for retryable
// failures and zero for everything else.
func (e *Error) RetryDelay() time.Duration {
	if e.RetryAfter > 0 {
		return e.RetryAfter
	}
	if e.Retryable() {
		return defaultServerRetryDelay
	}
	return 0
}

// NewError creates an Error classified from the underlying cause.
func NewError(provider, model string, cause error) *Error {
	err := &Error{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Category: CategoryUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Category = Classify(cause)
	}
	return err
}

// WithStatus adds the HTTP status and reclassifies from it.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	if cat := classifyStatus(status); cat != CategoryUnknown {
		e.Category = cat
	}
	return e
}

// WithCode adds a provider-specific error code and reclassifies when the
// code is recognized.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	if cat := classifyCode(code); cat != CategoryUnknown {
		e.Category = cat
	}
	return e
}

// WithRequestID adds the provider's request ID.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// WithMessage sets the error message.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithRetryAfter records a server-supplied retry delay.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	if d > 0 {
		e.RetryAfter = d
	}
	return e
}

// WithRetryable forces the retryable flag regardless of category.
func (e *Error) WithRetryable(v bool) *Error {
	e.retryable = &v
	return e
}

// Classify inspects an error and returns its category.
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	if errors.Is(err, context.Canceled) {
		return CategoryCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "eof") {
		return CategoryNetwork
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return CategoryRateLimited
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "invalid_api_key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return CategoryCredential
	}

	if strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return CategoryAPI
	}

	return CategoryUnknown
}

// classifyStatus maps an HTTP status code to a category.
func classifyStatus(status int) ErrorCategory {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CategoryCredential
	case status == http.StatusTooManyRequests:
		return CategoryRateLimited
	case status >= 500:
		return CategoryAPI
	case status >= 400:
		return CategoryAPI
	default:
		return CategoryUnknown
	}
}

// classifyCode maps known provider error codes to a category.
func classifyCode(code string) ErrorCategory {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded", "insufficient_quota":
		return CategoryRateLimited
	case "authentication_error", "invalid_api_key", "permission_error":
		return CategoryCredential
	case "server_error", "internal_error", "overloaded_error", "api_error":
		return CategoryAPI
	default:
		return CategoryUnknown
	}
}

// ParseRetryAfter parses an HTTP Retry-After header value, which is either
// a delay in seconds or an HTTP-date. Unparseable values yield zero.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// retryAfterFromHeader extracts the retry delay from an HTTP response
// header set, if present.
func retryAfterFromHeader(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	return ParseRetryAfter(h.Get("Retry-After"))
}

// AsError extracts a providers.Error from an error chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether an arbitrary error should be retried.
func IsRetryable(err error) bool {
	if pe, ok := AsError(err); ok {
		return pe.Retryable()
	}
	return Classify(err).Retryable()
}
