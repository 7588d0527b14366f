package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorType classifies provider errors for UI handling
type ErrorType string

const (
	ErrorTypeRateLimit          ErrorType = "rate_limit"          // 429 - too many requests
	ErrorTypeQuotaExceeded      ErrorType = "quota_exceeded"      // Usage limit (insufficient_quota)
	ErrorTypeInsufficientCredit ErrorType = "insufficient_credit" // 402 - no balance
	ErrorTypeProviderDown       ErrorType = "provider_down"       // 502/503 - upstream issue
	ErrorTypeAuth               ErrorType = "auth"                // 401 - bad API key
	ErrorTypeModeration         ErrorType = "moderation"          // 403 - content flagged
	ErrorTypeUnknown            ErrorType = "unknown"             // Fallback
)

// ProviderError is a structured error returned by LLM clients
type ProviderError struct {
	Type       ErrorType      // Classification
	Provider   string         // "openai", "mock"
	Code       string         // Raw error code ("429", "insufficient_quota")
	Message    string         // Human-readable message
	ResetAt    *time.Time     // When limit resets (if known)
	RetryAfter *time.Duration // How long to wait (if known)
	Retryable  bool           // Should we auto-retry?
}

func (e *ProviderError) Error() string {
	if e.ResetAt != nil {
		return fmt.Sprintf("%s: %s (resets at %s)", e.Provider, e.Message, e.ResetAt.Format("15:04:05"))
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap allows errors.Is/As to work through wrapped errors
func (e *ProviderError) Unwrap() error {
	return nil
}

// IsProviderError checks if err is a ProviderError and returns it
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// NewProviderError creates a new ProviderError with the given parameters
func NewProviderError(provider string, errType ErrorType, code, message string) *ProviderError {
	return &ProviderError{
		Type:     errType,
		Provider: provider,
		Code:     code,
		Message:  message,
	}
}

// ClassifyStatus builds a ProviderError from an HTTP failure. code is the
// provider's own error code when the body carried one. retryAfter is the raw
// Retry-After header.
func ClassifyStatus(provider string, status int, code, message, retryAfter string) *ProviderError {
	if code == "" {
		code = strconv.Itoa(status)
	}
	pe := NewProviderError(provider, ErrorTypeUnknown, code, message)
	switch {
	case code == "insufficient_quota":
		pe.Type = ErrorTypeQuotaExceeded
	case status == http.StatusTooManyRequests:
		pe.Type = ErrorTypeRateLimit
		pe.Retryable = true
	case status == http.StatusPaymentRequired:
		pe.Type = ErrorTypeInsufficientCredit
	case status == http.StatusUnauthorized:
		pe.Type = ErrorTypeAuth
	case status == http.StatusForbidden:
		pe.Type = ErrorTypeModeration
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout, status == http.StatusInternalServerError:
		pe.Type = ErrorTypeProviderDown
		pe.Retryable = true
	}
	if d, ok := parseRetryAfter(retryAfter); ok {
		pe.RetryAfter = &d
	}
	return pe
}

func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
	}
	return 0, false
}
