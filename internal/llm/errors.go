package llm

import (
	"fmt"
	"net/http"
	"strings"
)

// FailureReason categorizes a provider error so callers can decide whether to
// retry, surface the error to their own caller, or give up.
type FailureReason string

const (
	FailureRateLimit   FailureReason = "rate_limit"
	FailureAuth        FailureReason = "auth"
	FailureTimeout     FailureReason = "timeout"
	FailureServerError FailureReason = "server_error"
	FailureBadRequest  FailureReason = "invalid_request"
	FailureUnknown     FailureReason = "unknown"
)

// Retryable reports whether a failure of this reason is worth retrying with
// backoff rather than surfacing immediately.
func (r FailureReason) Retryable() bool {
	switch r {
	case FailureRateLimit, FailureTimeout, FailureServerError:
		return true
	default:
		return false
	}
}

// ProviderError wraps a provider-level failure with enough context for
// logging and retry decisions without leaking secrets (API keys are never
// captured here).
type ProviderError struct {
	Reason   FailureReason
	Provider string
	Model    string
	Status   int
	Cause    error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// WrapError classifies cause and wraps it as a ProviderError for provider/model.
func WrapError(provider, model string, cause error) *ProviderError {
	return &ProviderError{
		Reason:   ClassifyError(cause),
		Provider: provider,
		Model:    model,
		Cause:    cause,
	}
}

// ClassifyError inspects an error's text for known failure signatures. This is
// best-effort: SDKs differ in how they expose structured error codes, so
// string matching on the error text is the common denominator.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return FailureUnknown
	}
	s := strings.ToLower(err.Error())

	switch {
	case containsAny(s, "timeout", "deadline exceeded", "context deadline"):
		return FailureTimeout
	case containsAny(s, "rate limit", "rate_limit", "too many requests", "429"):
		return FailureRateLimit
	case containsAny(s, "unauthorized", "invalid api key", "authentication", "401", "403"):
		return FailureAuth
	case containsAny(s, "bad request", "invalid_request", "400"):
		return FailureBadRequest
	case containsAny(s, "internal server", "server error", "500", "502", "503", "504"):
		return FailureServerError
	default:
		return FailureUnknown
	}
}

// classifyStatusCode maps an HTTP status to a FailureReason when the SDK
// exposes one directly, which is more reliable than text matching.
func classifyStatusCode(status int) FailureReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	case status == http.StatusTooManyRequests:
		return FailureRateLimit
	case status == http.StatusBadRequest:
		return FailureBadRequest
	case status >= 500:
		return FailureServerError
	default:
		return FailureUnknown
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
