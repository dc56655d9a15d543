package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is the closed set of failure categories used for retry and
// propagation decisions. Provider clients translate raw upstream errors
// into a Kind at the boundary; nothing above them inspects provider
// payloads.
type Kind string

const (
	// KindInvalidInput fails validation. Never retried, user-fixable.
	KindInvalidInput Kind = "invalid_input"
	// KindRateLimited covers a local bucket denial or an upstream 429.
	KindRateLimited Kind = "rate_limited"
	// KindTimeout covers a per-attempt or cumulative deadline.
	KindTimeout Kind = "timeout"
	// KindUpstreamUnavailable covers 5xx-class and transient network failures.
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	// KindUpstreamRejected means the upstream explicitly failed the request;
	// the same input will not succeed without change.
	KindUpstreamRejected Kind = "upstream_rejected"
	// KindUnknown is unclassified and treated as non-retryable.
	KindUnknown Kind = "unknown"
)

// Error carries a classified kind alongside a human-readable message. The
// wrapped cause keeps raw diagnostic detail for logging; it is never
// returned to callers of the service boundary.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a classified error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an underlying error. A nil cause yields nil.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithRetryAfter attaches a retry-after hint, surfaced to callers on
// rate-limited failures.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// KindOf extracts the classified kind from an error chain. Context
// deadline errors classify as Timeout; everything unclassified is Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// RetryAfterOf returns the retry-after hint from an error chain, or zero.
func RetryAfterOf(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}

// FromStatus classifies an upstream HTTP status code. Used only inside
// provider clients.
func FromStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindUpstreamRejected
	case code >= 500:
		return KindUpstreamUnavailable
	case code >= 400:
		return KindInvalidInput
	default:
		return KindUnknown
	}
}
