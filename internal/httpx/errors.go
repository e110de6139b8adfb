package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx response, carrying enough of the body to
// diagnose the failure without extra instrumentation.
type StatusError struct {
	StatusCode int
	Body       string // truncated
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// RetriesExhaustedError wraps the final failure after the retry budget
// is spent.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// StatusOf extracts an HTTP status code from err, unwrapping as needed.
// Returns 0 when no status was observed (pure transport failure).
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// retryable classifies a failed attempt. Transport-level failures and
// timeouts retry; among HTTP statuses only throttling and server-side
// errors do.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	// No status observed: network failure or per-attempt timeout.
	return true
}

// canceled reports whether the caller's own context ended, which must
// never be retried past.
func canceled(ctx context.Context) bool {
	return ctx.Err() != nil
}
