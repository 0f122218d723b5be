// Package reliability wraps every external agent call in a retry policy,
// a per-agent circuit breaker, and accurate success-rate statistics.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// ErrCircuitOpen is returned when the breaker refuses a call. It is
// never retryable: the breaker's open window outlives any backoff.
var ErrCircuitOpen = errors.New("circuit open")

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// SchemaError marks a response that arrived but could not be parsed into
// the expected shape. Retrying cannot fix a malformed contract.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: %v", e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Retryable classifies an error by walking its cause chain.
//
// Retryable: read/connect timeouts, connection refused/reset, HTTP 429,
// HTTP 5xx, provider "overloaded" responses, and generic I/O errors.
//
// Not retryable: authentication errors (401/403), other 4xx, schema or
// parse errors, cancellation, and an open circuit.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return true
		case httpErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	// Attempt timeout: the deadline belongs to the attempt, not the caller.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// Transport-level failures on the request itself.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if strings.Contains(strings.ToLower(err.Error()), "overloaded") {
		return true
	}

	return false
}
