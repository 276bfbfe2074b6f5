package gmail

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is returned when the server rejects the credential (401).
// The client does not retry it; callers are expected to reauthorize.
var ErrUnauthorized = errors.New("gmail: unauthorized")

// RequestError describes a failed API request. A zero StatusCode with a
// non-nil Err means the request never produced a response (transport
// failure). Transport failures, 429, quota 403s, and 5xx responses are
// retryable; every other status is final.
type RequestError struct {
	StatusCode int
	Path       string
	Body       string
	Err        error

	quota bool // 403 carried a rate/quota reason
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request %s: %v", e.Path, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("request %s failed (%d): %s", e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("request %s failed (%d)", e.Path, e.StatusCode)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Retryable reports whether the request may succeed if repeated.
func (e *RequestError) Retryable() bool {
	switch {
	case e.Err != nil:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode == http.StatusForbidden:
		return e.quota
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// newRequestError builds a RequestError from a non-2xx response.
func newRequestError(statusCode int, path string, body []byte) *RequestError {
	return &RequestError{
		StatusCode: statusCode,
		Path:       path,
		Body:       string(body),
		quota:      statusCode == http.StatusForbidden && isQuotaError(body),
	}
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}

// isQuotaError checks whether a 403 response is actually a rate limit error.
// Gmail reports quota exhaustion as 403 with a "rateLimitExceeded" reason
// instead of 429.
func isQuotaError(body []byte) bool {
	return bytes.Contains(body, []byte("rateLimitExceeded")) ||
		bytes.Contains(body, []byte("RATE_LIMIT_EXCEEDED")) ||
		bytes.Contains(body, []byte("Quota exceeded")) ||
		bytes.Contains(body, []byte("userRateLimitExceeded"))
}
