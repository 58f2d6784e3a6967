package client

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind classifies an API failure for retry decisions.
type ErrorKind string

const (
	ErrKindUnauthorized ErrorKind = "unauthorized"
	ErrKindForbidden    ErrorKind = "forbidden"
	ErrKindNotFound     ErrorKind = "notFound"
	ErrKindRateLimited  ErrorKind = "rateLimited"
	ErrKindServer       ErrorKind = "serverError"
	ErrKindNetwork      ErrorKind = "networkError"
	ErrKindDecoding     ErrorKind = "decodingError"
)

// APIError is a failed call to the device management API. RetryAfter is
// only set for rate-limited responses that carried the header.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("graph API error (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("graph API error (%s): %s", e.Kind, e.Message)
}

// Retryable reports whether retrying the same call can succeed.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case ErrKindRateLimited, ErrKindServer, ErrKindNetwork:
		return true
	default:
		return false
	}
}

// AsAPIError unwraps err to an *APIError if one is in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// statusError maps an HTTP status to a classified error. resp headers are
// consulted for Retry-After on 429s.
func statusError(status int, header http.Header, body string) *APIError {
	e := &APIError{StatusCode: status, Message: body}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = ErrKindUnauthorized
	case status == http.StatusForbidden:
		e.Kind = ErrKindForbidden
	case status == http.StatusNotFound:
		e.Kind = ErrKindNotFound
	case status == http.StatusTooManyRequests:
		e.Kind = ErrKindRateLimited
		e.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
	case status >= 500:
		e.Kind = ErrKindServer
	default:
		// Any other 4xx means the request we built does not match the
		// remote contract; retrying the same payload cannot succeed.
		e.Kind = ErrKindDecoding
	}
	return e
}

// parseRetryAfter handles the delta-seconds form; the HTTP-date form is
// rare on this API and falls back to zero.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
