package p123

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for response classification.
// Use errors.Is(err, p123.ErrTokenExpired) to check.
var (
	ErrTokenExpired = errors.New("p123: token is expired")
	ErrNotFound     = errors.New("p123: not found")
	ErrServer       = errors.New("p123: server error")
	ErrUnexpected   = errors.New("p123: unexpected response")
)

// codeUnauthorized is the envelope code 123pan uses for rejected tokens.
const codeUnauthorized = 401

// APIError wraps a sentinel error with the HTTP status and the API envelope
// code and message.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("p123: HTTP %d, code %d: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classify maps an HTTP status and envelope code/message to a sentinel error.
// This is the only place that inspects message text; callers branch on sentinels.
func classify(status, code int, message string) error {
	switch {
	case status == http.StatusUnauthorized,
		code == codeUnauthorized,
		strings.Contains(strings.ToLower(message), "token is expired"):
		return ErrTokenExpired
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= http.StatusInternalServerError:
		return ErrServer
	default:
		return ErrUnexpected
	}
}
