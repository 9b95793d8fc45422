// Package tonies talks to the Tonies cloud: password-grant authentication
// with a per-identity token cache, household and Creative Tonie reads,
// presigned upload tokens, and full-replacement chapter patches.
package tonies

import (
	"fmt"
	"net/http"

	"github.com/tonimelisma/tonies-go/internal/apperr"
)

// AuthError reports a rejected password grant. It carries the token
// endpoint's status and body for diagnostics and unwraps to
// apperr.ErrAuthenticationFailed.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("tonies: authentication failed: %s", e.Body)
	}

	return fmt.Sprintf("tonies: authentication failed: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *AuthError) Unwrap() error {
	return apperr.ErrAuthenticationFailed
}

// RemoteError wraps a sentinel with the HTTP status and response body of a
// failed cloud API call.
type RemoteError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("tonies: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx status to a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.ErrAuthenticationFailed
	case http.StatusNotFound:
		return apperr.ErrNotFound
	default:
		return apperr.ErrRemoteProtocol
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// isIdempotent reports whether a request may be replayed. POST /file
// mints a fresh single-use upload token on every call and is never replayed.
func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPatch, http.MethodPut:
		return true
	default:
		return false
	}
}
