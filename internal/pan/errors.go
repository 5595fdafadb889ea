// Package pan provides an HTTP client for the 115 open platform API
// with automatic retry, backoff, and error classification.
package pan

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, pan.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("pan: bad request")
	ErrAuthExpired  = errors.New("pan: authorization expired, re-login required")
	ErrForbidden    = errors.New("pan: forbidden")
	ErrNotFound     = errors.New("pan: not found")
	ErrConflict     = errors.New("pan: conflict")
	ErrThrottled    = errors.New("pan: throttled")
	ErrServerError  = errors.New("pan: server error")
	ErrNotLoggedIn  = errors.New("pan: not logged in")
	ErrEmptyPayload = errors.New("pan: response contains no data")
)

// Service error codes that mean the access or refresh token is no longer
// usable. These must surface as ErrAuthExpired so callers stop retrying
// and ask the user to re-authorize.
var authExpiredCodes = map[int]bool{
	40140116: true, // refresh_token revoked
	40140119: true, // refresh_token expired
	40140120: true, // refresh_token check failed
	40140121: true, // access_token refresh failed
	40140123: true, // access_token malformed
	40140124: true, // access_token signature check failed
	40140125: true, // access_token expired or revoked
	40140126: true, // access_token verification failed
}

// Service error codes that are worth retrying.
var retryableCodes = map[int]bool{
	40110000: true, // request exception, retry advised
	40140117: true, // token refreshed too frequently
}

// APIError wraps a sentinel error with the service's numeric error code
// and message from the response envelope.
type APIError struct {
	Code    int
	Message string
	Err     error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pan: API error %d: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyCode maps a service error code from the response envelope to a
// sentinel error. Unknown codes map to ErrBadRequest: the request was
// syntactically delivered but rejected, and a retry will not change that.
func classifyCode(code int) error {
	switch {
	case authExpiredCodes[code]:
		return ErrAuthExpired
	case retryableCodes[code]:
		return ErrThrottled
	case code == 40101017: // user verification failed
		return ErrForbidden
	case code == 40100000: // missing parameter
		return ErrBadRequest
	default:
		return ErrBadRequest
	}
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrAuthExpired
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryableStatus reports whether the given HTTP status code should be
// retried at the transport level.
func isRetryableStatus(code int) bool {
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
