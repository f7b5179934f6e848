package stravalink

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrorCodeInvalidRequest      = "invalid_request"
	ErrorCodeNotFound            = "not_found"
	ErrorCodeUnauthorized        = "unauthorized"
	ErrorCodeReconnectRequired   = "reconnect_required"
	ErrorCodeUpstreamUnavailable = "upstream_unavailable"
)

// Error represents a failure from the credential lifecycle core.
// Callers branch on Code, never on the description text.
type Error struct {
	Code        string // Machine-readable error code (e.g., "not_found", "reconnect_required")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a new typed error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrNotFound indicates the username has no linked Strava connection
	ErrNotFound = func(desc string) *Error {
		return NewError(ErrorCodeNotFound, desc, http.StatusNotFound)
	}

	// ErrUnauthorized indicates the upstream API rejected the access token
	ErrUnauthorized = func(desc string) *Error {
		return NewError(ErrorCodeUnauthorized, desc, http.StatusUnauthorized)
	}

	// ErrReconnectRequired indicates the refresh path failed and the connection
	// was purged; the user must re-authorize
	ErrReconnectRequired = func(desc string) *Error {
		return NewError(ErrorCodeReconnectRequired, desc, http.StatusBadRequest)
	}

	// ErrUpstreamUnavailable indicates a transport failure, timeout, or an
	// unexpected upstream response; detail is logged, never echoed
	ErrUpstreamUnavailable = func(desc string) *Error {
		return NewError(ErrorCodeUpstreamUnavailable, desc, http.StatusInternalServerError)
	}
)

// CodeOf returns the error code of err if it is (or wraps) an *Error,
// or the empty string otherwise.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
