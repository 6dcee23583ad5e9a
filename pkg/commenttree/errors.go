// Package commenttree is a client for the Pop-Bucks comment API. It keeps a
// per-post view of the two-level comment tree in memory, applies mutations
// optimistically, and rolls back to the pre-action state when the server
// rejects a call.
package commenttree

import (
	"errors"
	"fmt"
)

// Error codes returned in the API's JSON error body.
const (
	codeValidation   = "VALIDATION_ERROR"
	codeNotFound     = "NOT_FOUND"
	codeUnauthorized = "UNAUTHORIZED"
)

var (
	// ErrActionInFlight is returned when a mutation targets a comment that
	// already has a mutation outstanding. The caller should drop the action,
	// not queue it.
	ErrActionInFlight = errors.New("commenttree: action already in flight for this comment")

	// ErrUnauthenticated is returned when a mutating call is attempted
	// without a token. Callers route this to their login prompt.
	ErrUnauthenticated = errors.New("commenttree: authentication required")

	// ErrUnknownPost is returned when a view operation references a post
	// that was never opened or was evicted from the cache.
	ErrUnknownPost = errors.New("commenttree: post view not loaded")
)

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("commenttree: api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("commenttree: api error %d", e.Status)
}

// IsNotFound reports whether err is a 404 / NOT_FOUND API error.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.Code == codeNotFound || apiErr.Status == 404)
}

// IsValidation reports whether err is a 400 / VALIDATION_ERROR API error.
func IsValidation(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.Code == codeValidation || apiErr.Status == 400)
}

// IsAuthorization reports whether err is a 401/403 / UNAUTHORIZED API error.
func IsAuthorization(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.Code == codeUnauthorized || apiErr.Status == 401 || apiErr.Status == 403)
}
