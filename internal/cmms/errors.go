package cmms

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means the backend did not answer within the call timeout.
	ErrTimeout = errors.New("cmms: request timed out")
	// ErrUserLookup means the requester could not be resolved before submitting.
	ErrUserLookup = errors.New("cmms: user lookup failed")
	// ErrNoUsers means the backend has no account to use as requester.
	ErrNoUsers = errors.New("cmms: no users available")
)

// APIError is returned for non-2xx responses.
type APIError struct {
	Status int
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cmms: %s returned %d: %s", e.Path, e.Status, e.Body)
}
