package supabase

import (
	"errors"
	"fmt"
)

// ErrServiceRoleRequired is returned by auth admin calls made without a service role key
var ErrServiceRoleRequired = errors.New("a service role key is required for user administration")

// ConnectionError reports bad credentials or an unreachable project at connect time
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RequestError reports a failed REST, storage or auth call
type RequestError struct {
	Op     string
	Method string
	URL    string
	// Status is zero when no response was received
	Status int
	Body   string
	Err    error
}

func (e *RequestError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("%s failed with status %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
