package mgmt

import (
	"errors"
	"fmt"
)

// RequestError represents a failed management API call.
type RequestError struct {
	// Op is the API operation that failed (e.g., "host.deactivate").
	Op string

	// Status is the HTTP status code, when the failure came from a
	// response. Zero for transport-level failures.
	Status int

	// Err is the underlying error.
	Err error

	// Transient marks rejections the API is expected to stop issuing on
	// its own (busy entity, mid-transition locks, 409s). Callers decide
	// whether to retry, requeue, or propagate.
	Transient bool
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a transient API rejection.
func IsTransient(err error) bool {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Transient
	}
	return false
}
