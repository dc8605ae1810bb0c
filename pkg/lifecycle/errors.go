package lifecycle

import (
	"fmt"
	"time"

	"github.com/openvlab/openvlab/pkg/rollback"
)

// ConvergenceError reports that an entity never reached its target state
// within the polling bound. It is always fatal to the calling operation.
type ConvergenceError struct {
	// Entity identifies what was being polled, e.g. "storage domain sd2".
	Entity string

	// Want is the state that was never reached.
	Want string

	// Waited is how long the poller waited before giving up.
	Waited time.Duration
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s did not reach state %q within %s", e.Entity, e.Want, e.Waited)
}

// AbortError is returned when a transaction failed and its rollback stack
// was unwound. Cause is the original triggering failure; Undo is non-nil
// when the cleanup itself was incomplete, so operators can tell "operation
// failed" from "operation failed and cleanup also failed".
type AbortError struct {
	Cause error
	Undo  *rollback.UndoError
}

func (e *AbortError) Error() string {
	if e.Undo != nil {
		return fmt.Sprintf("%v (rollback incomplete: %v)", e.Cause, e.Undo)
	}
	return e.Cause.Error()
}

func (e *AbortError) Unwrap() error {
	return e.Cause
}
