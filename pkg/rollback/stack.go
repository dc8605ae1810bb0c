// Package rollback provides a scoped LIFO stack of compensating actions.
// A caller opens a stack at the start of a multi-step operation, pushes an
// undo immediately after each forward step succeeds, and either discards the
// stack on success or unwinds it on failure. Arming the stack with defer
// guarantees the unwind runs on any abnormal exit path.
package rollback

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Undo is a single compensating action.
type Undo func(ctx context.Context) error

type step struct {
	label string
	undo  Undo
}

// Stack is an ordered list of compensating actions, unwound in strict
// reverse-of-registration order. A stack is owned by exactly one in-flight
// operation and must not be shared across goroutines.
type Stack struct {
	log      zerolog.Logger
	steps    []step
	resolved bool
}

// New creates an empty stack.
func New(log zerolog.Logger) *Stack {
	return &Stack{log: log.With().Str("component", "rollback").Logger()}
}

// Push registers a compensating action for a forward step that just
// succeeded. The label identifies the step in logs and failure reports.
func (s *Stack) Push(label string, undo Undo) {
	s.steps = append(s.steps, step{label: label, undo: undo})
}

// Len returns the number of registered actions.
func (s *Stack) Len() int {
	return len(s.steps)
}

// Unwind executes every registered action exactly once, last registered
// first. An undo failure is reported but does not stop the remaining undos:
// the unwind is best-effort full reversal. Returns an *UndoError describing
// the failed undos, or nil if every undo succeeded.
func (s *Stack) Unwind(ctx context.Context) error {
	if s.resolved {
		return nil
	}
	s.resolved = true

	var failures []UndoFailure
	for i := len(s.steps) - 1; i >= 0; i-- {
		st := s.steps[i]
		s.log.Info().Str("step", st.label).Msg("rolling back")
		if err := s.runUndo(ctx, st); err != nil {
			s.log.Error().Err(err).Str("step", st.label).Msg("undo failed")
			failures = append(failures, UndoFailure{Label: st.label, Err: err})
		}
	}
	s.steps = nil

	if len(failures) > 0 {
		return &UndoError{Failures: failures}
	}
	return nil
}

// Discard clears all registered actions without executing them. Used on the
// success path of the forward operation.
func (s *Stack) Discard() {
	s.resolved = true
	s.steps = nil
}

// Release unwinds the stack unless it was already discarded or unwound.
// Intended for use with defer so that an early return or panic in the
// forward operation still triggers the rollback:
//
//	st := rollback.New(log)
//	defer st.Release(ctx)
//	... forward steps, st.Push after each ...
//	st.Discard()
func (s *Stack) Release(ctx context.Context) {
	if s.resolved {
		return
	}
	_ = s.Unwind(ctx)
}

func (s *Stack) runUndo(ctx context.Context, st step) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("undo panicked: %v", rec)
		}
	}()
	return st.undo(ctx)
}

// UndoFailure records one compensating action that failed during unwind.
type UndoFailure struct {
	Label string
	Err   error
}

// UndoError aggregates the compensating actions that failed during an
// unwind. The triggering failure of the forward operation is reported
// separately so operators can tell "operation failed" from "operation
// failed and cleanup also failed".
type UndoError struct {
	Failures []UndoFailure
}

func (e *UndoError) Error() string {
	if len(e.Failures) == 1 {
		f := e.Failures[0]
		return fmt.Sprintf("undo %q failed: %v", f.Label, f.Err)
	}
	msg := fmt.Sprintf("%d undo steps failed:", len(e.Failures))
	for _, f := range e.Failures {
		msg += fmt.Sprintf("\n  %q: %v", f.Label, f.Err)
	}
	return msg
}

// Unwrap exposes the underlying undo errors to errors.Is/As.
func (e *UndoError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
