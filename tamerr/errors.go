// Package tamerr defines the errors raised by access method engines, the
// callback bridge and the resource lifecycle manager. Each error type maps to
// a distinct host error class, and all of them abort the enclosing transaction
// once they reach the host.
package tamerr

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// UnsupportedOperation is returned when an engine is asked to perform an
// operation it does not implement.
type UnsupportedOperation struct {
	Engine    string
	Operation string
	Relation  string // Optional.
}

func (e *UnsupportedOperation) Error() string {
	if e.Relation != "" {
		return fmt.Sprintf("access method %q does not support %s (relation %s)",
			e.Engine, e.Operation, e.Relation)
	}
	return fmt.Sprintf("access method %q does not support %s", e.Engine, e.Operation)
}

// ResourceIOError is returned when the physical creation or removal of a
// relation's external resource fails.
type ResourceIOError struct {
	Op       string // "create" or "remove".
	Relation string
	Location string
	Err      error
}

func (e *ResourceIOError) Error() string {
	return fmt.Sprintf("could not %s resource %q of relation %s: %s",
		e.Op, e.Location, e.Relation, e.Err)
}

// Unwrap returns the underlying I/O error.
func (e *ResourceIOError) Unwrap() error { return e.Err }

// Cause returns the underlying I/O error, for github.com/pkg/errors.
func (e *ResourceIOError) Cause() error { return e.Err }

// ValidationError is returned for malformed or incomplete table or
// tablespace options. Option names the first offending option, if any, and
// Context tracks nested validation contexts.
type ValidationError struct {
	Option  string
	Context []string
	Err     error
}

func (e *ValidationError) Error() string {
	if len(e.Context) != 0 {
		return strings.Join(e.Context, ".") + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

// NewValidationError parallels fmt.Errorf to return a ValidationError
// attributed to |option|, which may be empty.
func NewValidationError(option, format string, args ...interface{}) error {
	return &ValidationError{Option: option, Err: fmt.Errorf(format, args...)}
}

// ExtendContext type-checks |err| to a *ValidationError, and if matched extends
// it with |context|. In all cases the value of |err| is returned.
func ExtendContext(err error, format string, args ...interface{}) error {
	if ve, ok := err.(*ValidationError); ok {
		ve.Context = append([]string{fmt.Sprintf(format, args...)}, ve.Context...)
	}
	return err
}

// InconsistentStateError is returned when an internal invariant of the
// lifecycle manager or bridge is violated, for example when scopes are
// popped out of order. It is always fatal to the enclosing transaction.
type InconsistentStateError struct {
	Relation string // Optional.
	Detail   string
}

func (e *InconsistentStateError) Error() string {
	if e.Relation != "" {
		return fmt.Sprintf("inconsistent access method state for relation %s: %s", e.Relation, e.Detail)
	}
	return "inconsistent access method state: " + e.Detail
}

// NewInconsistentState parallels fmt.Errorf to return an InconsistentStateError.
func NewInconsistentState(relation, format string, args ...interface{}) error {
	return &InconsistentStateError{Relation: relation, Detail: fmt.Sprintf(format, args...)}
}

// IsUnsupported returns true if |err| is or wraps an UnsupportedOperation.
func IsUnsupported(err error) bool {
	var e *UnsupportedOperation
	return errors.As(err, &e)
}

// IsResourceIO returns true if |err| is or wraps a ResourceIOError.
func IsResourceIO(err error) bool {
	var e *ResourceIOError
	return errors.As(err, &e)
}

// IsValidation returns true if |err| is or wraps a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsInconsistent returns true if |err| is or wraps an InconsistentStateError.
func IsInconsistent(err error) bool {
	var e *InconsistentStateError
	return errors.As(err, &e)
}
