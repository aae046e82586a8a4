package schemas

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyWorkflow is returned when generation is requested for zero steps.
	ErrEmptyWorkflow = errors.New("workflow has no steps")
	// ErrInvalidStep marks a malformed step; wrapped with the offending detail.
	ErrInvalidStep = errors.New("invalid step")
	// ErrNotFound is returned by repositories and services for unknown ids.
	ErrNotFound = errors.New("not found")
)

// InvalidStateError reports an operation attempted in a state that forbids it.
type InvalidStateError struct {
	Entity    string
	ID        string
	State     string
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %q", e.Operation, e.Entity, e.ID, e.State)
}

// IsInvalidState reports whether err wraps an InvalidStateError.
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

// NotFoundf wraps ErrNotFound with entity context.
func NotFoundf(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}
