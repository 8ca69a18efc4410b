package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by every lookup that finds nothing.
var ErrNotFound = errors.New("not found")

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// BadRequestError reports malformed or out-of-range input.
type BadRequestError struct {
	Message string
}

func (e BadRequestError) Error() string { return e.Message }

// BadRequestf builds a BadRequestError.
func BadRequestf(format string, args ...any) error {
	return BadRequestError{Message: fmt.Sprintf(format, args...)}
}

// ConstraintError reports a workflow rule that blocks the operation.
type ConstraintError struct {
	Reason string
}

func (e ConstraintError) Error() string { return e.Reason }

const (
	ReasonSwimlaneCreate = "New Task cannot be created in this swimlane"
	ReasonSwimlaneMove   = "Task cannot be moved to this swimlane"
	ReasonInApproval     = "Task is in approval process"
	ReasonStateNotInFlow = "task cannot be moved"
)

// MaxBatchDefault caps batch requests when config does not set a limit.
const MaxBatchDefault = 1000
