package workflow

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDanglingDependency: a task depends on an id that is not in the workflow.
	ErrDanglingDependency = errors.New("dangling dependency")
	// ErrInvalidTask: a task is missing its id or handler, or has negative retries.
	ErrInvalidTask = errors.New("invalid task")
	// ErrUnknownStartTask: the start task is not one of the workflow's tasks.
	ErrUnknownStartTask = errors.New("unknown start task")
	// ErrTaskTimeout matches every *TimeoutError.
	ErrTaskTimeout = errors.New("task timed out")
	// ErrExecutorClosed is reported by runs submitted after Close.
	ErrExecutorClosed = errors.New("executor closed")
)

// DefinitionError reports a malformed workflow definition.
type DefinitionError struct {
	WorkflowID string
	TaskID     string
	Dependency string
	Err        error
}

func (e *DefinitionError) Error() string {
	switch {
	case errors.Is(e.Err, ErrDanglingDependency):
		return fmt.Sprintf("workflow %q: task %q depends on unknown task %q", e.WorkflowID, e.TaskID, e.Dependency)
	case e.TaskID != "":
		return fmt.Sprintf("workflow %q: task %q: %v", e.WorkflowID, e.TaskID, e.Err)
	default:
		return fmt.Sprintf("workflow %q: %v", e.WorkflowID, e.Err)
	}
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a handler exceeds its task's timeout.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %s", e.TaskID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTaskTimeout
}

// PanicError wraps a value recovered from a panicking handler, condition,
// event recorder or task worker.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
