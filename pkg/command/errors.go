package command

import (
	"errors"
	"fmt"
)

// ErrAlreadyScheduled is returned by Schedule for a running task when the scheduler
// was built WithStrictReschedule. By default rescheduling is a silent no-op.
var ErrAlreadyScheduled = errors.New("task is already scheduled")

// IllegalUseError reports a defect in the embedding application: a task or
// resource used in a way the scheduler cannot honor.
type IllegalUseError struct {
	Task     string
	Resource string
	Reason   string
}

func (e *IllegalUseError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("illegal use of task %q with resource %q: %s", e.Task, e.Resource, e.Reason)
	}
	return fmt.Sprintf("illegal use of task %q: %s", e.Task, e.Reason)
}

// TaskPanicError describes a panic recovered from a task hook.
type TaskPanicError struct {
	Task  string
	Phase string
	Value any
	Stack []byte
}

func (e *TaskPanicError) Error() string {
	return fmt.Sprintf("task %q panicked in %s: %v", e.Task, e.Phase, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *TaskPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
