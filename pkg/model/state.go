package model

// TaskState represents where a Task is in its scheduler lifecycle.
type TaskState string

const (
	TaskStateNotScheduled TaskState = "NOT_SCHEDULED"
	TaskStateQueued       TaskState = "QUEUED"
	TaskStateInitialized  TaskState = "INITIALIZED"
	TaskStateExecuting    TaskState = "EXECUTING"
	TaskStateFinished     TaskState = "FINISHED"
	TaskStateInterrupted  TaskState = "INTERRUPTED"
)

// String returns the string representation of the task state.
func (s TaskState) String() string {
	return string(s)
}

// IsTerminal returns true if the task has ended.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateFinished, TaskStateInterrupted:
		return true
	}
	return false
}

// IsActive returns true while the task holds its resources.
func (s TaskState) IsActive() bool {
	return s == TaskStateInitialized || s == TaskStateExecuting
}

// ValidTaskTransitions defines the allowed lifecycle transitions for Tasks.
// Ended tasks return to NOT_SCHEDULED, from which they may be scheduled again.
var ValidTaskTransitions = map[TaskState][]TaskState{
	TaskStateNotScheduled: {TaskStateQueued, TaskStateInitialized},
	TaskStateQueued:       {TaskStateInitialized, TaskStateNotScheduled},
	TaskStateInitialized:  {TaskStateExecuting, TaskStateInterrupted, TaskStateFinished},
	TaskStateExecuting:    {TaskStateExecuting, TaskStateFinished, TaskStateInterrupted},
	TaskStateFinished:     {TaskStateNotScheduled},
	TaskStateInterrupted:  {TaskStateNotScheduled},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, allowed := range ValidTaskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RobotMode is the operating mode reported by the field control system.
type RobotMode string

const (
	RobotModeDisabled   RobotMode = "disabled"
	RobotModeAutonomous RobotMode = "autonomous"
	RobotModeTeleop     RobotMode = "teleop"
	RobotModeTest       RobotMode = "test"
)

// String returns the string representation of the robot mode.
func (m RobotMode) String() string {
	return string(m)
}

// IsEnabled returns true for every mode except disabled.
func (m RobotMode) IsEnabled() bool {
	return m != RobotModeDisabled
}

// Valid reports whether m is one of the known modes.
func (m RobotMode) Valid() bool {
	switch m {
	case RobotModeDisabled, RobotModeAutonomous, RobotModeTeleop, RobotModeTest:
		return true
	}
	return false
}

// ParseRobotMode converts a string to a RobotMode, returning false for unknown values.
func ParseRobotMode(s string) (RobotMode, bool) {
	m := RobotMode(s)
	return m, m.Valid()
}
