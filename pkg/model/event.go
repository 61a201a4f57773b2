package model

import "time"

// EventKind identifies what happened to a task (or the robot) in a journal entry.
type EventKind string

const (
	EventInitialize EventKind = "initialize"
	EventInterrupt  EventKind = "interrupt"
	EventFinish     EventKind = "finish"
	EventMode       EventKind = "mode"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventInitialize, EventInterrupt, EventFinish, EventMode:
		return true
	}
	return false
}

// Transition returns the task state an event of this kind moves a task into.
// Mode events carry no task state and return "".
func (k EventKind) Transition() TaskState {
	switch k {
	case EventInitialize:
		return TaskStateInitialized
	case EventInterrupt:
		return TaskStateInterrupted
	case EventFinish:
		return TaskStateFinished
	}
	return ""
}

// Event is one journal record of scheduler activity.
type Event struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	Tick         uint64    `json:"tick"`
	Kind         EventKind `json:"kind"`
	TaskID       string    `json:"task_id,omitempty"`
	TaskName     string    `json:"task_name,omitempty"`
	Interruptor  string    `json:"interruptor,omitempty"`
	Requirements []string  `json:"requirements,omitempty"`
	Mode         RobotMode `json:"mode,omitempty"`
	At           time.Time `json:"at"`
}

// RunSummary aggregates the events of one recorded run.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Events    int       `json:"events"`
	LastTick  uint64    `json:"last_tick"`
	StartedAt time.Time `json:"started_at"`
}
