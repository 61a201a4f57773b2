package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions configures journal queries with pagination and filtering.
type ListOptions struct {
	Limit  int
	Offset int
	Kind   EventKind // Optional kind filter
	RunID  string    // Optional run filter
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 50, Offset: 0}
}

// Clamp enforces limits (max 500, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// RunningTask describes one task currently admitted by a scheduler.
type RunningTask struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	State        TaskState `json:"state"`
	Requirements []string  `json:"requirements"`
	SinceTick    uint64    `json:"since_tick"`
}

// ResourceStatus describes one registered resource and who holds it.
type ResourceStatus struct {
	Name        string `json:"name"`
	ClaimedBy   string `json:"claimed_by,omitempty"`
	DefaultTask string `json:"default_task,omitempty"`
}

// SchedulerStatus is a point-in-time view of a scheduler.
type SchedulerStatus struct {
	Tick      uint64           `json:"tick"`
	Mode      RobotMode        `json:"mode"`
	Running   []RunningTask    `json:"running"`
	Resources []ResourceStatus `json:"resources"`
}
