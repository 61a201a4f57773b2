// Package event provides the polled event loop that conditions bind to, and a
// boolean debouncer for filtering noisy inputs.
package event

import "errors"

// ErrConcurrentModification is returned when bindings change while the loop is polling.
var ErrConcurrentModification = errors.New("event loop bindings cannot be modified while polling")

// Loop is an ordered collection of actions polled once per control period.
// A Loop is not safe for concurrent use; it belongs to the goroutine driving the scheduler.
type Loop struct {
	bindings []func()
	polling  bool
	polls    uint64
}

// NewLoop creates an empty event loop.
func NewLoop() *Loop {
	return &Loop{}
}

// Bind appends an action to the loop. Actions run in registration order on every Poll.
func (l *Loop) Bind(action func()) error {
	if action == nil {
		return errors.New("event loop: nil action")
	}
	if l.polling {
		return ErrConcurrentModification
	}
	l.bindings = append(l.bindings, action)
	return nil
}

// Poll runs every bound action once.
func (l *Loop) Poll() {
	l.polling = true
	l.polls++
	defer func() { l.polling = false }()

	for _, action := range l.bindings {
		action()
	}
}

// Clear removes all bindings.
func (l *Loop) Clear() error {
	if l.polling {
		return ErrConcurrentModification
	}
	l.bindings = nil
	return nil
}

// Polling reports whether Poll is currently running.
func (l *Loop) Polling() bool {
	return l.polling
}

// Polls returns how many polls have started. Bound actions use it to tell
// whether a cached value belongs to the current poll.
func (l *Loop) Polls() uint64 {
	return l.polls
}

// Len returns the number of bound actions.
func (l *Loop) Len() int {
	return len(l.bindings)
}
