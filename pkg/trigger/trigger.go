// Package trigger binds task scheduling to boolean conditions polled once per
// scheduler tick.
//
// Every binding is its own entry on the event loop, so bindings fire in the
// order they were registered regardless of which trigger they belong to. The
// first binding of a trigger to run in a poll reads the condition and caches
// it; later bindings, and triggers derived with And, Or, Negate, Debounce,
// RisingEdge and FallingEdge, reuse the cached signal, so a condition shared by
// many bindings is evaluated once per poll.
//
// A trigger has no signal before its first poll. The first poll counts as a
// transition to whatever the condition reads: falling-edge bindings fire if it
// is false, rising-edge bindings if it is true.
package trigger

import (
	"errors"
	"log/slog"
	"time"

	"github.com/me/cmdbase/pkg/command"
	"github.com/me/cmdbase/pkg/event"
)

// Edge selects which signal transitions fire a binding.
type Edge int

const (
	Rising Edge = iota
	Falling
	Both
)

func (e Edge) String() string {
	switch e {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	case Both:
		return "both"
	}
	return "unknown"
}

func (e Edge) matches(rising bool) bool {
	switch e {
	case Both:
		return true
	case Rising:
		return rising
	}
	return !rising
}

// stamp identifies one poll of one loop.
type stamp struct {
	loop *event.Loop
	poll uint64
}

// Trigger is a condition bound to a scheduler's event loop.
type Trigger struct {
	scheduler *command.Scheduler
	loop      *event.Loop
	logger    *slog.Logger
	read      func() bool
	deps      []*Trigger

	refreshed stamp
	polled    bool // current holds a polled value
	known     bool // previous holds a polled value
	previous  bool
	current   bool
}

// New creates a trigger polled by s's default event loop.
func New(s *command.Scheduler, cond func() bool) *Trigger {
	return NewOnLoop(s, s.DefaultEventLoop(), cond)
}

// NewOnLoop creates a trigger polled by loop.
func NewOnLoop(s *command.Scheduler, loop *event.Loop, cond func() bool) *Trigger {
	return newTrigger(s, loop, cond)
}

func newTrigger(s *command.Scheduler, loop *event.Loop, read func() bool, deps ...*Trigger) *Trigger {
	return &Trigger{
		scheduler: s,
		loop:      loop,
		logger:    s.Logger().With("component", "trigger"),
		read:      read,
		deps:      deps,
	}
}

// Get returns the signal read by the most recent poll.
func (t *Trigger) Get() bool {
	return t.current
}

// refresh reads the condition once per poll of loop, parents first, so that a
// derived trigger sees its parents' signals for the same poll.
func (t *Trigger) refresh(loop *event.Loop) {
	now := stamp{loop: loop, poll: loop.Polls()}
	if t.refreshed == now {
		return
	}
	t.refreshed = now
	for _, dep := range t.deps {
		dep.refresh(loop)
	}
	t.known = t.polled
	t.previous = t.current
	t.current = t.read()
	t.polled = true
}

// changed reports whether the last refresh moved the signal.
func (t *Trigger) changed() bool {
	return !t.known || t.current != t.previous
}

// rose and fell report edges of the last refresh, counting the first poll as
// an edge.
func (t *Trigger) rose() bool { return t.current && (!t.known || !t.previous) }
func (t *Trigger) fell() bool { return !t.current && (!t.known || t.previous) }

// Bind runs action on every transition matching edge. It fails with
// event.ErrConcurrentModification while the loop is polling.
func (t *Trigger) Bind(edge Edge, action func()) error {
	if action == nil {
		return errors.New("trigger: nil action")
	}
	loop := t.loop
	return loop.Bind(func() {
		t.refresh(loop)
		if t.changed() && edge.matches(t.current) {
			action()
		}
	})
}

func (t *Trigger) schedule(task command.Task) {
	if err := t.scheduler.Schedule(task); err != nil {
		t.logger.Error("scheduling bound task", "task", task.Name(), "error", err)
	}
}

func (t *Trigger) cancel(task command.Task) {
	if err := t.scheduler.Cancel(task); err != nil {
		t.logger.Error("cancelling bound task", "task", task.Name(), "error", err)
	}
}

func (t *Trigger) toggle(task command.Task) {
	if t.scheduler.IsScheduled(task) || t.scheduler.IsQueued(task) {
		t.cancel(task)
		return
	}
	t.schedule(task)
}

// OnTrue schedules task when the signal rises.
func (t *Trigger) OnTrue(task command.Task) error {
	return t.Bind(Rising, func() { t.schedule(task) })
}

// OnFalse schedules task when the signal falls.
func (t *Trigger) OnFalse(task command.Task) error {
	return t.Bind(Falling, func() { t.schedule(task) })
}

// WhileTrue schedules task when the signal rises and cancels it when it falls.
func (t *Trigger) WhileTrue(task command.Task) error {
	return t.Bind(Both, func() {
		if t.current {
			t.schedule(task)
		} else {
			t.cancel(task)
		}
	})
}

// WhileFalse schedules task when the signal falls and cancels it when it rises.
func (t *Trigger) WhileFalse(task command.Task) error {
	return t.Bind(Both, func() {
		if t.current {
			t.cancel(task)
		} else {
			t.schedule(task)
		}
	})
}

// ToggleOnTrue flips task between scheduled and cancelled each time the signal rises.
func (t *Trigger) ToggleOnTrue(task command.Task) error {
	return t.Bind(Rising, func() { t.toggle(task) })
}

// ToggleOnFalse flips task between scheduled and cancelled each time the signal falls.
func (t *Trigger) ToggleOnFalse(task command.Task) error {
	return t.Bind(Falling, func() { t.toggle(task) })
}

// And returns a trigger that is high while both t and other are.
func (t *Trigger) And(other *Trigger) *Trigger {
	return newTrigger(t.scheduler, t.loop, func() bool { return t.current && other.current }, t, other)
}

// Or returns a trigger that is high while either t or other is.
func (t *Trigger) Or(other *Trigger) *Trigger {
	return newTrigger(t.scheduler, t.loop, func() bool { return t.current || other.current }, t, other)
}

// Negate returns a trigger that is high while t is low.
func (t *Trigger) Negate() *Trigger {
	return newTrigger(t.scheduler, t.loop, func() bool { return !t.current }, t)
}

// Debounce returns a trigger that follows t only after t has held a new value
// for d, measured on the scheduler's clock. typ selects which transitions are
// delayed.
func (t *Trigger) Debounce(d time.Duration, typ event.DebounceType) *Trigger {
	debouncer := event.NewDebouncer(d, typ, t.scheduler.Clock())
	return newTrigger(t.scheduler, t.loop, func() bool { return debouncer.Calculate(t.current) }, t)
}

// RisingEdge returns a trigger that is high for exactly one poll after t rises.
func (t *Trigger) RisingEdge() *Trigger {
	return newTrigger(t.scheduler, t.loop, t.rose, t)
}

// FallingEdge returns a trigger that is high for exactly one poll after t falls.
func (t *Trigger) FallingEdge() *Trigger {
	return newTrigger(t.scheduler, t.loop, t.fell, t)
}
