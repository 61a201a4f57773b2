package command

import (
	"log/slog"

	"github.com/me/cmdbase/pkg/event"
	"k8s.io/utils/clock"
)

// PanicPolicy controls what the scheduler does when a task hook panics.
type PanicPolicy int

const (
	// PanicPropagate attempts End(true) on the failing task, releases its resources,
	// and re-panics with a *TaskPanicError. This is the default.
	PanicPropagate PanicPolicy = iota
	// PanicRecover attempts End(true), releases resources, logs the panic, and
	// returns a *TaskPanicError from Tick or Schedule. Other tasks keep running.
	PanicRecover
)

// String returns the config name of the policy.
func (p PanicPolicy) String() string {
	if p == PanicRecover {
		return "recover"
	}
	return "propagate"
}

// ParsePanicPolicy converts "recover" or "propagate" to a PanicPolicy.
func ParsePanicPolicy(s string) (PanicPolicy, bool) {
	switch s {
	case "recover":
		return PanicRecover, true
	case "propagate", "":
		return PanicPropagate, true
	}
	return PanicPropagate, false
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With("component", "scheduler")
		}
	}
}

// WithClock sets the time source handed to time-based conditions.
func WithClock(clk clock.PassiveClock) Option {
	return func(s *Scheduler) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithDisabledFunc sets the query the scheduler consults to decide whether the
// robot is disabled. Tasks that do not run when disabled are neither admitted nor
// kept running while it returns true.
func WithDisabledFunc(fn func() bool) Option {
	return func(s *Scheduler) { s.robotDisabled = fn }
}

// WithPanicPolicy sets how panics inside task hooks are handled.
func WithPanicPolicy(p PanicPolicy) Option {
	return func(s *Scheduler) { s.panicPolicy = p }
}

// WithStrictReschedule makes Schedule return ErrAlreadyScheduled for tasks that
// are already running instead of silently ignoring them.
func WithStrictReschedule(strict bool) Option {
	return func(s *Scheduler) { s.strictReschedule = strict }
}

// WithEventLoop replaces the default event loop.
func WithEventLoop(l *event.Loop) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.defaultLoop = l
			s.activeLoop = l
		}
	}
}
