package command

import (
	"time"

	"k8s.io/utils/clock"
)

// WrapperTask delegates to an inner task, overriding selected properties.
type WrapperTask struct {
	inner            Task
	name             string
	runsWhenDisabled *bool
	behavior         *InterruptionBehavior
	onEnd            func(interrupted bool)
}

func wrap(t Task) *WrapperTask {
	return &WrapperTask{inner: t}
}

func (w *WrapperTask) Children() []Task { return []Task{w.inner} }

func (w *WrapperTask) Name() string {
	if w.name != "" {
		return w.name
	}
	return w.inner.Name()
}

func (w *WrapperTask) Initialize()               { w.inner.Initialize() }
func (w *WrapperTask) Execute()                  { w.inner.Execute() }
func (w *WrapperTask) IsFinished() bool          { return w.inner.IsFinished() }
func (w *WrapperTask) Requirements() []*Resource { return w.inner.Requirements() }

func (w *WrapperTask) End(interrupted bool) {
	w.inner.End(interrupted)
	if w.onEnd != nil {
		w.onEnd(interrupted)
	}
}

func (w *WrapperTask) RunsWhenDisabled() bool {
	if w.runsWhenDisabled != nil {
		return *w.runsWhenDisabled
	}
	return w.inner.RunsWhenDisabled()
}

func (w *WrapperTask) InterruptionBehavior() InterruptionBehavior {
	if w.behavior != nil {
		return *w.behavior
	}
	return w.inner.InterruptionBehavior()
}

func (w *WrapperTask) InterruptionBehaviorFor(r *Resource) InterruptionBehavior {
	if w.behavior != nil {
		return *w.behavior
	}
	return behaviorFor(w.inner, r)
}

// Named wraps t under a different display name.
func Named(t Task, name string) *WrapperTask {
	w := wrap(t)
	w.name = name
	return w
}

// IgnoringDisable overrides whether t runs while the robot is disabled.
func IgnoringDisable(t Task, runsWhenDisabled bool) *WrapperTask {
	w := wrap(t)
	w.runsWhenDisabled = &runsWhenDisabled
	return w
}

// WithInterruptBehavior overrides t's interruption behavior for every resource.
func WithInterruptBehavior(t Task, b InterruptionBehavior) *WrapperTask {
	w := wrap(t)
	w.behavior = &b
	return w
}

// FinallyDo runs fn after t ends, however it ended.
func FinallyDo(t Task, fn func(interrupted bool)) *WrapperTask {
	w := wrap(t)
	w.onEnd = fn
	return w
}

// HandleInterrupt runs fn after t ends only if it was interrupted.
func HandleInterrupt(t Task, fn func()) *WrapperTask {
	return FinallyDo(t, func(interrupted bool) {
		if interrupted {
			fn()
		}
	})
}

// WithTimeout interrupts t if it has not finished after d of wall-clock time.
func WithTimeout(t Task, d time.Duration) *RaceGroup {
	return Race(t, Wait(d))
}

// WithTimeoutClock is WithTimeout measured on clk.
func WithTimeoutClock(t Task, clk clock.PassiveClock, d time.Duration) *RaceGroup {
	return Race(t, WaitClock(clk, d))
}

// Until interrupts t once cond reports true.
func Until(t Task, cond func() bool) *RaceGroup {
	return Race(t, WaitUntil(cond))
}

// OnlyWhile interrupts t once cond reports false.
func OnlyWhile(t Task, cond func() bool) *RaceGroup {
	return Until(t, func() bool { return !cond() })
}

// BeforeStarting runs before and then t.
func BeforeStarting(t, before Task) *SequenceGroup {
	return Sequence(before, t)
}

// AndThen runs t and then next in order.
func AndThen(t Task, next ...Task) *SequenceGroup {
	return Sequence(append([]Task{t}, next...)...)
}

// AlongWith runs t and others together until all finish.
func AlongWith(t Task, others ...Task) *ParallelGroup {
	return Parallel(append([]Task{t}, others...)...)
}

// RaceWith runs t and others together until any finishes.
func RaceWith(t Task, others ...Task) *RaceGroup {
	return Race(append([]Task{t}, others...)...)
}

// DeadlineFor runs others alongside t, interrupting them when t finishes.
func DeadlineFor(t Task, others ...Task) *DeadlineGroup {
	return Deadline(t, others...)
}

// Repeatedly restarts t every time it finishes.
func Repeatedly(t Task) *RepeatTask {
	return Repeat(t)
}

// Unless skips t when cond reports true at start.
func Unless(t Task, cond func() bool) *EitherTask {
	return Either(None(), t, cond)
}

// OnlyIf runs t only when cond reports true at start.
func OnlyIf(t Task, cond func() bool) *EitherTask {
	return Either(t, None(), cond)
}

// AsProxy runs t on s as an independently scheduled task.
func AsProxy(s *Scheduler, t Task) *ProxyTask {
	return Proxy(s, t)
}
