package command

import (
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

// None returns a task that does nothing and finishes immediately.
func None() *Func {
	f := RunOnce(nil)
	f.SetName("None")
	f.SetRunsWhenDisabled(true)
	return f
}

// Idle returns a task that holds reqs, does nothing and never finishes.
func Idle(reqs ...*Resource) *Func {
	f := Functional(nil, nil, nil, nil, reqs...)
	f.SetName("Idle")
	return f
}

// RunOnce returns a task that calls fn on initialize and finishes.
func RunOnce(fn func(), reqs ...*Resource) *Func {
	f := Functional(fn, nil, nil, func() bool { return true }, reqs...)
	f.SetName("RunOnce")
	return f
}

// Run returns a task that calls fn every tick and never finishes.
func Run(fn func(), reqs ...*Resource) *Func {
	f := Functional(nil, fn, nil, nil, reqs...)
	f.SetName("Run")
	return f
}

// StartEnd returns a task that calls start on initialize and end when it stops.
func StartEnd(start, end func(), reqs ...*Resource) *Func {
	f := Functional(start, nil, endFunc(end), nil, reqs...)
	f.SetName("StartEnd")
	return f
}

// RunEnd returns a task that calls run every tick and end when it stops.
func RunEnd(run, end func(), reqs ...*Resource) *Func {
	f := Functional(nil, run, endFunc(end), nil, reqs...)
	f.SetName("RunEnd")
	return f
}

func endFunc(fn func()) func(bool) {
	if fn == nil {
		return nil
	}
	return func(bool) { fn() }
}

// Print returns a task that logs msg at info level and finishes.
func Print(logger *slog.Logger, msg string) *Func {
	if logger == nil {
		logger = slog.Default()
	}
	f := RunOnce(func() { logger.Info(msg) })
	f.SetName("Print")
	f.SetRunsWhenDisabled(true)
	return f
}

// WaitTask finishes once its duration has elapsed on its clock.
type WaitTask struct {
	Base
	clock    clock.PassiveClock
	duration time.Duration
	start    time.Time
}

// Wait returns a task that finishes after d of wall-clock time.
func Wait(d time.Duration) *WaitTask {
	return WaitClock(clock.RealClock{}, d)
}

// WaitClock returns a task that finishes after d has elapsed on clk.
func WaitClock(clk clock.PassiveClock, d time.Duration) *WaitTask {
	if clk == nil {
		clk = clock.RealClock{}
	}
	w := &WaitTask{clock: clk, duration: d}
	w.SetName(fmt.Sprintf("Wait(%s)", d))
	w.SetRunsWhenDisabled(true)
	return w
}

func (w *WaitTask) Initialize() {
	w.start = w.clock.Now()
}

func (w *WaitTask) IsFinished() bool {
	return w.clock.Since(w.start) >= w.duration
}

// WaitTicksTask finishes after it has been executed a fixed number of times.
type WaitTicksTask struct {
	Base
	ticks int
	count int
}

// WaitTicks returns a task that finishes on its n-th execution.
func WaitTicks(n int) *WaitTicksTask {
	w := &WaitTicksTask{ticks: n}
	w.SetName(fmt.Sprintf("WaitTicks(%d)", n))
	w.SetRunsWhenDisabled(true)
	return w
}

func (w *WaitTicksTask) Initialize()      { w.count = 0 }
func (w *WaitTicksTask) Execute()         { w.count++ }
func (w *WaitTicksTask) IsFinished() bool { return w.count >= w.ticks }

// WaitUntil returns a task that finishes once cond reports true.
func WaitUntil(cond func() bool) *Func {
	f := Functional(nil, nil, nil, cond)
	f.SetName("WaitUntil")
	f.SetRunsWhenDisabled(true)
	return f
}

// EitherTask runs one of two tasks, picked on initialize.
type EitherTask struct {
	Base
	onTrue, onFalse Task
	selector        func() bool
	selected        Task
}

// Either returns a task that runs onTrue if selector reports true when it starts,
// and onFalse otherwise.
func Either(onTrue, onFalse Task, selector func() bool) *EitherTask {
	e := &EitherTask{onTrue: onTrue, onFalse: onFalse, selector: selector}
	e.SetName(groupName("Either", []Task{onTrue, onFalse}))
	inherit(&e.Base, []Task{onTrue, onFalse})
	return e
}

func (e *EitherTask) Children() []Task { return []Task{e.onTrue, e.onFalse} }

func (e *EitherTask) Initialize() {
	if e.selector() {
		e.selected = e.onTrue
	} else {
		e.selected = e.onFalse
	}
	e.selected.Initialize()
}

func (e *EitherTask) Execute() { e.selected.Execute() }

func (e *EitherTask) IsFinished() bool { return e.selected.IsFinished() }

func (e *EitherTask) End(interrupted bool) {
	if e.selected != nil {
		e.selected.End(interrupted)
	}
	e.selected = nil
}

// SelectTask runs the task chosen by key when it starts. Unknown keys run nothing
// and finish immediately.
type SelectTask[K comparable] struct {
	Base
	tasks    map[K]Task
	children []Task
	selector func() K
	selected Task
}

// Select returns a task that runs tasks[selector()].
func Select[K comparable](tasks map[K]Task, selector func() K) *SelectTask[K] {
	s := &SelectTask[K]{tasks: tasks, selector: selector}
	for _, t := range tasks {
		s.children = append(s.children, t)
	}
	inherit(&s.Base, s.children)
	sortResources(s.requirements)
	s.SetName("Select")
	return s
}

func (s *SelectTask[K]) Children() []Task { return s.children }

func (s *SelectTask[K]) Initialize() {
	t, ok := s.tasks[s.selector()]
	if !ok {
		t = None()
	}
	s.selected = t
	t.Initialize()
}

func (s *SelectTask[K]) Execute() { s.selected.Execute() }

func (s *SelectTask[K]) IsFinished() bool { return s.selected.IsFinished() }

func (s *SelectTask[K]) End(interrupted bool) {
	if s.selected != nil {
		s.selected.End(interrupted)
	}
	s.selected = nil
}

// DeferredTask builds its inner task on initialize. The supplied task must only
// use the resources declared up front.
type DeferredTask struct {
	Base
	supplier func() Task
	current  Task
}

// Defer returns a task that calls supplier each time it starts and runs the result.
func Defer(supplier func() Task, reqs ...*Resource) *DeferredTask {
	d := &DeferredTask{supplier: supplier}
	d.SetName("Defer")
	d.AddRequirements(reqs...)
	return d
}

func (d *DeferredTask) Initialize() {
	d.current = d.supplier()
	if d.current == nil {
		d.current = None()
	}
	d.current.Initialize()
}

func (d *DeferredTask) Execute() { d.current.Execute() }

func (d *DeferredTask) IsFinished() bool { return d.current.IsFinished() }

func (d *DeferredTask) End(interrupted bool) {
	if d.current != nil {
		d.current.End(interrupted)
	}
	d.current = nil
}

// ProxyTask schedules another task on its own and waits for it. The proxied task
// claims its resources independently, so the proxy itself requires nothing.
type ProxyTask struct {
	Base
	scheduler *Scheduler
	task      Task
}

// Proxy returns a task that schedules t on s when it starts and finishes when t
// is no longer scheduled. Interrupting the proxy cancels t.
func Proxy(s *Scheduler, t Task) *ProxyTask {
	p := &ProxyTask{scheduler: s, task: t}
	p.SetName("Proxy(" + t.Name() + ")")
	return p
}

func (p *ProxyTask) Initialize() {
	if err := p.scheduler.Schedule(p.task); err != nil {
		p.scheduler.logger.Warn("proxied task not scheduled", "task", p.task.Name(), "error", err)
	}
}

func (p *ProxyTask) IsFinished() bool {
	return !p.scheduler.IsScheduled(p.task) && !p.scheduler.IsQueued(p.task)
}

func (p *ProxyTask) End(interrupted bool) {
	if !interrupted {
		return
	}
	if err := p.scheduler.Cancel(p.task); err != nil {
		p.scheduler.logger.Warn("proxied task not cancelled", "task", p.task.Name(), "error", err)
	}
}

// RepeatTask restarts its inner task every time it finishes. It never finishes
// on its own.
type RepeatTask struct {
	Base
	task  Task
	ended bool
}

// Repeat returns a task that runs t over and over.
func Repeat(t Task) *RepeatTask {
	r := &RepeatTask{task: t}
	r.SetName("Repeat(" + t.Name() + ")")
	inherit(&r.Base, []Task{t})
	return r
}

func (r *RepeatTask) Children() []Task { return []Task{r.task} }

func (r *RepeatTask) Initialize() {
	r.ended = false
	r.task.Initialize()
}

func (r *RepeatTask) Execute() {
	if r.ended {
		r.ended = false
		r.task.Initialize()
	}
	r.task.Execute()
	if r.task.IsFinished() {
		r.task.End(false)
		r.ended = true
	}
}

func (r *RepeatTask) End(interrupted bool) {
	if !r.ended {
		r.task.End(interrupted)
		r.ended = true
	}
}
