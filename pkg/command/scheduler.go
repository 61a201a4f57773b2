package command

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/me/cmdbase/pkg/event"
	"github.com/me/cmdbase/pkg/model"
)

// entry is the scheduler's record of one admitted task.
type entry struct {
	id           string
	task         Task
	requirements []*Resource
	state        model.TaskState
	since        uint64
}

// Scheduler admits tasks, arbitrates resource claims and steps running tasks.
type Scheduler struct {
	logger           *slog.Logger
	clock            clock.PassiveClock
	robotDisabled    func() bool
	panicPolicy      PanicPolicy
	strictReschedule bool

	running []*entry // admission order
	byTask  map[Task]*entry
	claims  map[*Resource]*entry

	resources []*Resource // registration order
	defaults  map[*Resource]Task

	// composed maps every task nested inside a scheduled composite to its root.
	composed map[Task]Task

	defaultLoop *event.Loop
	activeLoop  *event.Loop

	initHooks      []func(Task)
	executeHooks   []func(Task)
	interruptHooks []func(task, interruptor Task)
	finishHooks    []func(Task)

	inRunLoop bool
	queue     []Task
	ending    map[Task]bool
	disabled  bool
	ticks     uint64
}

// New creates a Scheduler.
func New(opts ...Option) *Scheduler {
	loop := event.NewLoop()
	s := &Scheduler{
		logger:      slog.New(slog.DiscardHandler),
		clock:       clock.RealClock{},
		byTask:      make(map[Task]*entry),
		claims:      make(map[*Resource]*entry),
		defaults:    make(map[*Resource]Task),
		composed:    make(map[Task]Task),
		ending:      make(map[Task]bool),
		defaultLoop: loop,
		activeLoop:  loop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	defaultMu        sync.Mutex
	defaultScheduler *Scheduler
)

// Default returns the process-wide scheduler, creating it on first use.
func Default() *Scheduler {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultScheduler == nil {
		defaultScheduler = New()
	}
	return defaultScheduler
}

// ResetDefault closes the process-wide scheduler. The next call to Default
// creates a fresh one.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultScheduler != nil {
		if err := defaultScheduler.Close(); err != nil {
			defaultScheduler.logger.Warn("closing default scheduler", "error", err)
		}
		defaultScheduler = nil
	}
}

// Close cancels every task, clears the default event loop and forgets all
// resources, default tasks, compositions and hooks.
func (s *Scheduler) Close() error {
	err := s.CancelAll()
	if cerr := s.defaultLoop.Clear(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	s.activeLoop = s.defaultLoop
	s.resources = nil
	clear(s.defaults)
	clear(s.composed)
	s.initHooks, s.executeHooks, s.interruptHooks, s.finishHooks = nil, nil, nil, nil
	return err
}

// Logger returns the scheduler's logger.
func (s *Scheduler) Logger() *slog.Logger { return s.logger }

// Clock returns the scheduler's time source.
func (s *Scheduler) Clock() clock.PassiveClock { return s.clock }

// Ticks returns the number of ticks run so far.
func (s *Scheduler) Ticks() uint64 { return s.ticks }

// Enable resumes a disabled scheduler.
func (s *Scheduler) Enable() { s.disabled = false }

// Disable makes Schedule and Tick no-ops until Enable is called. Running tasks
// are left in place.
func (s *Scheduler) Disable() { s.disabled = true }

// Enabled reports whether the scheduler accepts work.
func (s *Scheduler) Enabled() bool { return !s.disabled }

func (s *Scheduler) isRobotDisabled() bool {
	return s.robotDisabled != nil && s.robotDisabled()
}

// Schedule requests admission of each task in order. Conflicts with
// non-interruptible holders, a disabled robot or an already running task are
// not errors; the task is simply not admitted. Errors report misuse or, under
// PanicRecover, a panic in a lifecycle hook.
func (s *Scheduler) Schedule(tasks ...Task) error {
	var errs []error
	for _, t := range tasks {
		if err := s.schedule(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) schedule(t Task) error {
	if err := s.validate(t); err != nil {
		return err
	}
	if s.disabled {
		return nil
	}
	if s.inRunLoop {
		if !slices.Contains(s.queue, t) {
			s.queue = append(s.queue, t)
		}
		return nil
	}
	if s.byTask[t] != nil {
		if s.strictReschedule {
			return fmt.Errorf("schedule %q: %w", t.Name(), ErrAlreadyScheduled)
		}
		return nil
	}
	if s.isRobotDisabled() && !t.RunsWhenDisabled() {
		s.logger.Debug("task not admitted while disabled", "task", t.Name())
		return nil
	}

	reqs := dedupeResources(t.Requirements())
	var conflicts []*entry
	for _, r := range reqs {
		holder := s.claims[r]
		if holder == nil || slices.Contains(conflicts, holder) {
			continue
		}
		if behaviorFor(holder.task, r) == CancelIncoming {
			s.logger.Debug("task rejected by non-interruptible holder",
				"task", t.Name(), "resource", r.Name(), "holder", holder.task.Name())
			return nil
		}
		conflicts = append(conflicts, holder)
	}

	var errs []error
	for _, holder := range conflicts {
		if err := s.interrupt(holder, t); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range reqs {
		if holder := s.claims[r]; holder != nil {
			s.logger.Warn("resource reclaimed while interrupting holders",
				"task", t.Name(), "resource", r.Name(), "holder", holder.task.Name())
			return errors.Join(errs...)
		}
	}
	if err := s.admit(t, reqs); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Scheduler) admit(t Task, reqs []*Resource) error {
	e := &entry{
		id:           uuid.NewString(),
		task:         t,
		requirements: reqs,
		state:        model.TaskStateInitialized,
		since:        s.ticks,
	}
	s.running = append(s.running, e)
	s.byTask[t] = e
	for _, r := range reqs {
		s.claims[r] = e
	}
	s.compose(t)

	s.logger.Debug("task initialized", "task", t.Name(), "task_id", e.id, "tick", s.ticks)
	if err := s.guard(t, "initialize", t.Initialize); err != nil {
		return err
	}
	if s.byTask[t] != e {
		return nil
	}
	for _, h := range s.initHooks {
		h(t)
	}
	return nil
}

// interrupt ends e with interrupted=true and releases its resources.
func (s *Scheduler) interrupt(e *entry, interruptor Task) error {
	t := e.task
	if s.ending[t] {
		return nil
	}
	s.ending[t] = true
	err := s.guard(t, "end", func() { t.End(true) })
	delete(s.ending, t)
	if err != nil {
		return err
	}
	for _, h := range s.interruptHooks {
		h(t, interruptor)
	}
	s.release(e, model.TaskStateInterrupted)
	if interruptor != nil {
		s.logger.Debug("task interrupted", "task", t.Name(), "task_id", e.id, "by", interruptor.Name())
	} else {
		s.logger.Debug("task cancelled", "task", t.Name(), "task_id", e.id)
	}
	return nil
}

// finish ends e with interrupted=false and releases its resources.
func (s *Scheduler) finish(e *entry) error {
	t := e.task
	s.ending[t] = true
	err := s.guard(t, "end", func() { t.End(false) })
	delete(s.ending, t)
	if err != nil {
		return err
	}
	for _, h := range s.finishHooks {
		h(t)
	}
	s.release(e, model.TaskStateFinished)
	s.logger.Debug("task finished", "task", t.Name(), "task_id", e.id, "tick", s.ticks)
	return nil
}

func (s *Scheduler) release(e *entry, state model.TaskState) {
	if s.byTask[e.task] != e {
		return
	}
	e.state = state
	delete(s.byTask, e.task)
	s.running = slices.DeleteFunc(s.running, func(x *entry) bool { return x == e })
	for _, r := range e.requirements {
		if s.claims[r] == e {
			delete(s.claims, r)
		}
	}
}

// guard runs one lifecycle hook of t and applies the panic policy if it panics.
func (s *Scheduler) guard(t Task, phase string, fn func()) (err error) {
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		perr := &TaskPanicError{Task: t.Name(), Phase: phase, Value: v, Stack: debug.Stack()}
		s.logger.Error("task panicked", "task", t.Name(), "phase", phase, "panic", v)
		s.abort(t, phase)
		if s.panicPolicy == PanicPropagate {
			panic(perr)
		}
		err = perr
	}()
	fn()
	return nil
}

// abort makes a best-effort End(true) on a task whose hook panicked and
// releases its resources.
func (s *Scheduler) abort(t Task, phase string) {
	e := s.byTask[t]
	if e == nil {
		return
	}
	if phase != "end" && !s.ending[t] {
		s.ending[t] = true
		func() {
			defer func() {
				if v := recover(); v != nil {
					s.logger.Error("task panicked while ending", "task", t.Name(), "panic", v)
				}
			}()
			t.End(true)
		}()
		delete(s.ending, t)
	}
	for _, h := range s.interruptHooks {
		h(t, nil)
	}
	s.release(e, model.TaskStateInterrupted)
}

// Tick runs one scheduler iteration.
func (s *Scheduler) Tick() error {
	if s.disabled {
		return nil
	}
	s.ticks++

	for _, r := range s.resources {
		r.Periodic()
	}

	snapshot := slices.Clone(s.running)
	s.activeLoop.Poll()

	errs := s.runTasks(snapshot, s.isRobotDisabled())

	queued := s.queue
	s.queue = nil
	for _, t := range queued {
		if err := s.schedule(t); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.finishEmptyGroups(snapshot)...)

	for _, r := range s.resources {
		d := s.defaults[r]
		if d == nil || s.claims[r] != nil {
			continue
		}
		if err := s.schedule(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) runTasks(snapshot []*entry, robotDisabled bool) (errs []error) {
	s.inRunLoop = true
	defer func() { s.inRunLoop = false }()

	for _, e := range snapshot {
		t := e.task
		if s.byTask[t] != e {
			continue
		}
		if robotDisabled && !t.RunsWhenDisabled() {
			if err := s.interrupt(e, nil); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if !sameResources(t.Requirements(), e.requirements) {
			errs = append(errs, &IllegalUseError{Task: t.Name(), Reason: "requirements changed while scheduled"})
			if err := s.interrupt(e, nil); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		if err := s.guard(t, "execute", t.Execute); err != nil {
			errs = append(errs, err)
			continue
		}
		if s.byTask[t] != e {
			continue
		}
		e.state = model.TaskStateExecuting
		for _, h := range s.executeHooks {
			h(t)
		}

		var finished bool
		if err := s.guard(t, "isFinished", func() { finished = t.IsFinished() }); err != nil {
			errs = append(errs, err)
			continue
		}
		if finished && s.byTask[t] == e {
			if err := s.finish(e); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// finishEmptyGroups ends composites without children that were admitted
// after the snapshot and already report finished, so they end in the tick
// that scheduled them. Tasks with work to do still wait for their first
// Execute on the next tick.
func (s *Scheduler) finishEmptyGroups(snapshot []*entry) (errs []error) {
	for _, e := range slices.Clone(s.running) {
		t := e.task
		if s.byTask[t] != e || slices.Contains(snapshot, e) {
			continue
		}
		if c, ok := t.(Composite); !ok || len(c.Children()) > 0 {
			continue
		}
		var finished bool
		if err := s.guard(t, "isFinished", func() { finished = t.IsFinished() }); err != nil {
			errs = append(errs, err)
			continue
		}
		if finished && s.byTask[t] == e {
			if err := s.finish(e); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// Cancel interrupts each running task and drops any pending admission of it.
// Unscheduled tasks are ignored.
func (s *Scheduler) Cancel(tasks ...Task) error {
	var errs []error
	for _, t := range tasks {
		if !hashable(t) {
			continue
		}
		s.queue = slices.DeleteFunc(s.queue, func(q Task) bool { return q == t })
		if e := s.byTask[t]; e != nil {
			if err := s.interrupt(e, nil); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// CancelAll cancels every running and pending task.
func (s *Scheduler) CancelAll() error {
	s.queue = nil
	var errs []error
	for _, e := range slices.Clone(s.running) {
		if s.byTask[e.task] != e {
			continue
		}
		if err := s.interrupt(e, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CancelByID cancels the running task with the given admission ID.
func (s *Scheduler) CancelByID(id string) bool {
	for _, e := range s.running {
		if e.id != id {
			continue
		}
		if err := s.interrupt(e, nil); err != nil {
			s.logger.Warn("cancel by id", "task_id", id, "error", err)
		}
		return true
	}
	return false
}

// IsScheduled reports whether every given task is currently running.
func (s *Scheduler) IsScheduled(tasks ...Task) bool {
	for _, t := range tasks {
		if !hashable(t) || s.byTask[t] == nil {
			return false
		}
	}
	return true
}

// IsQueued reports whether t's admission is pending until the current pass ends.
func (s *Scheduler) IsQueued(t Task) bool {
	return hashable(t) && slices.Contains(s.queue, t)
}

// Requiring returns the task holding r, or nil.
func (s *Scheduler) Requiring(r *Resource) Task {
	if e := s.claims[r]; e != nil {
		return e.task
	}
	return nil
}

// TaskID returns the admission ID of a running task.
func (s *Scheduler) TaskID(t Task) (string, bool) {
	if !hashable(t) {
		return "", false
	}
	if e := s.byTask[t]; e != nil {
		return e.id, true
	}
	return "", false
}

// State returns where t is in its lifecycle.
func (s *Scheduler) State(t Task) model.TaskState {
	if !hashable(t) {
		return model.TaskStateNotScheduled
	}
	if e := s.byTask[t]; e != nil {
		return e.state
	}
	if slices.Contains(s.queue, t) {
		return model.TaskStateQueued
	}
	return model.TaskStateNotScheduled
}

// Running lists running tasks in admission order.
func (s *Scheduler) Running() []model.RunningTask {
	out := make([]model.RunningTask, 0, len(s.running))
	for _, e := range s.running {
		out = append(out, model.RunningTask{
			ID:           e.id,
			Name:         e.task.Name(),
			State:        e.state,
			Requirements: resourceNames(e.requirements),
			SinceTick:    e.since,
		})
	}
	return out
}

// Status returns a snapshot of running tasks and registered resources. The
// robot mode is left for the caller to fill in.
func (s *Scheduler) Status() model.SchedulerStatus {
	status := model.SchedulerStatus{Tick: s.ticks, Running: s.Running()}
	for _, r := range s.resources {
		rs := model.ResourceStatus{Name: r.Name()}
		if t := s.Requiring(r); t != nil {
			rs.ClaimedBy = t.Name()
		}
		if d := s.defaults[r]; d != nil {
			rs.DefaultTask = d.Name()
		}
		status.Resources = append(status.Resources, rs)
	}
	return status
}

// RegisterResource adds resources whose periodic hooks run each tick and whose
// default tasks are scheduled when they are unclaimed.
func (s *Scheduler) RegisterResource(rs ...*Resource) {
	for _, r := range rs {
		if r == nil {
			s.logger.Warn("ignoring nil resource")
			continue
		}
		if slices.Contains(s.resources, r) {
			s.logger.Warn("resource already registered", "resource", r.Name())
			continue
		}
		s.resources = append(s.resources, r)
	}
}

// UnregisterResource removes resources and their default tasks. Running tasks
// keep their claims.
func (s *Scheduler) UnregisterResource(rs ...*Resource) {
	for _, r := range rs {
		s.resources = slices.DeleteFunc(s.resources, func(x *Resource) bool { return x == r })
		delete(s.defaults, r)
	}
}

// Resources returns the registered resources in registration order.
func (s *Scheduler) Resources() []*Resource {
	return slices.Clone(s.resources)
}

// SetDefaultTask sets the task scheduled whenever r is unclaimed at the end of
// a tick. The task must require r. Unregistered resources are registered.
func (s *Scheduler) SetDefaultTask(r *Resource, t Task) error {
	if r == nil {
		return &IllegalUseError{Task: taskName(t), Reason: "default task for nil resource"}
	}
	if t == nil {
		return &IllegalUseError{Task: "<nil>", Resource: r.Name(), Reason: "default task must not be nil"}
	}
	if err := s.validate(t); err != nil {
		return err
	}
	if !slices.Contains(t.Requirements(), r) {
		return &IllegalUseError{Task: t.Name(), Resource: r.Name(), Reason: "default task must require its resource"}
	}
	if t.InterruptionBehavior() == CancelIncoming {
		s.logger.Warn("non-interruptible default task will block other tasks", "task", t.Name(), "resource", r.Name())
	}
	if !slices.Contains(s.resources, r) {
		s.resources = append(s.resources, r)
	}
	s.defaults[r] = t
	return nil
}

// RemoveDefaultTask clears r's default task. A running default task is not cancelled.
func (s *Scheduler) RemoveDefaultTask(r *Resource) {
	delete(s.defaults, r)
}

// DefaultTask returns r's default task, or nil.
func (s *Scheduler) DefaultTask(r *Resource) Task {
	return s.defaults[r]
}

// OnTaskInitialize registers fn to run after any task initializes.
func (s *Scheduler) OnTaskInitialize(fn func(Task)) {
	s.initHooks = append(s.initHooks, fn)
}

// OnTaskExecute registers fn to run after any task executes.
func (s *Scheduler) OnTaskExecute(fn func(Task)) {
	s.executeHooks = append(s.executeHooks, fn)
}

// OnTaskInterrupt registers fn to run after any task is interrupted. The
// interruptor is nil for cancellations.
func (s *Scheduler) OnTaskInterrupt(fn func(task, interruptor Task)) {
	s.interruptHooks = append(s.interruptHooks, fn)
}

// OnTaskFinish registers fn to run after any task finishes on its own.
func (s *Scheduler) OnTaskFinish(fn func(Task)) {
	s.finishHooks = append(s.finishHooks, fn)
}

// DefaultEventLoop returns the loop polled unless another is made active.
func (s *Scheduler) DefaultEventLoop() *event.Loop { return s.defaultLoop }

// ActiveEventLoop returns the loop polled each tick.
func (s *Scheduler) ActiveEventLoop() *event.Loop { return s.activeLoop }

// SetActiveEventLoop switches the polled loop. Nil restores the default loop.
func (s *Scheduler) SetActiveEventLoop(l *event.Loop) {
	if l == nil {
		l = s.defaultLoop
	}
	s.activeLoop = l
}

// IsComposed reports whether t belongs to a scheduled composition.
func (s *Scheduler) IsComposed(t Task) bool {
	if !hashable(t) {
		return false
	}
	_, ok := s.composed[t]
	return ok
}

// RemoveComposed releases tasks from their composition so they may be
// scheduled on their own or reused.
func (s *Scheduler) RemoveComposed(tasks ...Task) {
	for _, t := range tasks {
		if hashable(t) {
			delete(s.composed, t)
		}
	}
}

// ClearComposed forgets every composition.
func (s *Scheduler) ClearComposed() {
	clear(s.composed)
}

func (s *Scheduler) compose(root Task) {
	var walk func(Task)
	walk = func(parent Task) {
		c, ok := parent.(Composite)
		if !ok {
			return
		}
		for _, child := range c.Children() {
			s.composed[child] = root
			walk(child)
		}
	}
	walk(root)
}

// validate rejects tasks the scheduler cannot track: nil or non-comparable
// tasks, members of another composition, and compositions that reuse a task.
func (s *Scheduler) validate(root Task) error {
	if root == nil {
		return &IllegalUseError{Task: "<nil>", Reason: "task is nil"}
	}
	if !hashable(root) {
		return &IllegalUseError{Task: root.Name(), Reason: "task type is not comparable"}
	}
	if owner, ok := s.composed[root]; ok {
		return &IllegalUseError{Task: root.Name(), Reason: fmt.Sprintf("already part of composition %q", owner.Name())}
	}
	return s.validateChildren(root, root, map[Task]bool{root: true})
}

func (s *Scheduler) validateChildren(root, parent Task, seen map[Task]bool) error {
	c, ok := parent.(Composite)
	if !ok {
		return nil
	}
	for _, child := range c.Children() {
		switch {
		case child == nil:
			return &IllegalUseError{Task: parent.Name(), Reason: "composition contains a nil task"}
		case !hashable(child):
			return &IllegalUseError{Task: child.Name(), Reason: "task type is not comparable"}
		case seen[child]:
			return &IllegalUseError{Task: child.Name(), Reason: fmt.Sprintf("appears more than once in composition %q", root.Name())}
		case s.byTask[child] != nil:
			return &IllegalUseError{Task: child.Name(), Reason: "scheduled on its own and cannot be composed"}
		}
		if owner, ok := s.composed[child]; ok && owner != root {
			return &IllegalUseError{Task: child.Name(), Reason: fmt.Sprintf("already part of composition %q", owner.Name())}
		}
		seen[child] = true
		if err := s.validateChildren(root, child, seen); err != nil {
			return err
		}
	}
	return nil
}

func hashable(t Task) bool {
	return t != nil && reflect.TypeOf(t).Comparable()
}

func taskName(t Task) string {
	if t == nil {
		return "<nil>"
	}
	return t.Name()
}
