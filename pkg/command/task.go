package command

import "slices"

// InterruptionBehavior decides what happens when a task is asked to give up a
// resource to an incoming task.
type InterruptionBehavior int

const (
	// CancelSelf lets the incoming task interrupt this one.
	CancelSelf InterruptionBehavior = iota
	// CancelIncoming keeps this task running and rejects the incoming one.
	CancelIncoming
)

func (b InterruptionBehavior) String() string {
	if b == CancelIncoming {
		return "cancel_incoming"
	}
	return "cancel_self"
}

// Task is a unit of behavior with a lifecycle driven by the Scheduler:
// Initialize once, Execute once per tick until IsFinished reports true, then End.
//
// Tasks are identified by pointer; implementations must be pointer types.
// Requirements must not change while the task is scheduled.
type Task interface {
	Name() string
	Initialize()
	Execute()
	IsFinished() bool
	End(interrupted bool)
	Requirements() []*Resource
	RunsWhenDisabled() bool
	InterruptionBehavior() InterruptionBehavior
}

// ResourceInterruption is implemented by tasks whose interruption behavior
// differs per resource.
type ResourceInterruption interface {
	InterruptionBehaviorFor(r *Resource) InterruptionBehavior
}

// Composite is implemented by tasks that drive other tasks.
type Composite interface {
	Children() []Task
}

func behaviorFor(t Task, r *Resource) InterruptionBehavior {
	if ri, ok := t.(ResourceInterruption); ok {
		return ri.InterruptionBehaviorFor(r)
	}
	return t.InterruptionBehavior()
}

// Base provides the bookkeeping half of a Task. Embed it and override the
// lifecycle methods you need.
type Base struct {
	name             string
	requirements     []*Resource
	runsWhenDisabled bool
	interruption     InterruptionBehavior
	perResource      map[*Resource]InterruptionBehavior
}

func (b *Base) Name() string {
	if b.name == "" {
		return "Task"
	}
	return b.name
}

// SetName sets the display name.
func (b *Base) SetName(name string) {
	b.name = name
}

func (b *Base) Initialize()      {}
func (b *Base) Execute()         {}
func (b *Base) IsFinished() bool { return false }
func (b *Base) End(bool)         {}

// Requirements returns the declared resources in declaration order.
func (b *Base) Requirements() []*Resource {
	return b.requirements
}

// AddRequirements declares additional resources. Duplicates and nils are dropped.
func (b *Base) AddRequirements(rs ...*Resource) {
	for _, r := range rs {
		if r != nil && !slices.Contains(b.requirements, r) {
			b.requirements = append(b.requirements, r)
		}
	}
}

// HasRequirement reports whether r is among the declared resources.
func (b *Base) HasRequirement(r *Resource) bool {
	return slices.Contains(b.requirements, r)
}

func (b *Base) RunsWhenDisabled() bool {
	return b.runsWhenDisabled
}

func (b *Base) SetRunsWhenDisabled(v bool) {
	b.runsWhenDisabled = v
}

func (b *Base) InterruptionBehavior() InterruptionBehavior {
	return b.interruption
}

func (b *Base) SetInterruptionBehavior(ib InterruptionBehavior) {
	b.interruption = ib
}

// SetInterruptionBehaviorFor overrides the interruption behavior for one resource.
func (b *Base) SetInterruptionBehaviorFor(r *Resource, ib InterruptionBehavior) {
	if b.perResource == nil {
		b.perResource = make(map[*Resource]InterruptionBehavior)
	}
	b.perResource[r] = ib
}

// InterruptionBehaviorFor returns the behavior for r, falling back to the
// task-wide behavior.
func (b *Base) InterruptionBehaviorFor(r *Resource) InterruptionBehavior {
	if ib, ok := b.perResource[r]; ok {
		return ib
	}
	return b.interruption
}

// Func is a task assembled from closures. Nil closures are no-ops; a nil
// Finished means the task never finishes on its own.
type Func struct {
	Base
	OnInitialize func()
	OnExecute    func()
	OnEnd        func(interrupted bool)
	Finished     func() bool
}

// Functional builds a Func requiring reqs.
func Functional(initialize, execute func(), end func(bool), finished func() bool, reqs ...*Resource) *Func {
	f := &Func{OnInitialize: initialize, OnExecute: execute, OnEnd: end, Finished: finished}
	f.SetName("Functional")
	f.AddRequirements(reqs...)
	return f
}

func (f *Func) Initialize() {
	if f.OnInitialize != nil {
		f.OnInitialize()
	}
}

func (f *Func) Execute() {
	if f.OnExecute != nil {
		f.OnExecute()
	}
}

func (f *Func) IsFinished() bool {
	return f.Finished != nil && f.Finished()
}

func (f *Func) End(interrupted bool) {
	if f.OnEnd != nil {
		f.OnEnd(interrupted)
	}
}

// inherit derives a composite's flags from its children: requirements are the
// union, it runs when disabled only if every child does, and it is interruptible
// if any child is.
func inherit(b *Base, children []Task) {
	b.runsWhenDisabled = true
	b.interruption = CancelIncoming
	if len(children) == 0 {
		b.interruption = CancelSelf
	}
	for _, c := range children {
		if c == nil {
			continue
		}
		b.AddRequirements(c.Requirements()...)
		if !c.RunsWhenDisabled() {
			b.runsWhenDisabled = false
		}
		if c.InterruptionBehavior() == CancelSelf {
			b.interruption = CancelSelf
		}
	}
}
