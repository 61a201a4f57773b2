package command

import (
	"slices"
	"sync/atomic"
)

var resourceSeq atomic.Uint64

// Resource is an exclusive-ownership token for a piece of hardware or a logical
// actuator. At most one running task may claim a resource at a time.
// Resources are compared by pointer identity.
type Resource struct {
	id       uint64
	name     string
	periodic func()
}

// ResourceOption configures a Resource.
type ResourceOption func(*Resource)

// WithPeriodic sets a function the scheduler calls once per tick, before conditions
// are polled, while the resource is registered.
func WithPeriodic(fn func()) ResourceOption {
	return func(r *Resource) { r.periodic = fn }
}

// NewResource creates a resource with the given display name.
func NewResource(name string, opts ...ResourceOption) *Resource {
	r := &Resource{id: resourceSeq.Add(1), name: name}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the display name of the resource.
func (r *Resource) Name() string {
	return r.name
}

func (r *Resource) String() string {
	return r.name
}

// Periodic runs the resource's periodic hook, if any.
func (r *Resource) Periodic() {
	if r.periodic != nil {
		r.periodic()
	}
}

// Run returns a task that calls fn every tick and never finishes.
func (r *Resource) Run(fn func()) *Func {
	return Run(fn, r)
}

// RunOnce returns a task that calls fn once and finishes.
func (r *Resource) RunOnce(fn func()) *Func {
	return RunOnce(fn, r)
}

// StartEnd returns a task that calls start on initialize and end when it stops.
func (r *Resource) StartEnd(start, end func()) *Func {
	return StartEnd(start, end, r)
}

// RunEnd returns a task that calls run every tick and end when it stops.
func (r *Resource) RunEnd(run, end func()) *Func {
	return RunEnd(run, end, r)
}

// Idle returns a task that holds the resource and does nothing.
func (r *Resource) Idle() *Func {
	return Idle(r)
}

// dedupeResources returns rs without nils or duplicates, preserving first occurrence.
func dedupeResources(rs []*Resource) []*Resource {
	out := make([]*Resource, 0, len(rs))
	for _, r := range rs {
		if r == nil || slices.Contains(out, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// sameResources reports whether a and b hold the same set of resources.
func sameResources(a, b []*Resource) bool {
	a, b = dedupeResources(a), dedupeResources(b)
	if len(a) != len(b) {
		return false
	}
	for _, r := range a {
		if !slices.Contains(b, r) {
			return false
		}
	}
	return true
}

// sortResources orders resources by creation.
func sortResources(rs []*Resource) {
	slices.SortFunc(rs, func(a, b *Resource) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
}

func resourceNames(rs []*Resource) []string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.name
	}
	return names
}
