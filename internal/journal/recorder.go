// Package journal records scheduler activity to a store.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/me/cmdbase/internal/robot"
	"github.com/me/cmdbase/internal/store"
	"github.com/me/cmdbase/pkg/command"
	"github.com/me/cmdbase/pkg/model"
)

// Recorder buffers lifecycle events from a scheduler and writes them to a
// store in batches. Hooks append under a lock, so Flush may run on any
// goroutine.
type Recorder struct {
	store  store.Store
	runID  string
	clock  clock.PassiveClock
	logger *slog.Logger

	mu     sync.Mutex
	sched  *command.Scheduler
	buffer []*model.Event
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option {
	return func(r *Recorder) { r.runID = id }
}

// WithClock sets the clock used to timestamp events.
func WithClock(clk clock.PassiveClock) Option {
	return func(r *Recorder) { r.clock = clk }
}

// NewRecorder creates a Recorder for a new run.
func NewRecorder(st store.Store, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		store:  st,
		runID:  uuid.NewString(),
		clock:  clock.RealClock{},
		logger: logger.With("component", "journal"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID returns the ID stamped on every recorded event.
func (r *Recorder) RunID() string { return r.runID }

// Attach registers lifecycle hooks on s.
func (r *Recorder) Attach(s *command.Scheduler) {
	r.mu.Lock()
	r.sched = s
	r.mu.Unlock()

	s.OnTaskInitialize(func(t command.Task) {
		r.record(s, model.EventInitialize, t, nil)
	})
	s.OnTaskInterrupt(func(t, interruptor command.Task) {
		r.record(s, model.EventInterrupt, t, interruptor)
	})
	s.OnTaskFinish(func(t command.Task) {
		r.record(s, model.EventFinish, t, nil)
	})
}

// AttachLoop records the loop's scheduler and mode changes, and flushes after
// every tick.
func (r *Recorder) AttachLoop(l *robot.Loop) {
	r.Attach(l.Scheduler())
	l.OnModeChange(func(_, to model.RobotMode, tick uint64) {
		r.append(&model.Event{Kind: model.EventMode, Mode: to, Tick: tick})
	})
	l.OnTick(func(ctx context.Context, _ uint64) error {
		return r.Flush(ctx)
	})
}

func (r *Recorder) record(s *command.Scheduler, kind model.EventKind, t, interruptor command.Task) {
	ev := &model.Event{
		Kind:     kind,
		TaskName: t.Name(),
		Tick:     s.Ticks(),
	}
	ev.TaskID, _ = s.TaskID(t)
	for _, res := range t.Requirements() {
		ev.Requirements = append(ev.Requirements, res.Name())
	}
	if interruptor != nil {
		ev.Interruptor = interruptor.Name()
	}
	r.append(ev)
}

func (r *Recorder) append(ev *model.Event) {
	ev.ID = uuid.NewString()
	ev.RunID = r.runID
	ev.At = r.clock.Now().UTC()
	r.mu.Lock()
	r.buffer = append(r.buffer, ev)
	r.mu.Unlock()
}

// Pending returns the number of buffered events.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// Flush writes buffered events. On failure the events stay buffered and are
// retried by the next Flush.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.buffer
	r.buffer = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	if err := r.store.AppendEvents(ctx, batch); err != nil {
		r.mu.Lock()
		r.buffer = append(batch, r.buffer...)
		r.mu.Unlock()
		r.logger.Error("journal flush failed", "events", len(batch), "error", err)
		return fmt.Errorf("flush journal: %w", err)
	}
	r.logger.Debug("journal flushed", "run_id", r.runID, "events", len(batch))
	return nil
}
