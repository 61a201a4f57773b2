package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/cmdbase/internal/robot"
	"github.com/me/cmdbase/pkg/command"
	"github.com/me/cmdbase/pkg/event"
	"github.com/me/cmdbase/pkg/model"
	"github.com/me/cmdbase/pkg/trigger"
)

// Stepper advances a simulated clock.
type Stepper interface {
	Step(d time.Duration)
}

// Option configures Compile.
type Option func(*Program)

// WithStepper advances clk by one loop period before every Step, for
// simulations driven by a fake clock.
func WithStepper(clk Stepper) Option {
	return func(p *Program) { p.stepper = clk }
}

// Program is a scenario compiled onto a robot loop.
type Program struct {
	doc     *Document
	loop    *robot.Loop
	sched   *command.Scheduler
	env     *env
	logger  *slog.Logger
	stepper Stepper

	resources  map[string]*command.Resource
	triggers   []*trigger.Trigger
	modes      map[uint64]model.RobotMode
	executions map[string]int
}

// Compile validates doc and builds its resources, default tasks, triggers
// and initial schedule on loop's scheduler. Call it before the loop starts,
// or from the loop goroutine.
func Compile(doc *Document, loop *robot.Loop, logger *slog.Logger, opts ...Option) (*Program, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	s := loop.Scheduler()
	p := &Program{
		doc:        doc,
		loop:       loop,
		sched:      s,
		logger:     logger.With("component", "scenario", "scenario", doc.Name),
		resources:  make(map[string]*command.Resource),
		modes:      make(map[uint64]model.RobotMode),
		executions: make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.env = newEnv(doc.Inputs, s.Ticks, loop.Mode, p.logger)

	for _, spec := range doc.Resources {
		r := command.NewResource(spec.Name)
		p.resources[spec.Name] = r
		s.RegisterResource(r)
	}
	for i, spec := range doc.Resources {
		if spec.Default == "" {
			continue
		}
		t, err := p.build(spec.Default)
		if err != nil {
			return nil, err
		}
		if err := s.SetDefaultTask(p.resources[spec.Name], t); err != nil {
			return nil, fmt.Errorf("resources[%d].default: %w", i, err)
		}
	}

	for i, spec := range doc.Triggers {
		if err := p.bindTrigger(fmt.Sprintf("triggers[%d]", i), spec); err != nil {
			return nil, err
		}
	}

	for _, m := range doc.Modes {
		p.modes[m.Tick] = m.Mode
	}
	if m, ok := p.modes[s.Ticks()+1]; ok {
		if err := loop.SetMode(m); err != nil {
			return nil, err
		}
	}
	loop.OnTick(func(_ context.Context, tick uint64) error {
		if m, ok := p.modes[tick+1]; ok {
			return loop.SetMode(m)
		}
		return nil
	})
	s.OnTaskExecute(func(t command.Task) { p.executions[t.Name()]++ })

	for i, name := range doc.Schedule {
		t, err := p.build(name)
		if err != nil {
			return nil, err
		}
		if err := s.Schedule(t); err != nil {
			return nil, fmt.Errorf("schedule[%d]: %w", i, err)
		}
	}

	p.logger.Info("scenario compiled",
		"resources", len(doc.Resources), "tasks", len(doc.Tasks), "triggers", len(doc.Triggers))
	return p, nil
}

func (p *Program) bindTrigger(field string, spec TriggerSpec) error {
	cond, err := p.env.condition(field+".when", spec.When)
	if err != nil {
		return err
	}
	tr := trigger.New(p.sched, cond)
	if spec.DebounceTicks > 0 {
		d := time.Duration(spec.DebounceTicks) * p.loop.Config().Period
		tr = tr.Debounce(d, event.DebounceRising)
	}
	switch spec.Edge {
	case "rising":
		tr = tr.RisingEdge()
	case "falling":
		tr = tr.FallingEdge()
	}

	binders := map[string]func(command.Task) error{
		"on_true":         tr.OnTrue,
		"on_false":        tr.OnFalse,
		"while_true":      tr.WhileTrue,
		"while_false":     tr.WhileFalse,
		"toggle_on_true":  tr.ToggleOnTrue,
		"toggle_on_false": tr.ToggleOnFalse,
	}
	for _, b := range spec.bindings() {
		t, err := p.build(b[1])
		if err != nil {
			return err
		}
		if err := binders[b[0]](t); err != nil {
			return fmt.Errorf("%s.%s: %w", field, b[0], err)
		}
	}
	p.triggers = append(p.triggers, tr)
	return nil
}

type requirer interface {
	AddRequirements(rs ...*command.Resource)
}

// build creates a new task instance from the named spec.
func (p *Program) build(name string) (command.Task, error) {
	spec, ok := p.doc.task(name)
	if !ok {
		return nil, fmt.Errorf("unknown task %q", name)
	}
	field := fmt.Sprintf("tasks[%s]", name)

	children := make([]command.Task, 0, len(spec.Children))
	for _, c := range spec.Children {
		t, err := p.build(c)
		if err != nil {
			return nil, err
		}
		children = append(children, t)
	}

	var t command.Task
	switch spec.Kind {
	case KindRun:
		t = command.Idle()
	case KindInstant:
		if spec.Message != "" {
			t = command.Print(p.logger, spec.Message)
		} else {
			t = command.RunOnce(nil)
		}
	case KindWait:
		t = command.WaitClock(p.sched.Clock(), spec.Duration)
	case KindWaitTicks:
		t = command.WaitTicks(spec.Ticks)
	case KindWaitUntil:
		cond, err := p.env.condition(field+".until", spec.Until)
		if err != nil {
			return nil, err
		}
		t = command.WaitUntil(cond)
	case KindSequence:
		t = command.Sequence(children...)
	case KindParallel:
		t = command.Parallel(children...)
	case KindRace:
		t = command.Race(children...)
	case KindDeadline:
		t = command.Deadline(children[0], children[1:]...)
	case KindRepeat:
		t = command.Repeat(children[0])
	default:
		return nil, fmt.Errorf("%s.kind: unknown kind %q", field, spec.Kind)
	}

	if len(spec.Requires) > 0 {
		r, ok := t.(requirer)
		if !ok {
			return nil, fmt.Errorf("%s.requires: %s tasks take no requirements", field, spec.Kind)
		}
		for _, name := range spec.Requires {
			r.AddRequirements(p.resources[name])
		}
	}

	if spec.Until != "" && spec.Kind != KindWaitUntil {
		cond, err := p.env.condition(field+".until", spec.Until)
		if err != nil {
			return nil, err
		}
		t = command.Until(t, cond)
	}
	if spec.Timeout > 0 {
		t = command.WithTimeoutClock(t, p.sched.Clock(), spec.Timeout)
	}
	if spec.RunsWhenDisabled {
		t = command.IgnoringDisable(t, true)
	}
	if spec.Interruptible != nil && !*spec.Interruptible {
		t = command.WithInterruptBehavior(t, command.CancelIncoming)
	}
	return command.Named(t, name), nil
}

// Name returns the scenario name.
func (p *Program) Name() string { return p.doc.Name }

// Ticks returns the scenario's requested run length.
func (p *Program) Ticks() int { return p.doc.Ticks }

// Loop returns the loop the program was compiled onto.
func (p *Program) Loop() *robot.Loop { return p.loop }

// Resource returns the named resource, or nil.
func (p *Program) Resource(name string) *command.Resource { return p.resources[name] }

// Executions returns how often a scheduled task with the given name has
// executed. Tasks nested in groups are counted under the group.
func (p *Program) Executions(name string) int { return p.executions[name] }

// Step advances the simulated clock, if any, and runs one loop tick.
func (p *Program) Step(ctx context.Context) error {
	if p.stepper != nil {
		p.stepper.Step(p.loop.Config().Period)
	}
	return p.loop.Tick(ctx)
}

// Run steps n ticks. Tick errors are logged and returned joined once all
// ticks have run.
func (p *Program) Run(ctx context.Context, n int) error {
	var errs []error
	for range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.Step(ctx); err != nil {
			p.logger.Error("tick failed", "tick", p.sched.Ticks(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
