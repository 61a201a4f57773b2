package scenario

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/dop251/goja"

	"github.com/me/cmdbase/pkg/model"
)

// env evaluates condition expressions. Expressions see three globals:
// tick (current scheduler tick), mode (robot mode string) and inputs (an
// object of the scenario inputs at that tick). It is not safe for concurrent
// use; conditions are evaluated on the loop goroutine.
type env struct {
	vm     *goja.Runtime
	inputs map[string][]InputStep
	tick   func() uint64
	mode   func() model.RobotMode
	logger *slog.Logger
}

func newEnv(inputs map[string][]InputStep, tick func() uint64, mode func() model.RobotMode, logger *slog.Logger) *env {
	sorted := make(map[string][]InputStep, len(inputs))
	for name, steps := range inputs {
		steps = append([]InputStep(nil), steps...)
		sort.SliceStable(steps, func(i, j int) bool { return steps[i].Tick < steps[j].Tick })
		sorted[name] = steps
	}
	return &env{
		vm:     goja.New(),
		inputs: sorted,
		tick:   tick,
		mode:   mode,
		logger: logger,
	}
}

// inputsAt returns the value of every input at tick. An input with no step at
// or before tick is null.
func (e *env) inputsAt(tick uint64) map[string]any {
	out := make(map[string]any, len(e.inputs))
	for name, steps := range e.inputs {
		var v any
		for _, s := range steps {
			if s.Tick > tick {
				break
			}
			v = s.Value
		}
		out[name] = v
	}
	return out
}

func (e *env) eval(prog *goja.Program) (goja.Value, error) {
	tick := e.tick()
	if err := e.vm.Set("tick", tick); err != nil {
		return nil, fmt.Errorf("set tick: %w", err)
	}
	if err := e.vm.Set("mode", e.mode().String()); err != nil {
		return nil, fmt.Errorf("set mode: %w", err)
	}
	if err := e.vm.Set("inputs", e.inputsAt(tick)); err != nil {
		return nil, fmt.Errorf("set inputs: %w", err)
	}
	return e.vm.RunProgram(prog)
}

// condition compiles src into a predicate. Evaluation errors are logged and
// read as false.
func (e *env) condition(field, src string) (func() bool, error) {
	prog, err := goja.Compile(field, src, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return func() bool {
		v, err := e.eval(prog)
		if err != nil {
			e.logger.Warn("expression failed", "field", field, "error", err)
			return false
		}
		return v.ToBoolean()
	}, nil
}
