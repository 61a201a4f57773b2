package scenario

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/me/cmdbase/pkg/model"
)

type validator struct {
	doc       *Document
	resources map[string]bool
	tasks     map[string]int
	details   []model.FieldError
}

func (v *validator) fail(field, format string, args ...any) {
	v.details = append(v.details, model.FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) expr(field, src string) {
	if _, err := goja.Compile(field, src, false); err != nil {
		v.fail(field, "invalid expression: %v", err)
	}
}

func (v *validator) taskRef(field, name string) {
	if _, ok := v.tasks[name]; !ok {
		v.fail(field, "unknown task %q", name)
	}
}

// Validate checks names, references and expressions. The returned error is a
// *model.APIError whose details name each offending field.
func (d *Document) Validate() error {
	v := &validator{doc: d, resources: map[string]bool{}, tasks: map[string]int{}}

	if d.Ticks < 0 {
		v.fail("ticks", "must not be negative")
	}

	for i, r := range d.Resources {
		field := fmt.Sprintf("resources[%d]", i)
		switch {
		case r.Name == "":
			v.fail(field+".name", "required")
		case v.resources[r.Name]:
			v.fail(field+".name", "duplicate resource %q", r.Name)
		}
		v.resources[r.Name] = true
	}

	for i, t := range d.Tasks {
		field := fmt.Sprintf("tasks[%d]", i)
		if t.Name == "" {
			v.fail(field+".name", "required")
			continue
		}
		if _, dup := v.tasks[t.Name]; dup {
			v.fail(field+".name", "duplicate task %q", t.Name)
			continue
		}
		v.tasks[t.Name] = i
	}

	for i, t := range d.Tasks {
		v.validateTask(fmt.Sprintf("tasks[%d]", i), t)
	}
	v.checkCycles()

	for i, r := range d.Resources {
		if r.Default != "" {
			v.taskRef(fmt.Sprintf("resources[%d].default", i), r.Default)
		}
	}

	for i, tr := range d.Triggers {
		field := fmt.Sprintf("triggers[%d]", i)
		if tr.When == "" {
			v.fail(field+".when", "required")
		} else {
			v.expr(field+".when", tr.When)
		}
		if tr.DebounceTicks < 0 {
			v.fail(field+".debounce_ticks", "must not be negative")
		}
		if tr.Edge != "" && tr.Edge != "rising" && tr.Edge != "falling" {
			v.fail(field+".edge", "must be rising or falling")
		}
		bindings := tr.bindings()
		if len(bindings) == 0 {
			v.fail(field, "at least one binding is required")
		}
		for _, b := range bindings {
			v.taskRef(field+"."+b[0], b[1])
		}
	}

	for i, name := range d.Schedule {
		v.taskRef(fmt.Sprintf("schedule[%d]", i), name)
	}

	for i, m := range d.Modes {
		field := fmt.Sprintf("modes[%d]", i)
		if !m.Mode.Valid() {
			v.fail(field+".mode", "unknown mode %q", m.Mode)
		}
		if m.Tick == 0 {
			v.fail(field+".tick", "ticks start at 1")
		}
	}

	if len(v.details) > 0 {
		return model.NewValidationError("invalid scenario", v.details...)
	}
	return nil
}

func (v *validator) validateTask(field string, t TaskSpec) {
	if !t.Kind.Valid() {
		v.fail(field+".kind", "unknown kind %q", t.Kind)
		return
	}
	for j, r := range t.Requires {
		if !v.resources[r] {
			v.fail(fmt.Sprintf("%s.requires[%d]", field, j), "unknown resource %q", r)
		}
	}
	for j, c := range t.Children {
		v.taskRef(fmt.Sprintf("%s.children[%d]", field, j), c)
	}

	switch t.Kind {
	case KindWait:
		if t.Duration <= 0 {
			v.fail(field+".duration", "must be positive")
		}
	case KindWaitTicks:
		if t.Ticks <= 0 {
			v.fail(field+".ticks", "must be positive")
		}
	case KindWaitUntil:
		if t.Until == "" {
			v.fail(field+".until", "required for wait_until")
		}
	case KindRepeat:
		if len(t.Children) != 1 {
			v.fail(field+".children", "repeat takes exactly one child")
		}
	case KindDeadline:
		if len(t.Children) == 0 {
			v.fail(field+".children", "deadline needs a deadline child")
		}
	}
	if !t.Kind.IsComposite() && len(t.Children) > 0 {
		v.fail(field+".children", "%s tasks have no children", t.Kind)
	}
	if t.Until != "" {
		v.expr(field+".until", t.Until)
	}
	if t.Timeout < 0 {
		v.fail(field+".timeout", "must not be negative")
	}
}

// checkCycles rejects tasks that contain themselves.
func (v *validator) checkCycles() {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	var cycle string
	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case visiting:
			cycle = name
			return false
		case done:
			return true
		}
		state[name] = visiting
		if spec, ok := v.doc.task(name); ok {
			for _, c := range spec.Children {
				if _, known := v.tasks[c]; known && !visit(c) {
					return false
				}
			}
		}
		state[name] = done
		return true
	}
	for _, t := range v.doc.Tasks {
		if t.Name == "" || state[t.Name] != unvisited {
			continue
		}
		if !visit(t.Name) {
			v.fail(fmt.Sprintf("tasks[%d].children", v.tasks[cycle]), "task %q contains itself", cycle)
			return
		}
	}
}
