// Package scenario loads YAML robot scenarios: resources, tasks, triggers and
// a timeline of robot modes and inputs, compiled onto a robot loop.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/cmdbase/pkg/model"
)

// TaskKind selects how a task spec is built.
type TaskKind string

const (
	KindRun       TaskKind = "run"
	KindInstant   TaskKind = "instant"
	KindWait      TaskKind = "wait"
	KindWaitTicks TaskKind = "wait_ticks"
	KindWaitUntil TaskKind = "wait_until"
	KindSequence  TaskKind = "sequence"
	KindParallel  TaskKind = "parallel"
	KindRace      TaskKind = "race"
	KindDeadline  TaskKind = "deadline"
	KindRepeat    TaskKind = "repeat"
)

// IsComposite reports whether the kind is built from children.
func (k TaskKind) IsComposite() bool {
	switch k {
	case KindSequence, KindParallel, KindRace, KindDeadline, KindRepeat:
		return true
	}
	return false
}

// Valid reports whether k is a known kind.
func (k TaskKind) Valid() bool {
	switch k {
	case KindRun, KindInstant, KindWait, KindWaitTicks, KindWaitUntil:
		return true
	}
	return k.IsComposite()
}

// Document is a parsed scenario file.
type Document struct {
	Name      string                 `yaml:"name"`
	Ticks     int                    `yaml:"ticks"`
	Resources []ResourceSpec         `yaml:"resources"`
	Tasks     []TaskSpec             `yaml:"tasks"`
	Triggers  []TriggerSpec          `yaml:"triggers"`
	Schedule  []string               `yaml:"schedule"`
	Modes     []ModeStep             `yaml:"modes"`
	Inputs    map[string][]InputStep `yaml:"inputs"`
}

// ResourceSpec declares a resource and its optional default task.
type ResourceSpec struct {
	Name    string `yaml:"name"`
	Default string `yaml:"default"`
}

// TaskSpec declares a named task. Every reference to the name builds a fresh
// instance, so one spec can be bound to several triggers or groups.
type TaskSpec struct {
	Name             string        `yaml:"name"`
	Kind             TaskKind      `yaml:"kind"`
	Requires         []string      `yaml:"requires"`
	Children         []string      `yaml:"children"`
	Ticks            int           `yaml:"ticks"`
	Duration         time.Duration `yaml:"duration"`
	Until            string        `yaml:"until"`
	Timeout          time.Duration `yaml:"timeout"`
	Message          string        `yaml:"message"`
	Interruptible    *bool         `yaml:"interruptible"`
	RunsWhenDisabled bool          `yaml:"runs_when_disabled"`
}

// TriggerSpec binds tasks to a condition expression.
type TriggerSpec struct {
	Name          string `yaml:"name"`
	When          string `yaml:"when"`
	DebounceTicks int    `yaml:"debounce_ticks"`
	Edge          string `yaml:"edge"` // "", "rising" or "falling"

	OnTrue        string `yaml:"on_true"`
	OnFalse       string `yaml:"on_false"`
	WhileTrue     string `yaml:"while_true"`
	WhileFalse    string `yaml:"while_false"`
	ToggleOnTrue  string `yaml:"toggle_on_true"`
	ToggleOnFalse string `yaml:"toggle_on_false"`
}

// bindings lists the trigger's non-empty bindings as (field, task) pairs.
func (t TriggerSpec) bindings() [][2]string {
	all := [][2]string{
		{"on_true", t.OnTrue},
		{"on_false", t.OnFalse},
		{"while_true", t.WhileTrue},
		{"while_false", t.WhileFalse},
		{"toggle_on_true", t.ToggleOnTrue},
		{"toggle_on_false", t.ToggleOnFalse},
	}
	var out [][2]string
	for _, b := range all {
		if b[1] != "" {
			out = append(out, b)
		}
	}
	return out
}

// ModeStep switches the robot mode at the start of a tick.
type ModeStep struct {
	Tick uint64          `yaml:"tick"`
	Mode model.RobotMode `yaml:"mode"`
}

// InputStep sets an input's value from a tick onwards.
type InputStep struct {
	Tick  uint64 `yaml:"tick"`
	Value any    `yaml:"value"`
}

// Parse decodes a scenario document. Unknown keys are rejected.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("YAML parse error: empty document")
		}
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	return &doc, nil
}

// Load reads and parses a scenario file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// task returns the spec with the given name.
func (d *Document) task(name string) (TaskSpec, bool) {
	for _, t := range d.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskSpec{}, false
}
