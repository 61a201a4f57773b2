package command

import "strings"

func groupName(kind string, tasks []Task) string {
	names := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t != nil {
			names = append(names, t.Name())
		}
	}
	return kind + "(" + strings.Join(names, ", ") + ")"
}

// SequenceGroup runs its children one after another. It finishes when the last
// child finishes.
type SequenceGroup struct {
	Base
	tasks []Task
	index int
}

// Sequence returns a group that runs tasks in order.
func Sequence(tasks ...Task) *SequenceGroup {
	g := &SequenceGroup{tasks: tasks, index: -1}
	g.SetName(groupName("Sequence", tasks))
	inherit(&g.Base, tasks)
	return g
}

func (g *SequenceGroup) Children() []Task { return g.tasks }

func (g *SequenceGroup) Initialize() {
	g.index = 0
	if len(g.tasks) > 0 {
		g.tasks[0].Initialize()
	}
}

func (g *SequenceGroup) Execute() {
	if g.index < 0 || g.index >= len(g.tasks) {
		return
	}
	cur := g.tasks[g.index]
	cur.Execute()
	if !cur.IsFinished() {
		return
	}
	cur.End(false)
	g.index++
	if g.index < len(g.tasks) {
		g.tasks[g.index].Initialize()
	}
}

func (g *SequenceGroup) IsFinished() bool {
	return g.index == len(g.tasks)
}

func (g *SequenceGroup) End(interrupted bool) {
	if interrupted && g.index >= 0 && g.index < len(g.tasks) {
		g.tasks[g.index].End(true)
	}
	g.index = -1
}

// ParallelGroup runs all children at once and finishes when every child has.
// Children that finish early are ended and not executed again.
type ParallelGroup struct {
	Base
	tasks   []Task
	running []bool
}

// Parallel returns a group that runs tasks together until all finish.
func Parallel(tasks ...Task) *ParallelGroup {
	g := &ParallelGroup{tasks: tasks}
	g.SetName(groupName("Parallel", tasks))
	inherit(&g.Base, tasks)
	return g
}

func (g *ParallelGroup) Children() []Task { return g.tasks }

func (g *ParallelGroup) Initialize() {
	g.running = make([]bool, len(g.tasks))
	for i, t := range g.tasks {
		g.running[i] = true
		t.Initialize()
	}
}

func (g *ParallelGroup) Execute() {
	for i, t := range g.tasks {
		if !g.running[i] {
			continue
		}
		t.Execute()
		if t.IsFinished() {
			t.End(false)
			g.running[i] = false
		}
	}
}

func (g *ParallelGroup) IsFinished() bool {
	for _, r := range g.running {
		if r {
			return false
		}
	}
	return true
}

func (g *ParallelGroup) End(interrupted bool) {
	for i, running := range g.running {
		if interrupted && running {
			g.tasks[i].End(true)
		}
		g.running[i] = false
	}
}

// RaceGroup runs all children at once and finishes as soon as any child does.
type RaceGroup struct {
	Base
	tasks    []Task
	finished bool
}

// Race returns a group that ends when the first of tasks finishes.
func Race(tasks ...Task) *RaceGroup {
	g := &RaceGroup{tasks: tasks}
	g.SetName(groupName("Race", tasks))
	inherit(&g.Base, tasks)
	return g
}

func (g *RaceGroup) Children() []Task { return g.tasks }

func (g *RaceGroup) Initialize() {
	g.finished = false
	for _, t := range g.tasks {
		t.Initialize()
	}
}

func (g *RaceGroup) Execute() {
	for _, t := range g.tasks {
		t.Execute()
		if t.IsFinished() {
			g.finished = true
		}
	}
}

func (g *RaceGroup) IsFinished() bool {
	return g.finished || len(g.tasks) == 0
}

// End ends every child, flagging as interrupted those that had not finished.
func (g *RaceGroup) End(bool) {
	for _, t := range g.tasks {
		t.End(!t.IsFinished())
	}
}

// DeadlineGroup runs all children at once and finishes when the deadline child
// does. Children still running at that point are interrupted.
type DeadlineGroup struct {
	Base
	deadline Task
	tasks    []Task
	running  []bool
	finished bool
}

// Deadline returns a group bounded by deadline.
func Deadline(deadline Task, others ...Task) *DeadlineGroup {
	tasks := append([]Task{deadline}, others...)
	g := &DeadlineGroup{deadline: deadline, tasks: tasks}
	g.SetName(groupName("Deadline", tasks))
	inherit(&g.Base, tasks)
	return g
}

func (g *DeadlineGroup) Children() []Task { return g.tasks }

func (g *DeadlineGroup) Initialize() {
	g.finished = false
	g.running = make([]bool, len(g.tasks))
	for i, t := range g.tasks {
		g.running[i] = true
		t.Initialize()
	}
}

func (g *DeadlineGroup) Execute() {
	for i, t := range g.tasks {
		if !g.running[i] {
			continue
		}
		t.Execute()
		if t.IsFinished() {
			t.End(false)
			g.running[i] = false
			if t == g.deadline {
				g.finished = true
			}
		}
	}
}

func (g *DeadlineGroup) IsFinished() bool {
	return g.finished
}

func (g *DeadlineGroup) End(bool) {
	for i, running := range g.running {
		if running {
			g.tasks[i].End(true)
		}
		g.running[i] = false
	}
}
