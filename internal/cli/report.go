package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/me/cmdbase/internal/robot"
	"github.com/me/cmdbase/pkg/command"
	"github.com/me/cmdbase/pkg/model"
)

// attachReporter prints one line per lifecycle event and mode change.
func attachReporter(w io.Writer, l *robot.Loop) {
	s := l.Scheduler()
	line := func(kind model.EventKind, t command.Task, extra string) {
		names := make([]string, 0, len(t.Requirements()))
		for _, r := range t.Requirements() {
			names = append(names, r.Name())
		}
		fmt.Fprintf(w, "%6d  %-10s  %-24s  [%s]%s\n", s.Ticks(), kind, t.Name(), strings.Join(names, " "), extra)
	}

	s.OnTaskInitialize(func(t command.Task) { line(model.EventInitialize, t, "") })
	s.OnTaskInterrupt(func(t, by command.Task) {
		extra := ""
		if by != nil {
			extra = " by " + by.Name()
		}
		line(model.EventInterrupt, t, extra)
	})
	s.OnTaskFinish(func(t command.Task) { line(model.EventFinish, t, "") })
	l.OnModeChange(func(from, to model.RobotMode, tick uint64) {
		fmt.Fprintf(w, "%6d  %-10s  %s -> %s\n", tick, model.EventMode, from, to)
	})
}
