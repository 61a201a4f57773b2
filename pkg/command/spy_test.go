package command

import (
	"fmt"
	"io"
	"log/slog"
)

// spy records its lifecycle calls into a shared log.
type spy struct {
	Base
	log       *[]string
	finishAt  int // executes until finished; 0 never finishes
	runs      int
	inits     int
	executes  int
	ends      []bool
	onExecute func()
	onEnd     func(bool)
}

func newSpy(name string, log *[]string, finishAt int, reqs ...*Resource) *spy {
	p := &spy{log: log, finishAt: finishAt}
	p.SetName(name)
	p.AddRequirements(reqs...)
	return p
}

func (p *spy) record(format string, args ...any) {
	if p.log != nil {
		*p.log = append(*p.log, p.Name()+"."+fmt.Sprintf(format, args...))
	}
}

func (p *spy) Initialize() {
	p.inits++
	p.runs = 0
	p.record("init")
}

func (p *spy) Execute() {
	p.runs++
	p.executes++
	p.record("exec")
	if p.onExecute != nil {
		p.onExecute()
	}
}

func (p *spy) IsFinished() bool {
	return p.finishAt > 0 && p.runs >= p.finishAt
}

func (p *spy) End(interrupted bool) {
	p.ends = append(p.ends, interrupted)
	p.record("end(%v)", interrupted)
	if p.onEnd != nil {
		p.onEnd(interrupted)
	}
}

func testScheduler(opts ...Option) *Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(append([]Option{WithLogger(logger)}, opts...)...)
}
