// Package robot drives a command scheduler at a fixed period and tracks the
// robot's operating mode.
package robot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/me/cmdbase/pkg/command"
	"github.com/me/cmdbase/pkg/model"
)

// ErrStopped is returned by Do once the loop has stopped.
var ErrStopped = errors.New("robot loop stopped")

// ErrAlreadyStarted is returned by Start on a loop that was started before.
var ErrAlreadyStarted = errors.New("robot loop already started")

// Driver runs a periodic control loop.
type Driver interface {
	// Start ticks at the configured period. Blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop shuts the loop down and waits for the current tick to finish.
	Stop() error

	// Tick runs a single iteration.
	Tick(ctx context.Context) error
}

// Config holds loop configuration.
type Config struct {
	Period   time.Duration
	Watchdog bool
	Mode     model.RobotMode
}

// DefaultConfig returns a 20ms loop starting disabled.
func DefaultConfig() Config {
	return Config{Period: 20 * time.Millisecond, Watchdog: true, Mode: model.RobotModeDisabled}
}

type request struct {
	fn   func()
	done chan struct{}
	// taken is set by whichever side gets the request first: the loop to run
	// fn, or Do to abandon it.
	taken atomic.Bool
}

// abandon withdraws r unless the loop already took it, in which case it
// waits for fn to return.
func (r *request) abandon(err error) error {
	if r.taken.CompareAndSwap(false, true) {
		return err
	}
	<-r.done
	return nil
}

// TickHook runs after every scheduler tick on the loop goroutine.
type TickHook func(ctx context.Context, tick uint64) error

// ModeHook runs on the loop goroutine when a requested mode takes effect.
type ModeHook func(from, to model.RobotMode, tick uint64)

// Loop implements Driver around a command.Scheduler.
//
// Only the loop goroutine touches the scheduler. Other goroutines hand work to
// it with Do and request mode changes with SetMode; both take effect at the
// start of the next tick.
type Loop struct {
	sched     *command.Scheduler
	schedOpts []command.Option
	config    Config
	clock     clock.WithTicker
	logger    *slog.Logger

	mu        sync.RWMutex
	mode      model.RobotMode
	requested model.RobotMode

	requests  chan *request
	tickHooks []TickHook
	modeHooks []ModeHook
	overruns  atomic.Uint64

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the clock used for ticking and overrun detection.
func WithClock(clk clock.WithTicker) Option {
	return func(l *Loop) { l.clock = clk }
}

// WithSchedulerOptions passes options to the scheduler the loop creates.
func WithSchedulerOptions(opts ...command.Option) Option {
	return func(l *Loop) { l.schedOpts = append(l.schedOpts, opts...) }
}

// NewLoop creates a loop and the scheduler it drives. The scheduler consults
// the loop's robot mode to decide whether the robot is disabled.
func NewLoop(cfg Config, logger *slog.Logger, opts ...Option) *Loop {
	if !cfg.Mode.Valid() {
		cfg.Mode = model.RobotModeDisabled
	}
	l := &Loop{
		config:    cfg,
		clock:     clock.RealClock{},
		logger:    logger.With("component", "robot"),
		mode:      cfg.Mode,
		requested: cfg.Mode,
		requests:  make(chan *request, 64),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	schedOpts := append([]command.Option{
		command.WithLogger(logger),
		command.WithClock(l.clock),
	}, l.schedOpts...)
	l.sched = command.New(append(schedOpts, command.WithDisabledFunc(l.Disabled))...)
	return l
}

// Scheduler returns the driven scheduler.
func (l *Loop) Scheduler() *command.Scheduler { return l.sched }

// Config returns the loop configuration.
func (l *Loop) Config() Config { return l.config }

// OnTick registers a hook run after every tick.
func (l *Loop) OnTick(h TickHook) { l.tickHooks = append(l.tickHooks, h) }

// OnModeChange registers a hook run when the mode changes.
func (l *Loop) OnModeChange(h ModeHook) { l.modeHooks = append(l.modeHooks, h) }

// Overruns returns how many ticks took longer than the period.
func (l *Loop) Overruns() uint64 { return l.overruns.Load() }

// Mode returns the mode in effect.
func (l *Loop) Mode() model.RobotMode {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.mode
}

// Disabled reports whether the robot is disabled.
func (l *Loop) Disabled() bool {
	return !l.Mode().IsEnabled()
}

// SetMode requests a mode change, applied at the start of the next tick.
func (l *Loop) SetMode(m model.RobotMode) error {
	if !m.Valid() {
		return model.NewValidationError("invalid robot mode", model.FieldError{Field: "mode", Message: "unknown mode " + string(m)})
	}
	l.mu.Lock()
	l.requested = m
	l.mu.Unlock()
	return nil
}

func (l *Loop) applyMode() {
	l.mu.Lock()
	from, to := l.mode, l.requested
	l.mode = to
	l.mu.Unlock()
	if from == to {
		return
	}
	tick := l.sched.Ticks() + 1
	l.logger.Info("robot mode changed", "from", from, "to", to, "tick", tick)
	for _, h := range l.modeHooks {
		h(from, to, tick)
	}
}

// Do runs fn on the loop goroutine before the next tick and waits for it.
// When ctx ends or the loop stops first, fn will not run, so callers may
// reuse anything fn captures.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	req := &request{fn: fn, done: make(chan struct{})}
	select {
	case l.requests <- req:
	case <-l.doneCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-l.doneCh:
		return req.abandon(ErrStopped)
	case <-ctx.Done():
		return req.abandon(ctx.Err())
	}
}

func (l *Loop) drainRequests() {
	for {
		select {
		case req := <-l.requests:
			if req.taken.CompareAndSwap(false, true) {
				req.fn()
				close(req.done)
			}
		default:
			return
		}
	}
}

// Start ticks until ctx is cancelled or Stop is called. A loop can be started
// once.
func (l *Loop) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	l.logger.Info("robot loop started", "period", l.config.Period, "mode", l.Mode())
	ticker := l.clock.NewTicker(l.config.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("robot loop stopping (context cancelled)")
			close(l.doneCh)
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("robot loop stopping (stop called)")
			close(l.doneCh)
			return nil
		case <-ticker.C():
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("tick error", "tick", l.sched.Ticks(), "error", err)
			}
		}
	}
}

// Stop shuts down a started loop and waits for the current tick to finish.
func (l *Loop) Stop() error {
	if !l.started.Load() {
		return nil
	}
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
	return nil
}

// Tick runs pending requests, applies a requested mode change, ticks the
// scheduler and then the tick hooks.
func (l *Loop) Tick(ctx context.Context) error {
	start := l.clock.Now()

	l.drainRequests()
	l.applyMode()

	err := l.sched.Tick()
	tick := l.sched.Ticks()
	for _, h := range l.tickHooks {
		if herr := h(ctx, tick); herr != nil {
			err = errors.Join(err, herr)
		}
	}

	if elapsed := l.clock.Since(start); l.config.Watchdog && elapsed > l.config.Period {
		l.overruns.Add(1)
		l.logger.Warn("loop overrun", "tick", tick, "elapsed", elapsed, "period", l.config.Period)
	}
	return err
}
