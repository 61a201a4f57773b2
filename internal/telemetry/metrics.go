// Package telemetry exports scheduler activity as OpenTelemetry metrics.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/me/cmdbase/internal/robot"
	"github.com/me/cmdbase/pkg/command"
	"github.com/me/cmdbase/pkg/model"
)

const meterName = "github.com/me/cmdbase"

// Metrics holds the instruments fed by scheduler and loop hooks.
type Metrics struct {
	initialized metric.Int64Counter
	interrupted metric.Int64Counter
	finished    metric.Int64Counter
	running     metric.Int64UpDownCounter
	ticks       metric.Int64Counter
	overruns    metric.Int64Counter
	modes       metric.Int64Counter

	lastOverruns uint64
}

// New creates the instruments on mp. A nil mp uses the global provider.
func New(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	var m Metrics
	var err error
	if m.initialized, err = meter.Int64Counter("cmdbase.tasks.initialized",
		metric.WithDescription("Tasks admitted by the scheduler")); err != nil {
		return nil, fmt.Errorf("create initialized counter: %w", err)
	}
	if m.interrupted, err = meter.Int64Counter("cmdbase.tasks.interrupted",
		metric.WithDescription("Tasks ended by cancellation or interruption")); err != nil {
		return nil, fmt.Errorf("create interrupted counter: %w", err)
	}
	if m.finished, err = meter.Int64Counter("cmdbase.tasks.finished",
		metric.WithDescription("Tasks that ended on their own")); err != nil {
		return nil, fmt.Errorf("create finished counter: %w", err)
	}
	if m.running, err = meter.Int64UpDownCounter("cmdbase.tasks.running",
		metric.WithDescription("Tasks currently holding the scheduler")); err != nil {
		return nil, fmt.Errorf("create running counter: %w", err)
	}
	if m.ticks, err = meter.Int64Counter("cmdbase.loop.ticks"); err != nil {
		return nil, fmt.Errorf("create ticks counter: %w", err)
	}
	if m.overruns, err = meter.Int64Counter("cmdbase.loop.overruns",
		metric.WithDescription("Ticks that took longer than the loop period")); err != nil {
		return nil, fmt.Errorf("create overruns counter: %w", err)
	}
	if m.modes, err = meter.Int64Counter("cmdbase.robot.mode_changes"); err != nil {
		return nil, fmt.Errorf("create mode counter: %w", err)
	}
	return &m, nil
}

// Attach feeds task counters from s's lifecycle hooks.
func (m *Metrics) Attach(s *command.Scheduler) {
	ctx := context.Background()
	s.OnTaskInitialize(func(t command.Task) {
		attrs := metric.WithAttributes(attribute.String("task", t.Name()))
		m.initialized.Add(ctx, 1, attrs)
		m.running.Add(ctx, 1)
	})
	s.OnTaskInterrupt(func(t, interruptor command.Task) {
		m.interrupted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("task", t.Name()),
			attribute.Bool("cancelled", interruptor == nil),
		))
		m.running.Add(ctx, -1)
	})
	s.OnTaskFinish(func(t command.Task) {
		m.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("task", t.Name())))
		m.running.Add(ctx, -1)
	})
}

// AttachLoop feeds task counters from l's scheduler plus tick, overrun and
// mode counters.
func (m *Metrics) AttachLoop(l *robot.Loop) {
	m.Attach(l.Scheduler())
	l.OnModeChange(func(_, to model.RobotMode, _ uint64) {
		m.modes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("mode", to.String())))
	})
	l.OnTick(func(ctx context.Context, _ uint64) error {
		m.ticks.Add(ctx, 1)
		// Overruns are counted after hooks run, so this trails by one tick.
		if n := l.Overruns(); n > m.lastOverruns {
			m.overruns.Add(ctx, int64(n-m.lastOverruns))
			m.lastOverruns = n
		}
		return nil
	})
}
