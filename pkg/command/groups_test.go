package command

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence(t *testing.T) {
	s := testScheduler()
	var log []string
	a := newSpy("a", &log, 1)
	b := newSpy("b", &log, 2)
	seq := Sequence(a, b)

	require.NoError(t, s.Schedule(seq))
	assert.Equal(t, []string{"a.init"}, log)

	require.NoError(t, s.Tick())
	assert.Equal(t, []string{"a.init", "a.exec", "a.end(false)", "b.init"}, log)

	require.NoError(t, s.Tick())
	require.NoError(t, s.Tick())
	assert.Equal(t, []string{
		"a.init", "a.exec", "a.end(false)",
		"b.init", "b.exec", "b.exec", "b.end(false)",
	}, log)
	assert.False(t, s.IsScheduled(seq))
}

func TestSequence_Interrupted(t *testing.T) {
	s := testScheduler()
	var log []string
	a := newSpy("a", &log, 0)
	b := newSpy("b", &log, 1)
	seq := Sequence(a, b)

	require.NoError(t, s.Schedule(seq))
	require.NoError(t, s.Tick())
	require.NoError(t, s.Cancel(seq))

	assert.Equal(t, []string{"a.init", "a.exec", "a.end(true)"}, log)
	assert.Zero(t, b.inits)
}

func TestParallel(t *testing.T) {
	s := testScheduler()
	a := newSpy("a", nil, 1)
	b := newSpy("b", nil, 3)
	par := Parallel(a, b)

	require.NoError(t, s.Schedule(par))
	require.NoError(t, s.Tick())
	assert.Equal(t, []bool{false}, a.ends)
	assert.True(t, s.IsScheduled(par))

	require.NoError(t, s.Tick())
	assert.Equal(t, 1, a.executes)
	assert.Equal(t, 2, b.executes)

	require.NoError(t, s.Tick())
	assert.Equal(t, []bool{false}, b.ends)
	assert.False(t, s.IsScheduled(par))
}

func TestParallel_InterruptedEndsOnlyRunningChildren(t *testing.T) {
	s := testScheduler()
	a := newSpy("a", nil, 1)
	b := newSpy("b", nil, 0)
	par := Parallel(a, b)

	require.NoError(t, s.Schedule(par))
	require.NoError(t, s.Tick())
	require.NoError(t, s.Cancel(par))

	assert.Equal(t, []bool{false}, a.ends)
	assert.Equal(t, []bool{true}, b.ends)
}

func TestRace(t *testing.T) {
	s := testScheduler()
	x := newSpy("x", nil, 2)
	y := newSpy("y", nil, 0)
	race := Race(x, y)

	require.NoError(t, s.Schedule(race))
	require.NoError(t, s.Tick())
	assert.True(t, s.IsScheduled(race))

	require.NoError(t, s.Tick())
	assert.False(t, s.IsScheduled(race))
	assert.Equal(t, []bool{false}, x.ends)
	assert.Equal(t, []bool{true}, y.ends)
	assert.Equal(t, 2, y.executes)
}

func TestDeadline(t *testing.T) {
	s := testScheduler()
	d := newSpy("d", nil, 2)
	fast := newSpy("fast", nil, 1)
	slow := newSpy("slow", nil, 0)
	g := Deadline(d, fast, slow)

	require.NoError(t, s.Schedule(g))
	require.NoError(t, s.Tick())
	assert.Equal(t, []bool{false}, fast.ends)

	require.NoError(t, s.Tick())
	assert.False(t, s.IsScheduled(g))
	assert.Equal(t, []bool{false}, d.ends)
	assert.Equal(t, []bool{true}, slow.ends)
	assert.Equal(t, []bool{false}, fast.ends)
}

func TestEmptyGroupsFinishOnFirstTick(t *testing.T) {
	for _, g := range []Task{Sequence(), Parallel(), Race()} {
		s := testScheduler()
		require.NoError(t, s.Schedule(g))
		assert.True(t, s.IsScheduled(g), g.Name())
		require.NoError(t, s.Tick())
		assert.False(t, s.IsScheduled(g), g.Name())
	}
}

func TestEmptyGroupsScheduledByConditionFinishSameTick(t *testing.T) {
	for _, g := range []Task{Sequence(), Parallel(), Race()} {
		s := testScheduler()
		pressed := false
		var finishedAt uint64
		s.OnTaskFinish(func(Task) { finishedAt = s.Ticks() })
		require.NoError(t, s.DefaultEventLoop().Bind(func() {
			if pressed {
				require.NoError(t, s.Schedule(g))
			}
		}))

		require.NoError(t, s.Tick())
		assert.False(t, s.IsScheduled(g), g.Name())

		pressed = true
		require.NoError(t, s.Tick())
		assert.False(t, s.IsScheduled(g), "%s still scheduled after the tick that admitted it", g.Name())
		assert.Equal(t, uint64(2), finishedAt, g.Name())
	}
}

func TestConditionScheduledTaskWaitsForNextTick(t *testing.T) {
	s := testScheduler()
	p := newSpy("p", nil, 1)
	g := Sequence(p)
	pressed := false
	require.NoError(t, s.DefaultEventLoop().Bind(func() {
		if pressed {
			require.NoError(t, s.Schedule(g))
		}
	}))

	pressed = true
	require.NoError(t, s.Tick())
	assert.True(t, s.IsScheduled(g))
	assert.Equal(t, 1, p.inits)
	assert.Equal(t, 0, p.executes)

	pressed = false
	require.NoError(t, s.Tick())
	assert.Equal(t, 1, p.executes)
	assert.False(t, s.IsScheduled(g))
}

func TestGroupInheritsFlags(t *testing.T) {
	r1, r2 := NewResource("r1"), NewResource("r2")
	a := newSpy("a", nil, 0, r1)
	b := newSpy("b", nil, 0, r2, r1)
	a.SetInterruptionBehavior(CancelIncoming)
	b.SetInterruptionBehavior(CancelIncoming)
	a.SetRunsWhenDisabled(true)

	g := Parallel(a, b)
	assert.Equal(t, []*Resource{r1, r2}, g.Requirements())
	assert.Equal(t, CancelIncoming, g.InterruptionBehavior())
	assert.False(t, g.RunsWhenDisabled())
	assert.Equal(t, "Parallel(a, b)", g.Name())

	b.SetInterruptionBehavior(CancelSelf)
	b.SetRunsWhenDisabled(true)
	g = Parallel(a, b)
	assert.Equal(t, CancelSelf, g.InterruptionBehavior())
	assert.True(t, g.RunsWhenDisabled())
}

func TestGroupClaimsUnionOfChildren(t *testing.T) {
	s := testScheduler()
	r1, r2 := NewResource("r1"), NewResource("r2")
	holder := newSpy("holder", nil, 0, r2)
	require.NoError(t, s.Schedule(holder))

	seq := Sequence(newSpy("a", nil, 1, r1), newSpy("b", nil, 1, r2))
	require.NoError(t, s.Schedule(seq))

	assert.False(t, s.IsScheduled(holder))
	assert.Same(t, seq, s.Requiring(r1))
	assert.Same(t, seq, s.Requiring(r2))
}

func TestRepeat(t *testing.T) {
	s := testScheduler()
	a := newSpy("a", nil, 1)
	rep := Repeat(a)

	require.NoError(t, s.Schedule(rep))
	for range 3 {
		require.NoError(t, s.Tick())
	}
	assert.True(t, s.IsScheduled(rep))
	assert.Equal(t, 3, a.inits)
	assert.Equal(t, []bool{false, false, false}, a.ends)

	require.NoError(t, s.Cancel(rep))
	assert.Equal(t, []bool{false, false, false}, a.ends)
	assert.Equal(t, 3, a.inits)
}

func TestRepeat_InterruptedMidRun(t *testing.T) {
	s := testScheduler()
	a := newSpy("a", nil, 2)
	rep := Repeat(a)

	require.NoError(t, s.Schedule(rep))
	require.NoError(t, s.Tick())
	require.NoError(t, s.Cancel(rep))
	assert.Equal(t, []bool{true}, a.ends)
}

func TestProxy(t *testing.T) {
	s := testScheduler()
	r := NewResource("r")
	inner := newSpy("inner", nil, 2, r)
	p := Proxy(s, inner)
	assert.Empty(t, p.Requirements())

	require.NoError(t, s.Schedule(p))
	assert.True(t, s.IsScheduled(inner))
	assert.Same(t, inner, s.Requiring(r))

	require.NoError(t, s.Tick())
	require.NoError(t, s.Tick())
	assert.False(t, s.IsScheduled(inner))
	require.NoError(t, s.Tick())
	assert.False(t, s.IsScheduled(p))
}

func TestProxy_InSequenceWaitsForQueuedTask(t *testing.T) {
	s := testScheduler()
	inner := newSpy("inner", nil, 1)
	seq := Sequence(newSpy("first", nil, 1), Proxy(s, inner))

	require.NoError(t, s.Schedule(seq))
	require.NoError(t, s.Tick())
	assert.True(t, s.IsScheduled(inner))
	assert.True(t, s.IsScheduled(seq))

	require.NoError(t, s.Tick())
	require.NoError(t, s.Tick())
	assert.Equal(t, []bool{false}, inner.ends)
	assert.False(t, s.IsScheduled(seq))
}

func TestProxy_InterruptCancelsInner(t *testing.T) {
	s := testScheduler()
	inner := newSpy("inner", nil, 0)
	p := Proxy(s, inner)

	require.NoError(t, s.Schedule(p))
	require.NoError(t, s.Cancel(p))
	assert.False(t, s.IsScheduled(inner))
	assert.Equal(t, []bool{true}, inner.ends)
}

func TestProxy_InnerCancelErrorLogged(t *testing.T) {
	var buf bytes.Buffer
	s := testScheduler(WithPanicPolicy(PanicRecover), WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	inner := newSpy("inner", nil, 0)
	inner.onEnd = func(bool) { panic("stuck") }
	p := Proxy(s, inner)

	require.NoError(t, s.Schedule(p))
	require.NoError(t, s.Cancel(p))
	assert.False(t, s.IsScheduled(p))
	assert.False(t, s.IsScheduled(inner))
	assert.Contains(t, buf.String(), "proxied task not cancelled")
	assert.Contains(t, buf.String(), "task=inner")
}
