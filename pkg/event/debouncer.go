package event

import (
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

// DebounceType selects which edges a Debouncer filters.
type DebounceType int

const (
	// DebounceRising delays false→true changes.
	DebounceRising DebounceType = iota
	// DebounceFalling delays true→false changes.
	DebounceFalling
	// DebounceBoth delays changes in either direction.
	DebounceBoth
)

// String returns the lowercase name of the debounce type.
func (t DebounceType) String() string {
	switch t {
	case DebounceRising:
		return "rising"
	case DebounceFalling:
		return "falling"
	case DebounceBoth:
		return "both"
	}
	return fmt.Sprintf("DebounceType(%d)", int(t))
}

// Debouncer reports a changed input only after it has held the new value
// continuously for the debounce duration.
type Debouncer struct {
	clock    clock.PassiveClock
	duration time.Duration
	typ      DebounceType
	baseline bool
	since    time.Time
	started  bool
}

// NewDebouncer creates a debouncer. A nil clk uses the wall clock. The
// debounce window starts at the first Calculate, not at construction.
func NewDebouncer(d time.Duration, typ DebounceType, clk clock.PassiveClock) *Debouncer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Debouncer{
		clock:    clk,
		duration: d,
		typ:      typ,
		baseline: typ == DebounceFalling,
	}
}

// Calculate feeds the current input and returns the debounced value.
func (d *Debouncer) Calculate(input bool) bool {
	if !d.started || input == d.baseline {
		d.started = true
		d.since = d.clock.Now()
	}

	if d.clock.Since(d.since) >= d.duration {
		if d.typ == DebounceBoth {
			d.baseline = input
			d.since = d.clock.Now()
		}
		return input
	}
	return d.baseline
}

// Duration returns the configured debounce time.
func (d *Debouncer) Duration() time.Duration {
	return d.duration
}
