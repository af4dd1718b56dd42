// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package timing

// TimerState is the state of a DelayTimer.
type TimerState int

const (
	TimerIdle TimerState = iota
	TimerCounting
	TimerFired // elapsed, waiting for Reset
)

func (s TimerState) String() string {
	switch s {
	case TimerIdle:
		return "idle"
	case TimerCounting:
		return "counting"
	case TimerFired:
		return "fired"
	default:
		return "unknown"
	}
}

// DelayTimer is a debounce countdown. Start (re)arms it, Check reports
// whether the delay has elapsed since the last Start, Reset disarms it.
//
// Check keeps returning true once fired until Reset is called, so callers
// that want an edge must Reset right after a true Check.
type DelayTimer struct {
	clock Clock
	delay float64
	start float64
	state TimerState
}

// NewDelayTimer builds a timer with the given delay in seconds.
func NewDelayTimer(clock Clock, delay float64) *DelayTimer {
	return &DelayTimer{clock: clock, delay: delay}
}

// Start arms the timer, restarting the countdown if it was already counting.
func (t *DelayTimer) Start() {
	t.start = t.clock.Now()
	t.state = TimerCounting
}

// Check reports whether the timer has fired.
func (t *DelayTimer) Check() bool {
	switch t.state {
	case TimerCounting:
		if t.clock.Now()-t.start >= t.delay {
			t.state = TimerFired
			return true
		}
		return false
	case TimerFired:
		return true
	default:
		return false
	}
}

// Reset returns the timer to idle.
func (t *DelayTimer) Reset() {
	t.state = TimerIdle
}

func (t *DelayTimer) State() TimerState { return t.state }

// SetDelay changes the delay used by future checks.
func (t *DelayTimer) SetDelay(delay float64) { t.delay = delay }

func (t *DelayTimer) Delay() float64 { return t.delay }
