// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package timing

import "time"

// Pacer keeps a loop near a target frequency. Pause sleeps for whatever is
// left of the current period. A late tick is never skipped: the schedule
// restarts from the late tick instead of trying to catch up.
type Pacer struct {
	period time.Duration
	next   time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// NewPacer returns a pacer for targetFreq ticks per second.
func NewPacer(targetFreq float64) *Pacer {
	return &Pacer{
		period: time.Duration(float64(time.Second) / targetFreq),
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

func (p *Pacer) Period() time.Duration { return p.period }

// Pause blocks until the next tick is due. It returns how late the tick
// is; zero means the deadline was met.
func (p *Pacer) Pause() time.Duration {
	now := p.now()
	if p.next.IsZero() {
		p.next = now.Add(p.period)
		return 0
	}
	if now.Before(p.next) {
		p.sleep(p.next.Sub(now))
		p.next = p.next.Add(p.period)
		return 0
	}
	late := now.Sub(p.next)
	p.next = now.Add(p.period)
	return late
}
