// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package filter holds the causal single-sample filters used on joint
// angle, velocity and stride-duration signals.
package filter

// Filter consumes one sample at a time and returns the filtered value.
type Filter interface {
	Filter(x float64) float64
	// Restart clears internal state as if no sample had been seen.
	Restart()
}

// PassThrough returns every sample unchanged.
type PassThrough struct{}

func (PassThrough) Filter(x float64) float64 { return x }
func (PassThrough) Restart()                 {}

// MovingAverage averages the most recent samples. Until the window is full
// it averages whatever it has seen.
type MovingAverage struct {
	buf   []float64
	next  int
	count int
	sum   float64
}

// NewMovingAverage returns a moving average over window samples. Windows
// smaller than one are treated as one.
func NewMovingAverage(window int) *MovingAverage {
	if window < 1 {
		window = 1
	}
	return &MovingAverage{buf: make([]float64, window)}
}

func (m *MovingAverage) Filter(x float64) float64 {
	if m.count == len(m.buf) {
		m.sum -= m.buf[m.next]
	} else {
		m.count++
	}
	m.buf[m.next] = x
	m.sum += x
	m.next = (m.next + 1) % len(m.buf)
	return m.sum / float64(m.count)
}

func (m *MovingAverage) Restart() {
	for i := range m.buf {
		m.buf[i] = 0
	}
	m.next, m.count, m.sum = 0, 0, 0
}

// Window returns the configured window length.
func (m *MovingAverage) Window() int { return len(m.buf) }
