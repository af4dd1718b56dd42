// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package gait turns one side's hip angle into toe-off and heel-strike
// events and a continuous gait phase.
package gait

import (
	"fmt"

	"github.com/relabs-tech/hip_exo/internal/exo"
	"github.com/relabs-tech/hip_exo/internal/filter"
	"github.com/relabs-tech/hip_exo/internal/timing"
)

// EventDetector reports a discrete gait event for the current tick.
type EventDetector interface {
	Detect(s *exo.Sample) bool
}

// PhaseEstimator produces the gait phase for the current tick. The stride
// average estimator is the stock one; a learned classifier can stand in.
type PhaseEstimator interface {
	Estimate(s *exo.Sample) exo.Phase
}

// ToeOffDetector fires when the filtered hip angle peaks in flexion below
// MaximumAngle (a local minimum of the sign-inverted angle), debounced by a
// DelayTimer.
type ToeOffDetector struct {
	MaximumAngle float64

	angleFilter filter.Filter
	history     [3]float64 // newest first
	timer       *timing.DelayTimer
}

func NewToeOffDetector(clock timing.Clock, maximumAngle float64, angleFilter filter.Filter, delay float64) *ToeOffDetector {
	if angleFilter == nil {
		angleFilter = filter.PassThrough{}
	}
	return &ToeOffDetector{
		MaximumAngle: maximumAngle,
		angleFilter:  angleFilter,
		timer:        timing.NewDelayTimer(clock, delay),
	}
}

func (d *ToeOffDetector) Detect(s *exo.Sample) bool {
	d.history[2] = d.history[1]
	d.history[1] = d.history[0]
	d.history[0] = -d.angleFilter.Filter(s.HipAngle)

	h := d.history
	if h[1] < d.MaximumAngle && h[1] < h[0] && h[1] < h[2] {
		d.timer.Start()
	}
	if d.timer.Check() {
		d.timer.Reset()
		return true
	}
	return false
}

// SetFilter swaps the angle filter and clears the angle history.
func (d *ToeOffDetector) SetFilter(f filter.Filter) {
	d.angleFilter = f
	d.history = [3]float64{}
}

func (d *ToeOffDetector) SetDelay(delay float64) { d.timer.SetDelay(delay) }

// HeelStrikeDetector infers heel strike from the previous tick's phase: it
// fires once when phase passes 1-Fraction and re-arms below Fraction.
type HeelStrikeDetector struct {
	Fraction float64
	occurred bool
}

func NewHeelStrikeDetector(fraction float64) *HeelStrikeDetector {
	return &HeelStrikeDetector{Fraction: fraction}
}

func (d *HeelStrikeDetector) Detect(s *exo.Sample) bool {
	phase := s.GaitPhase
	if !phase.Valid {
		return false
	}
	if phase.Value < d.Fraction {
		d.occurred = false
	}
	if phase.Value > 1-d.Fraction && !d.occurred {
		d.occurred = true
		return true
	}
	return false
}

// StrideAverageEstimator computes phase as time since the last toe-off over
// the mean recent stride duration, but only while gait is steady.
type StrideAverageEstimator struct {
	MinStride float64
	MaxStride float64

	clock   timing.Clock
	history *StrideHistory
	average *filter.MovingAverage
	// lastToeOff starts a sentinel stride in the past, so the first
	// toe-off never counts as a stride.
	lastToeOff float64
	meanStride float64
}

// NewStrideAverageEstimator needs 1 <= toAverage <= required.
func NewStrideAverageEstimator(clock timing.Clock, required, toAverage int, minStride, maxStride float64) (*StrideAverageEstimator, error) {
	if required < 1 {
		return nil, fmt.Errorf("%w: num_strides_required must be >= 1, got %d", exo.ErrConfiguration, required)
	}
	if toAverage < 1 || toAverage > required {
		return nil, fmt.Errorf("%w: num_strides_to_average must be in [1, %d], got %d", exo.ErrConfiguration, required, toAverage)
	}
	return &StrideAverageEstimator{
		MinStride:  minStride,
		MaxStride:  maxStride,
		clock:      clock,
		history:    NewStrideHistory(required),
		average:    filter.NewMovingAverage(toAverage),
		lastToeOff: clock.Now() - sentinelStride,
		meanStride: 1,
	}, nil
}

func (e *StrideAverageEstimator) Estimate(s *exo.Sample) exo.Phase {
	now := e.clock.Now()
	if s.DidToeOff {
		stride := now - e.lastToeOff
		e.history.Push(stride)
		e.lastToeOff = now
		e.meanStride = e.average.Filter(stride)
	}

	elapsed := now - e.lastToeOff
	if e.history.AllWithin(e.MinStride, e.MaxStride) && elapsed < 1.2*e.MaxStride {
		return exo.KnownPhase(min(1, elapsed/e.meanStride))
	}
	return exo.UnknownPhase
}

// MeanStride is the current average stride duration, s.
func (e *StrideAverageEstimator) MeanStride() float64 { return e.meanStride }

// History exposes the stored strides, oldest first.
func (e *StrideAverageEstimator) History() []float64 { return e.history.Durations() }

// Resize changes the number of strides required and averaged. Both buffers
// restart, so the gate closes until enough new strides arrive.
func (e *StrideAverageEstimator) Resize(required, toAverage int) error {
	if required < 1 || toAverage < 1 || toAverage > required {
		return fmt.Errorf("%w: stride counts required=%d average=%d", exo.ErrConfiguration, required, toAverage)
	}
	if required == e.history.Len() && toAverage == e.average.Window() {
		return nil
	}
	e.history = NewStrideHistory(required)
	e.average = filter.NewMovingAverage(toAverage)
	return nil
}
