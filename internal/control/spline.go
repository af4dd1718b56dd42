// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package control holds the mid-level controllers a state machine switches
// between: phase splines, impedance holds and timed ramps.
package control

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/interp"
)

// Spline is a shape-preserving interpolant through (phase, torque) control
// points. Between knots it never overshoots its neighbours; outside the knots
// it holds the end values.
type Spline struct {
	xs, ys []float64
	pred   interp.Predictor
}

// NewSpline fits xs (strictly increasing) to ys.
func NewSpline(xs, ys []float64) (*Spline, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("spline needs as many x as y points, got %d and %d", len(xs), len(ys))
	}
	if len(xs) < 2 {
		return nil, fmt.Errorf("spline needs at least 2 points, got %d", len(xs))
	}
	for i := 1; i < len(xs); i++ {
		if !(xs[i] > xs[i-1]) {
			return nil, fmt.Errorf("spline x must be strictly increasing, got %v", xs)
		}
	}

	s := &Spline{xs: slices.Clone(xs), ys: slices.Clone(ys)}
	if len(xs) < 3 {
		var pl interp.PiecewiseLinear
		if err := pl.Fit(s.xs, s.ys); err != nil {
			return nil, fmt.Errorf("fit spline: %w", err)
		}
		s.pred = &pl
		return s, nil
	}
	var fb interp.FritschButland
	if err := fb.Fit(s.xs, s.ys); err != nil {
		return nil, fmt.Errorf("fit spline: %w", err)
	}
	s.pred = &fb
	return s, nil
}

// At evaluates the spline, holding the end values outside the knots.
func (s *Spline) At(x float64) float64 {
	n := len(s.xs)
	if x <= s.xs[0] {
		return s.ys[0]
	}
	if x >= s.xs[n-1] {
		return s.ys[n-1]
	}
	return s.pred.Predict(x)
}

// End is the last knot's x.
func (s *Spline) End() float64 { return s.xs[len(s.xs)-1] }

// Points returns copies of the control points.
func (s *Spline) Points() (xs, ys []float64) {
	return slices.Clone(s.xs), slices.Clone(s.ys)
}

// Equal reports whether both splines have the same control points.
func (s *Spline) Equal(xs, ys []float64) bool {
	return slices.Equal(s.xs, xs) && slices.Equal(s.ys, ys)
}
