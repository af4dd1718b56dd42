// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package filter

import (
	"fmt"
	"math"
)

// section is one direct-form II transposed stage. First-order stages leave
// a2 and b2 at zero.
type section struct {
	a0, a1, a2 float64 // numerator
	b1, b2     float64 // denominator, b0 normalised to 1
	z1, z2     float64
}

func (s *section) process(in float64) float64 {
	out := in*s.a0 + s.z1
	s.z1 = in*s.a1 - out*s.b1 + s.z2
	s.z2 = in*s.a2 - out*s.b2
	return out
}

// Butterworth is a low-pass Butterworth filter built as a cascade of
// biquads (plus one first-order stage for odd orders) via the bilinear
// transform.
type Butterworth struct {
	sections []*section

	order              int
	cutoff, sampleRate float64
}

// NewButterworth designs an order-N low-pass with cutoff in Hz for the given
// sample rate. With sampleRate = 2 the cutoff is the usual normalised
// frequency where 1 is Nyquist.
func NewButterworth(order int, cutoff, sampleRate float64) (*Butterworth, error) {
	if order < 1 {
		return nil, fmt.Errorf("butterworth order must be >= 1, got %d", order)
	}
	if sampleRate <= 0 || cutoff <= 0 {
		return nil, fmt.Errorf("butterworth cutoff (%g) and sample rate (%g) must be positive", cutoff, sampleRate)
	}
	design := &Butterworth{order: order, cutoff: cutoff, sampleRate: sampleRate}

	// tan() blows up at Nyquist
	if cutoff >= sampleRate*0.499 {
		cutoff = sampleRate * 0.499
	}

	fs := sampleRate
	w := 2.0 * fs * math.Tan(math.Pi*cutoff/fs)
	k := 2.0 * fs

	var sections []*section
	pairs := order / 2
	for i := 0; i < pairs; i++ {
		theta := math.Pi * (2.0*float64(i) + 1.0) / (2.0 * float64(order))
		pRe := -w * math.Sin(theta)
		pIm := w * math.Cos(theta)
		mag2 := pRe*pRe + pIm*pIm

		alpha := k*k - 2.0*k*pRe + mag2
		sections = append(sections, &section{
			a0: w * w / alpha,
			a1: 2.0 * w * w / alpha,
			a2: w * w / alpha,
			b1: (-2.0*k*k + 2.0*mag2) / alpha,
			b2: (k*k + 2.0*k*pRe + mag2) / alpha,
		})
	}
	if order%2 == 1 {
		sections = append(sections, &section{
			a0: w / (k + w),
			a1: w / (k + w),
			b1: (w - k) / (k + w),
		})
	}
	design.sections = sections
	return design, nil
}

// Matches reports whether the filter was designed with these parameters.
func (f *Butterworth) Matches(order int, cutoff, sampleRate float64) bool {
	return f.order == order && f.cutoff == cutoff && f.sampleRate == sampleRate
}

// NewNormalizedButterworth designs a low-pass from a normalised cutoff
// (1 = Nyquist).
func NewNormalizedButterworth(order int, wn float64) (*Butterworth, error) {
	return NewButterworth(order, wn, 2)
}

func (f *Butterworth) Filter(x float64) float64 {
	out := x
	for _, s := range f.sections {
		out = s.process(out)
	}
	return out
}

func (f *Butterworth) Restart() {
	for _, s := range f.sections {
		s.z1, s.z2 = 0, 0
	}
}
