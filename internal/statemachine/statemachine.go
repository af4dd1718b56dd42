// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package statemachine picks the active controller for one side each tick
// from the gait events on that side's Sample.
package statemachine

import (
	"log"

	"github.com/relabs-tech/hip_exo/internal/config"
	"github.com/relabs-tech/hip_exo/internal/control"
	"github.com/relabs-tech/hip_exo/internal/exo"
)

// State tags the active controller.
type State int

const (
	Active State = iota
	Swing
	TransitionIn
	Stance
	TransitionOut
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Swing:
		return "swing"
	case TransitionIn:
		return "transition_in"
	case Stance:
		return "stance"
	case TransitionOut:
		return "transition_out"
	default:
		return "unknown"
	}
}

// Machine is a high level controller.
type Machine interface {
	// Step evaluates transitions, then commands the active controller
	// unless readOnly. A switch gives the new controller reset=true once.
	Step(readOnly bool) error
	UpdateFromConfig(cfg *config.Config) error
	State() State
}

// SampleSource is where machines read this tick's gait events.
type SampleSource interface {
	Sample() *exo.Sample
}

type base struct {
	src   SampleSource
	state State
}

func (b *base) State() State { return b.state }

func (b *base) run(c control.Controller, switched, readOnly bool) error {
	b.src.Sample().ControllerState = b.state.String()
	if readOnly {
		return nil
	}
	return c.Command(switched)
}

func updateAll(cfg *config.Config, cs ...control.Controller) error {
	for _, c := range cs {
		if err := c.UpdateFromConfig(cfg); err != nil {
			return err
		}
	}
	return nil
}

// One keeps a single controller active for the whole gait cycle.
type One struct {
	base
	controller control.Controller
	started    bool
}

func NewOne(src SampleSource, c control.Controller) *One {
	return &One{base: base{src: src, state: Active}, controller: c}
}

func (m *One) Step(readOnly bool) error {
	reset := !m.started
	m.started = true
	return m.run(m.controller, reset, readOnly)
}

func (m *One) UpdateFromConfig(cfg *config.Config) error {
	return m.controller.UpdateFromConfig(cfg)
}

// StanceSwing switches to the stance controller on heel strike with a known
// phase and back to swing on toe-off or when the phase is lost.
type StanceSwing struct {
	base
	stance, swing control.Controller
	started       bool
}

func NewStanceSwing(src SampleSource, stance, swing control.Controller) *StanceSwing {
	return &StanceSwing{base: base{src: src, state: Swing}, stance: stance, swing: swing}
}

func (m *StanceSwing) Step(readOnly bool) error {
	d := m.src.Sample()
	next := m.state
	switch {
	case m.state == Swing && d.DidHeelStrike && d.GaitPhase.Valid:
		next = Stance
	case d.DidToeOff || !d.GaitPhase.Valid:
		next = Swing
	}
	switched := next != m.state || !m.started
	m.started = true
	m.state = next

	c := m.swing
	if m.state == Stance {
		c = m.stance
	}
	return m.run(c, switched, readOnly)
}

func (m *StanceSwing) UpdateFromConfig(cfg *config.Config) error {
	return updateAll(cfg, m.stance, m.swing)
}

// FourState ramps into and out of stance:
// swing -> transition in -> stance -> transition out -> swing.
type FourState struct {
	base
	swing     control.Controller
	in        control.CompletionChecker
	stance    control.Controller
	out       control.CompletionChecker
	swingOnly bool
	starting  bool
}

func NewFourState(src SampleSource, swing control.Controller, in control.CompletionChecker,
	stance control.Controller, out control.CompletionChecker, swingOnly bool) *FourState {
	return &FourState{
		base:      base{src: src, state: TransitionOut},
		swing:     swing,
		in:        in,
		stance:    stance,
		out:       out,
		swingOnly: swingOnly,
		starting:  true,
	}
}

// Step checks transitions in priority order and fires at most one.
func (m *FourState) Step(readOnly bool) error {
	d := m.src.Sample()
	prev := m.state
	switched := true
	switch {
	case m.starting:
		m.starting = false
		m.state = TransitionOut
	case m.swingOnly:
		m.state = Swing
		switched = prev != Swing
	case m.state == Swing && d.DidHeelStrike && d.GaitPhase.Valid:
		m.state = TransitionIn
	case m.state == TransitionIn && m.in.Done():
		m.state = Stance
	case m.state == Stance && (d.DidToeOff || !d.GaitPhase.Valid):
		m.state = TransitionOut
	case m.state == TransitionOut && m.out.Done():
		m.state = Swing
	default:
		switched = false
	}
	return m.run(m.controller(), switched, readOnly)
}

func (m *FourState) controller() control.Controller {
	switch m.state {
	case Swing:
		return m.swing
	case TransitionIn:
		return m.in
	case Stance:
		return m.stance
	default:
		return m.out
	}
}

func (m *FourState) UpdateFromConfig(cfg *config.Config) error {
	if err := updateAll(cfg, m.swing, m.in, m.stance, m.out); err != nil {
		return err
	}
	if m.swingOnly != cfg.SwingOnly {
		m.swingOnly = cfg.SwingOnly
		log.Printf("statemachine: swing only set to %t", m.swingOnly)
	}
	return nil
}
