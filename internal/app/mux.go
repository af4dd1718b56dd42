package app

import (
	"fmt"

	"github.com/relabs-tech/hip_exo/internal/config"
	"github.com/relabs-tech/hip_exo/internal/control"
	"github.com/relabs-tech/hip_exo/internal/exo"
	"github.com/relabs-tech/hip_exo/internal/gait"
	"github.com/relabs-tech/hip_exo/internal/statemachine"
	"github.com/relabs-tech/hip_exo/internal/telemetry"
	"github.com/relabs-tech/hip_exo/internal/timing"
)

// Side is everything the loop runs for one leg.
type Side struct {
	Exo       *exo.Exo
	Estimator gait.PhaseSource
	Machine   statemachine.Machine
	Stream    string

	violating bool
}

// BuildSide wires the estimator and state machine that cfg.Task asks for
// around one exo.
//
//	WALKING       one state, hip spline on gait phase
//	STANCE_SWING  four-point spline in stance, bias torque in swing
//	FOUR_STATE    zero torque swing, ramp in, four-point stance, ramp out
//	IMPEDANCE     one state, impedance about SET_POINT
func BuildSide(e *exo.Exo, clock timing.Clock, cfg *config.Config) (*Side, error) {
	est, err := gait.NewWalkingEstimator(e.Side(), clock, cfg)
	if err != nil {
		return nil, fmt.Errorf("exo %s: build estimator: %w", e.Side(), err)
	}

	var m statemachine.Machine
	switch cfg.Task {
	case config.TaskWalking:
		hip, err := control.NewHipSpline(e, clock, cfg)
		if err != nil {
			return nil, fmt.Errorf("exo %s: %w", e.Side(), err)
		}
		m = statemachine.NewOne(e, hip)

	case config.TaskStanceSwing:
		stance, err := control.NewFourPointSpline(e, clock, cfg)
		if err != nil {
			return nil, fmt.Errorf("exo %s: %w", e.Side(), err)
		}
		m = statemachine.NewStanceSwing(e, stance, control.NewBiasTorque(e, cfg))

	case config.TaskFourState:
		stance, err := control.NewFourPointSpline(e, clock, cfg)
		if err != nil {
			return nil, fmt.Errorf("exo %s: %w", e.Side(), err)
		}
		in, err := control.NewTransitionIn(e, clock, cfg)
		if err != nil {
			return nil, fmt.Errorf("exo %s: %w", e.Side(), err)
		}
		out, err := control.NewTransitionOut(e, clock, cfg)
		if err != nil {
			return nil, fmt.Errorf("exo %s: %w", e.Side(), err)
		}
		m = statemachine.NewFourState(e, control.NewConstantTorque(e, 0), in, stance, out, cfg.SwingOnly)

	case config.TaskImpedance:
		m = statemachine.NewOne(e, control.NewImpedanceController(e, cfg))

	default:
		return nil, fmt.Errorf("%w: unknown TASK %q", config.ErrConfiguration, cfg.Task)
	}

	return &Side{
		Exo:       e,
		Estimator: est,
		Machine:   m,
		Stream:    StreamFor(e.Side()),
	}, nil
}

// StreamFor names the telemetry stream a side writes to.
func StreamFor(s exo.Side) string {
	if s == exo.SideLeft {
		return telemetry.StreamLeft
	}
	return telemetry.StreamRight
}
