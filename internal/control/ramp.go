package control

import (
	"github.com/relabs-tech/hip_exo/internal/config"
	"github.com/relabs-tech/hip_exo/internal/timing"
)

// RampController moves the torque linearly between two levels over
// TRANSITION_DURATION, then reports Done.
type RampController struct {
	*SplineController
	in bool
}

// NewTransitionIn ramps from zero up to SPLINE_BIAS.
func NewTransitionIn(a Actuator, clock timing.Clock, cfg *config.Config) (*RampController, error) {
	return newRamp("transition in", a, clock, cfg, true)
}

// NewTransitionOut ramps from SPLINE_BIAS down to zero.
func NewTransitionOut(a Actuator, clock timing.Clock, cfg *config.Config) (*RampController, error) {
	return newRamp("transition out", a, clock, cfg, false)
}

func newRamp(name string, a Actuator, clock timing.Clock, cfg *config.Config, in bool) (*RampController, error) {
	xs, ys := rampPoints(cfg, in)
	sc, err := NewSplineController(name, a, clock, xs, ys, false, 0)
	if err != nil {
		return nil, err
	}
	return &RampController{SplineController: sc, in: in}, nil
}

func rampPoints(cfg *config.Config, in bool) ([]float64, []float64) {
	xs := []float64{0, cfg.TransitionDuration}
	if in {
		return xs, []float64{0, cfg.SplineBias}
	}
	return xs, []float64{cfg.SplineBias, 0}
}

// Done reports whether the ramp has reached its end level since the last
// reset.
func (c *RampController) Done() bool {
	return c.clock.Now()-c.t0 >= c.spline.End()
}

func (c *RampController) UpdateFromConfig(cfg *config.Config) error {
	return c.UpdateSpline(rampPoints(cfg, c.in))
}

// ConstantTorque commands one torque level for as long as it is active.
type ConstantTorque struct {
	Torque float64
	Gains  Gains

	followBias bool
	exo        Actuator
}

func NewConstantTorque(a Actuator, torque float64) *ConstantTorque {
	return &ConstantTorque{Torque: torque, Gains: DefaultGains, exo: a}
}

// NewBiasTorque holds SPLINE_BIAS and follows it across config updates.
func NewBiasTorque(a Actuator, cfg *config.Config) *ConstantTorque {
	c := NewConstantTorque(a, cfg.SplineBias)
	c.followBias = true
	return c
}

func (c *ConstantTorque) Command(reset bool) error {
	if reset {
		if err := c.Gains.send(c.exo); err != nil {
			return err
		}
	}
	_, err := c.exo.CommandTorque(c.Torque)
	return err
}

func (c *ConstantTorque) UpdateFromConfig(cfg *config.Config) error {
	if c.followBias {
		c.Torque = cfg.SplineBias
	}
	return nil
}
