package control

import (
	"fmt"

	"github.com/relabs-tech/hip_exo/internal/config"
)

// ImpedanceController holds the hip at a setpoint with the pack's impedance
// mode.
type ImpedanceController struct {
	SetPoint float64 // hip deg
	K, B     int
	Gains    Gains

	exo Actuator
}

func NewImpedanceController(a Actuator, cfg *config.Config) *ImpedanceController {
	return &ImpedanceController{
		SetPoint: cfg.SetPoint,
		K:        cfg.KVal,
		B:        cfg.BVal,
		Gains:    DefaultGains,
		exo:      a,
	}
}

func (c *ImpedanceController) Command(reset bool) error {
	if reset {
		if err := c.Gains.send(c.exo); err != nil {
			return err
		}
	}
	theta, err := c.exo.HipAngleToMotorAngle(c.SetPoint)
	if err != nil {
		return fmt.Errorf("impedance setpoint: %w", err)
	}
	return c.exo.CommandMotorImpedance(theta, c.K, c.B)
}

func (c *ImpedanceController) UpdateFromConfig(cfg *config.Config) error {
	c.SetPoint = cfg.SetPoint
	c.K = cfg.KVal
	c.B = cfg.BVal
	return nil
}
