package control

import (
	"github.com/relabs-tech/hip_exo/internal/config"
	"github.com/relabs-tech/hip_exo/internal/exo"
)

// Controller is one control law a state machine can make active.
type Controller interface {
	// Command issues this tick's motor command. reset is true on the tick
	// the controller was switched to.
	Command(reset bool) error
	UpdateFromConfig(cfg *config.Config) error
}

// CompletionChecker is a controller that finishes on its own, like a
// transition ramp.
type CompletionChecker interface {
	Controller
	Done() bool
}

// Actuator is the part of exo.Exo that controllers drive.
type Actuator interface {
	Sample() *exo.Sample
	CommandTorque(torque float64) (float64, error)
	CommandMotorImpedance(theta0 int32, k, b int) error
	HipAngleToMotorAngle(hip float64) (int32, error)
	UpdateGains(u exo.GainsUpdate) error
}

// Gains are the pack current-loop gains a controller asks for when it
// becomes active.
type Gains struct {
	Kp, Ki, Kd, FF int
}

// DefaultGains are the pack defaults.
var DefaultGains = Gains{Kp: exo.DefaultKp, Ki: exo.DefaultKi, Kd: exo.DefaultKd, FF: exo.DefaultFF}

func (g Gains) send(a Actuator) error {
	return a.UpdateGains(exo.GainsUpdate{Kp: exo.Int(g.Kp), Ki: exo.Int(g.Ki), Kd: exo.Int(g.Kd), FF: exo.Int(g.FF)})
}
