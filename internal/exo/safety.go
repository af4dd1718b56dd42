package exo

import "log"

// SafetyLimits bound the current, and through the transmission model the
// torque, that may be commanded.
type SafetyLimits struct {
	MaxCurrent        int // mA, >= 0
	MinCurrent        int // mA, <= 0
	TransmissionRatio float64
	CurrentToTorque   float64 // motor Nm per mA
}

// DefaultLimits uses the pack's transmission and torque constant.
func DefaultLimits(maxCurrent, minCurrent int) SafetyLimits {
	return SafetyLimits{
		MaxCurrent:        maxCurrent,
		MinCurrent:        minCurrent,
		TransmissionRatio: TransmissionRatio,
		CurrentToTorque:   MotorCurrentToMotorTorque,
	}
}

// CurrentToHipTorque converts motor current to hip torque, no dynamics.
func (l SafetyLimits) CurrentToHipTorque(mA float64) float64 {
	return mA * l.CurrentToTorque * l.TransmissionRatio
}

// HipTorqueToCurrent converts hip torque to a signed motor current. The
// result is truncated toward zero so it never exceeds the exact value.
func (l SafetyLimits) HipTorqueToCurrent(sign, torque float64) int32 {
	return int32(sign * torque / l.TransmissionRatio / l.CurrentToTorque)
}

func (l SafetyLimits) MaxTorque() float64 {
	return max(0, l.CurrentToHipTorque(float64(l.MaxCurrent)))
}

func (l SafetyLimits) MinTorque() float64 {
	return min(0, l.CurrentToHipTorque(float64(l.MinCurrent)))
}

// SafetyClamp clips desired torque into the allowed range and remembers
// whether it is currently clipping, so the warning prints once per episode.
type SafetyClamp struct {
	Limits SafetyLimits
	Name   string

	clipping bool
}

// Apply returns the torque to command and whether it was clipped. Clipping
// happens only when |torque| exceeds MaxTorque.
func (c *SafetyClamp) Apply(desired float64) (float64, bool) {
	maxT, minT := c.Limits.MaxTorque(), c.Limits.MinTorque()
	if abs(desired) <= maxT {
		c.clipping = false
		return desired, false
	}
	if !c.clipping {
		log.Printf("exo %s: torque was clipped (desired %.2f Nm, limits [%.2f, %.2f])", c.Name, desired, minT, maxT)
	}
	c.clipping = true
	return max(minT, min(desired, maxT)), true
}

// Clipping reports the state after the last Apply.
func (c *SafetyClamp) Clipping() bool { return c.clipping }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
