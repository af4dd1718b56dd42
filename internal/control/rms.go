package control

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/relabs-tech/hip_exo/internal/exo"
)

const rmsSamples = 1000

// RMSCurrent estimates the RMS motor current in mA a spline would draw over
// one cycle, ignoring the safety clamp.
func RMSCurrent(s *Spline) float64 {
	currents := make([]float64, rmsSamples)
	end := s.End()
	for i := range currents {
		x := end * float64(i) / float64(rmsSamples-1)
		currents[i] = s.At(x) / exo.TransmissionRatio / exo.MotorCurrentToMotorTorque
	}
	return floats.Norm(currents, 2) / math.Sqrt(rmsSamples)
}
