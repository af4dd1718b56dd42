package control

import (
	"fmt"
	"log"

	"github.com/relabs-tech/hip_exo/internal/config"
	"github.com/relabs-tech/hip_exo/internal/timing"
)

// SplineController commands torque from a spline of gait phase, or of time
// since activation. Replacing the spline cross-fades from the old one over
// FadeDuration.
type SplineController struct {
	Name         string
	UseGaitPhase bool
	FadeDuration float64
	Gains        Gains

	exo   Actuator
	clock timing.Clock

	spline     *Spline
	lastSpline *Spline
	fadeStart  float64
	t0         float64
}

// NewSplineController starts with the given spline and no fade.
func NewSplineController(name string, a Actuator, clock timing.Clock, xs, ys []float64, useGaitPhase bool, fadeDuration float64) (*SplineController, error) {
	s, err := NewSpline(xs, ys)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	now := clock.Now()
	return &SplineController{
		Name:         name,
		UseGaitPhase: useGaitPhase,
		FadeDuration: fadeDuration,
		Gains:        DefaultGains,
		exo:          a,
		clock:        clock,
		spline:       s,
		fadeStart:    now,
		t0:           now,
	}, nil
}

// UpdateSpline swaps in new control points and starts a fade from the
// current spline. Identical points are ignored.
func (c *SplineController) UpdateSpline(xs, ys []float64) error {
	if c.spline.Equal(xs, ys) {
		return nil
	}
	s, err := NewSpline(xs, ys)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	c.lastSpline = c.spline
	c.spline = s
	c.fadeStart = c.clock.Now()
	log.Printf("control %s: spline updated x=%v y=%v, rms current %.0f mA", c.Name, xs, ys, RMSCurrent(s))
	return nil
}

// Spline returns the active spline.
func (c *SplineController) Spline() *Spline { return c.spline }

// Command evaluates the spline at this tick's phase and commands the torque.
// Unknown phase commands zero torque.
func (c *SplineController) Command(reset bool) error {
	if reset {
		if err := c.Gains.send(c.exo); err != nil {
			return err
		}
		c.t0 = c.clock.Now()
	}

	phase, ok := c.phase()
	torque := 0.0
	if ok {
		torque = c.Torque(phase)
	}
	_, err := c.exo.CommandTorque(torque)
	return err
}

func (c *SplineController) phase() (float64, bool) {
	if c.UseGaitPhase {
		p := c.exo.Sample().GaitPhase
		return p.Value, p.Valid
	}
	return c.clock.Now() - c.t0, true
}

// Torque is the desired torque at phase, including any running cross-fade.
// The old spline is dropped once the fade is over.
func (c *SplineController) Torque(phase float64) float64 {
	var frac float64
	if c.lastSpline != nil {
		elapsed := c.clock.Now() - c.fadeStart
		if elapsed >= c.FadeDuration {
			c.lastSpline = nil
		} else {
			frac = elapsed / c.FadeDuration
		}
	}
	if phase > c.spline.End() {
		return c.spline.At(c.spline.End())
	}
	if c.lastSpline != nil {
		return (1-frac)*c.lastSpline.At(phase) + frac*c.spline.At(phase)
	}
	return c.spline.At(phase)
}

// Fading reports whether a cross-fade from a previous spline is running.
func (c *SplineController) Fading() bool { return c.lastSpline != nil }

// UpdateFromConfig only refreshes the fade duration; a generic spline has no
// shape keys.
func (c *SplineController) UpdateFromConfig(cfg *config.Config) error {
	c.FadeDuration = cfg.FadeDuration
	return nil
}

// FourPointSpline rises from a bias torque to a peak and falls back:
// x = [0, rise, peak, (peak+hold), fall, 1].
type FourPointSpline struct {
	*SplineController
}

// FourPointPoints builds the control points.
func FourPointPoints(rise, peak, fall, peakTorque, bias, hold float64) ([]float64, []float64) {
	if hold > 0 {
		return []float64{0, rise, peak, peak + hold, fall, 1},
			[]float64{bias, bias, peakTorque, peakTorque, bias, bias}
	}
	return []float64{0, rise, peak, fall, 1},
		[]float64{bias, bias, peakTorque, bias, bias}
}

func NewFourPointSpline(a Actuator, clock timing.Clock, cfg *config.Config) (*FourPointSpline, error) {
	xs, ys := FourPointPoints(cfg.RiseFraction, cfg.PeakFraction, cfg.FallFraction, cfg.PeakTorque, cfg.SplineBias, cfg.PeakHold)
	sc, err := NewSplineController("four point spline", a, clock, xs, ys, true, cfg.FadeDuration)
	if err != nil {
		return nil, err
	}
	return &FourPointSpline{sc}, nil
}

func (c *FourPointSpline) UpdateFromConfig(cfg *config.Config) error {
	c.FadeDuration = cfg.FadeDuration
	return c.UpdateSpline(FourPointPoints(cfg.RiseFraction, cfg.PeakFraction, cfg.FallFraction, cfg.PeakTorque, cfg.SplineBias, cfg.PeakHold))
}

// HipSpline encodes an extension minimum in stance and a flexion maximum in
// swing, crossing the bias torque in between.
type HipSpline struct {
	*SplineController
}

// HipPoints builds the control points:
// x = [0, min, (min+hold), first_zero, peak, (peak+hold), second_zero, 1].
func HipPoints(minFrac, firstZero, peak, secondZero, start, extMin, flexMax, bias, hold float64) ([]float64, []float64) {
	if hold > 0 {
		return []float64{0, minFrac, minFrac + hold, firstZero, peak, peak + hold, secondZero, 1},
			[]float64{start, extMin, extMin, bias, flexMax, flexMax, bias, start}
	}
	return []float64{0, minFrac, firstZero, peak, secondZero, 1},
		[]float64{start, extMin, bias, flexMax, bias, start}
}

func hipPointsFromConfig(cfg *config.Config) ([]float64, []float64) {
	return HipPoints(cfg.MinFraction, cfg.FirstZero, cfg.PeakFraction, cfg.SecondZero,
		cfg.StartTorque, cfg.ExtensionMinTorque, cfg.FlexionMaxTorque, cfg.SplineBias, cfg.PeakHold)
}

func NewHipSpline(a Actuator, clock timing.Clock, cfg *config.Config) (*HipSpline, error) {
	xs, ys := hipPointsFromConfig(cfg)
	sc, err := NewSplineController("hip spline", a, clock, xs, ys, true, cfg.FadeDuration)
	if err != nil {
		return nil, err
	}
	return &HipSpline{sc}, nil
}

func (c *HipSpline) UpdateFromConfig(cfg *config.Config) error {
	c.FadeDuration = cfg.FadeDuration
	return c.UpdateSpline(hipPointsFromConfig(cfg))
}
