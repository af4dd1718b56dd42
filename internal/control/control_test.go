package control

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/hip_exo/internal/config"
	"github.com/relabs-tech/hip_exo/internal/exo"
	"github.com/relabs-tech/hip_exo/internal/timing"
)

type impedanceCmd struct {
	theta int32
	k, b  int
}

type fakeActuator struct {
	sample    exo.Sample
	torques   []float64
	gains     []exo.GainsUpdate
	impedance []impedanceCmd
	noZero    bool
}

func (f *fakeActuator) Sample() *exo.Sample { return &f.sample }

func (f *fakeActuator) CommandTorque(torque float64) (float64, error) {
	f.torques = append(f.torques, torque)
	return torque, nil
}

func (f *fakeActuator) CommandMotorImpedance(theta0 int32, k, b int) error {
	f.impedance = append(f.impedance, impedanceCmd{theta0, k, b})
	return nil
}

func (f *fakeActuator) HipAngleToMotorAngle(hip float64) (int32, error) {
	if f.noZero {
		return 0, exo.ErrConfiguration
	}
	return int32(hip * 100), nil
}

func (f *fakeActuator) UpdateGains(u exo.GainsUpdate) error {
	f.gains = append(f.gains, u)
	return nil
}

func (f *fakeActuator) lastTorque() float64 { return f.torques[len(f.torques)-1] }

func TestNewSplineRejectsBadPoints(t *testing.T) {
	tests := []struct {
		name   string
		xs, ys []float64
	}{
		{"length mismatch", []float64{0, 1}, []float64{0}},
		{"single point", []float64{0}, []float64{0}},
		{"not increasing", []float64{0, 0.5, 0.5, 1}, []float64{0, 1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpline(tt.xs, tt.ys)
			assert.Error(t, err)
		})
	}
}

func TestSplineShape(t *testing.T) {
	xs, ys := FourPointPoints(0.3, 0.6, 0.65, 30, 3, 0)
	s, err := NewSpline(xs, ys)
	require.NoError(t, err)

	for i, x := range xs {
		assert.InDelta(t, ys[i], s.At(x), 1e-9, "knot %d", i)
	}
	for i := 0; i <= 1000; i++ {
		v := s.At(float64(i) / 1000)
		assert.GreaterOrEqual(t, v, 3.0-1e-9)
		assert.LessOrEqual(t, v, 30.0+1e-9)
	}
	assert.Equal(t, 3.0, s.At(-0.2))
	assert.Equal(t, 3.0, s.At(1.5))

	// Flat between equal knots.
	assert.InDelta(t, 3.0, s.At(0.15), 1e-9)
}

func TestTwoPointSplineIsLinear(t *testing.T) {
	s, err := NewSpline([]float64{0, 2}, []float64{0, 4})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, s.At(1), 1e-12)
	assert.Equal(t, 4.0, s.At(3))
}

func TestSplineControllerPhase(t *testing.T) {
	a := &fakeActuator{}
	clock := timing.NewManualClock(0)
	c, err := NewSplineController("test", a, clock, []float64{0, 0.5, 1}, []float64{0, 10, 0}, true, 5)
	require.NoError(t, err)

	a.sample.GaitPhase = exo.UnknownPhase
	require.NoError(t, c.Command(false))
	assert.Equal(t, 0.0, a.lastTorque())

	a.sample.GaitPhase = exo.KnownPhase(0.5)
	require.NoError(t, c.Command(false))
	assert.InDelta(t, 10.0, a.lastTorque(), 1e-9)
	assert.Empty(t, a.gains)
}

func TestSplineControllerTimeBased(t *testing.T) {
	a := &fakeActuator{}
	clock := timing.NewManualClock(100)
	c, err := NewSplineController("ramp", a, clock, []float64{0, 1}, []float64{0, 5}, false, 0)
	require.NoError(t, err)

	clock.Set(200)
	require.NoError(t, c.Command(true))
	assert.Len(t, a.gains, 1)
	assert.Equal(t, 0.0, a.lastTorque())

	clock.Advance(0.5)
	require.NoError(t, c.Command(false))
	assert.InDelta(t, 2.5, a.lastTorque(), 1e-9)

	// Past the last knot the end value is held.
	clock.Advance(3)
	require.NoError(t, c.Command(false))
	assert.Equal(t, 5.0, a.lastTorque())
}

func TestSplineFade(t *testing.T) {
	a := &fakeActuator{}
	clock := timing.NewManualClock(0)
	c, err := NewSplineController("fade", a, clock, []float64{0, 1}, []float64{0, 10}, true, 4)
	require.NoError(t, err)

	clock.Set(10)
	assert.False(t, c.Fading())
	require.NoError(t, c.UpdateSpline([]float64{0, 1}, []float64{10, 30}))
	assert.True(t, c.Fading())

	phase := 0.5
	oldV, newV := 5.0, 20.0
	assert.InDelta(t, oldV, c.Torque(phase), 1e-9)

	clock.Set(11)
	assert.InDelta(t, 0.75*oldV+0.25*newV, c.Torque(phase), 1e-9)
	clock.Set(12)
	assert.InDelta(t, (oldV+newV)/2, c.Torque(phase), 1e-9)
	for _, now := range []float64{10.5, 11.5, 12.5, 13.5} {
		clock.Set(now)
		v := c.Torque(phase)
		assert.GreaterOrEqual(t, v, oldV)
		assert.LessOrEqual(t, v, newV)
	}
	assert.True(t, c.Fading())
	clock.Set(14)
	assert.InDelta(t, newV, c.Torque(phase), 1e-9)
	assert.False(t, c.Fading(), "old spline kept after the fade")
	assert.Nil(t, c.lastSpline)

	// Re-sending the same points does not restart the fade.
	require.NoError(t, c.UpdateSpline([]float64{0, 1}, []float64{10, 30}))
	assert.InDelta(t, newV, c.Torque(phase), 1e-9)
}

func TestPointGenerators(t *testing.T) {
	xs, ys := FourPointPoints(0.2, 0.5, 0.7, 20, 2, 0.1)
	assert.Equal(t, []float64{0, 0.2, 0.5, 0.6, 0.7, 1}, xs)
	assert.Equal(t, []float64{2, 2, 20, 20, 2, 2}, ys)

	xs, ys = HipPoints(0.1, 0.3, 0.6, 0.9, -5, -15, 12, 3, 0)
	assert.Equal(t, []float64{0, 0.1, 0.3, 0.6, 0.9, 1}, xs)
	assert.Equal(t, []float64{-5, -15, 3, 12, 3, -5}, ys)

	xs, ys = HipPoints(0.1, 0.3, 0.6, 0.9, -5, -15, 12, 3, 0.05)
	assert.Len(t, xs, 8)
	assert.InDelta(t, 0.15, xs[2], 1e-12)
	assert.InDelta(t, 0.65, xs[5], 1e-12)
	assert.Equal(t, []float64{-5, -15, -15, 3, 12, 12, 3, -5}, ys)
}

func TestHipSplineFromConfig(t *testing.T) {
	a := &fakeActuator{}
	clock := timing.NewManualClock(0)
	cfg := config.Default()
	c, err := NewHipSpline(a, clock, cfg)
	require.NoError(t, err)

	a.sample.GaitPhase = exo.KnownPhase(cfg.PeakFraction)
	require.NoError(t, c.Command(true))
	assert.InDelta(t, cfg.FlexionMaxTorque, a.lastTorque(), 1e-9)

	next := cfg.Clone()
	next.FlexionMaxTorque = 20
	next.FadeDuration = 2
	require.NoError(t, c.UpdateFromConfig(next))
	assert.Equal(t, 2.0, c.FadeDuration)

	clock.Advance(1)
	assert.InDelta(t, 15.0, c.Torque(cfg.PeakFraction), 1e-9)
	clock.Advance(1)
	assert.InDelta(t, 20.0, c.Torque(cfg.PeakFraction), 1e-9)
}

func TestFourPointSplineFromConfig(t *testing.T) {
	a := &fakeActuator{}
	cfg := config.Default()
	cfg.Task = config.TaskStanceSwing
	cfg.FallFraction = 0.8
	c, err := NewFourPointSpline(a, timing.NewManualClock(0), cfg)
	require.NoError(t, err)
	assert.InDelta(t, cfg.PeakTorque, c.Torque(cfg.PeakFraction), 1e-9)
	assert.InDelta(t, cfg.SplineBias, c.Torque(0.1), 1e-9)
}

func TestImpedanceController(t *testing.T) {
	a := &fakeActuator{}
	cfg := config.Default()
	cfg.SetPoint = 12
	c := NewImpedanceController(a, cfg)

	require.NoError(t, c.Command(true))
	require.NoError(t, c.Command(false))
	assert.Len(t, a.gains, 1)
	assert.Equal(t, []impedanceCmd{{1200, 500, 0}, {1200, 500, 0}}, a.impedance)

	next := cfg.Clone()
	next.KVal, next.BVal, next.SetPoint = 800, 400, -3
	require.NoError(t, c.UpdateFromConfig(next))
	require.NoError(t, c.Command(false))
	assert.Equal(t, impedanceCmd{-300, 800, 400}, a.impedance[2])

	a.noZero = true
	err := c.Command(false)
	assert.True(t, errors.Is(err, exo.ErrConfiguration))
}

func TestRampController(t *testing.T) {
	a := &fakeActuator{}
	clock := timing.NewManualClock(0)
	cfg := config.Default()
	cfg.SplineBias = 4
	cfg.TransitionDuration = 0.2

	in, err := NewTransitionIn(a, clock, cfg)
	require.NoError(t, err)
	out, err := NewTransitionOut(a, clock, cfg)
	require.NoError(t, err)

	clock.Set(5)
	require.NoError(t, in.Command(true))
	assert.False(t, in.Done())
	assert.Equal(t, 0.0, a.lastTorque())

	clock.Advance(0.1)
	require.NoError(t, in.Command(false))
	assert.InDelta(t, 2.0, a.lastTorque(), 1e-9)
	assert.False(t, in.Done())

	clock.Advance(0.1)
	assert.True(t, in.Done())

	require.NoError(t, out.Command(true))
	assert.InDelta(t, 4.0, a.lastTorque(), 1e-9)
	clock.Advance(0.25)
	require.NoError(t, out.Command(false))
	assert.Equal(t, 0.0, a.lastTorque())
	assert.True(t, out.Done())

	var _ CompletionChecker = in
}

func TestConstantTorque(t *testing.T) {
	a := &fakeActuator{}
	cfg := config.Default()

	fixed := NewConstantTorque(a, 0)
	bias := NewBiasTorque(a, cfg)

	next := cfg.Clone()
	next.SplineBias = 7
	require.NoError(t, fixed.UpdateFromConfig(next))
	require.NoError(t, bias.UpdateFromConfig(next))

	require.NoError(t, fixed.Command(true))
	assert.Equal(t, 0.0, a.lastTorque())
	require.NoError(t, bias.Command(false))
	assert.Equal(t, 7.0, a.lastTorque())
	assert.Len(t, a.gains, 1)
}

func TestRMSCurrent(t *testing.T) {
	s, err := NewSpline([]float64{0, 1}, []float64{9, 9})
	require.NoError(t, err)
	want := 9 / exo.TransmissionRatio / exo.MotorCurrentToMotorTorque
	assert.InEpsilon(t, want, RMSCurrent(s), 1e-9)

	zero, err := NewSpline([]float64{0, 1}, []float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, RMSCurrent(zero))
}
