package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/hip_exo/internal/actuator"
	"github.com/relabs-tech/hip_exo/internal/config"
	"github.com/relabs-tech/hip_exo/internal/exo"
	"github.com/relabs-tech/hip_exo/internal/gait"
	"github.com/relabs-tech/hip_exo/internal/params"
	"github.com/relabs-tech/hip_exo/internal/statemachine"
	"github.com/relabs-tech/hip_exo/internal/telemetry"
	"github.com/relabs-tech/hip_exo/internal/timing"
)

type noPace struct{}

func (noPace) Pause() time.Duration { return 0 }

type recordingSink struct {
	samples map[string][]exo.Sample
	configs []telemetry.ConfigRow
	closed  int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{samples: make(map[string][]exo.Sample)}
}

func (r *recordingSink) Write(stream string, rec telemetry.Record) error {
	switch v := rec.(type) {
	case *exo.Sample:
		r.samples[stream] = append(r.samples[stream], *v)
	case telemetry.ConfigRow:
		r.configs = append(r.configs, v)
	}
	return nil
}

func (r *recordingSink) Flush() error { return nil }
func (r *recordingSink) Close() error { r.closed++; return nil }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.PrintHS, cfg.PrintTO = false, false
	return cfg
}

func newSimExo(t *testing.T, side exo.Side, clock timing.Clock, cfg *config.Config) (*exo.Exo, *actuator.SimTransport) {
	t.Helper()
	devID := exo.RightDevIDs[0]
	if side == exo.SideLeft {
		devID = exo.LeftDevIDs[0]
	}
	sim := actuator.NewSimTransport(actuator.SimOptions{
		DevID:        devID,
		ClicksPerDeg: side.MotorSign() / exo.MotorClicksToDeg,
		Zero:         simZero,
		Clock:        clock,
	})
	e, err := exo.New(sim, cfg)
	require.NoError(t, err)
	e.SetZeroReference(simZero)
	e.ShutdownSettle = 0
	return e, sim
}

func newSimLoop(t *testing.T, cfg *config.Config) (*Loop, *recordingSink, *timing.ManualClock, []*actuator.SimTransport) {
	t.Helper()
	clock := timing.NewManualClock(0)
	var (
		sides []*Side
		sims  []*actuator.SimTransport
	)
	for _, s := range []exo.Side{exo.SideLeft, exo.SideRight} {
		e, sim := newSimExo(t, s, clock, cfg)
		side, err := BuildSide(e, clock, cfg)
		require.NoError(t, err)
		sides = append(sides, side)
		sims = append(sims, sim)
	}
	sink := newRecordingSink()
	loop := NewLoop(sides, params.NewShared(cfg), sink, clock, noPace{}, cfg)
	period := 1 / cfg.TargetFreq
	loop.Advance = func() { clock.Advance(period) }
	return loop, sink, clock, sims
}

func TestBuildSide(t *testing.T) {
	tests := []struct {
		task config.Task
		want statemachine.Machine
	}{
		{config.TaskWalking, &statemachine.One{}},
		{config.TaskStanceSwing, &statemachine.StanceSwing{}},
		{config.TaskFourState, &statemachine.FourState{}},
		{config.TaskImpedance, &statemachine.One{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.task), func(t *testing.T) {
			cfg := testConfig()
			cfg.Task = tt.task
			clock := timing.NewManualClock(0)
			e, _ := newSimExo(t, exo.SideLeft, clock, cfg)

			side, err := BuildSide(e, clock, cfg)
			require.NoError(t, err)
			assert.IsType(t, tt.want, side.Machine)
			assert.Equal(t, telemetry.StreamLeft, side.Stream)
			require.NoError(t, side.Machine.Step(false))
		})
	}

	t.Run("unknown task", func(t *testing.T) {
		cfg := testConfig()
		clock := timing.NewManualClock(0)
		e, _ := newSimExo(t, exo.SideRight, clock, cfg)
		cfg.Task = "RUNNING"
		_, err := BuildSide(e, clock, cfg)
		assert.ErrorIs(t, err, config.ErrConfiguration)
	})
}

func TestLoopRunsForDuration(t *testing.T) {
	cfg := testConfig()
	loop, sink, _, sims := newSimLoop(t, cfg)
	loop.Duration = 6

	require.NoError(t, loop.Run(context.Background()))

	assert.InDelta(t, 6*cfg.TargetFreq, loop.Ticks(), 2)
	require.NotEmpty(t, sink.configs)
	assert.Zero(t, sink.configs[0].LoopTime)
	assert.Len(t, sink.samples[telemetry.StreamLeft], loop.Ticks())
	assert.Len(t, sink.samples[telemetry.StreamRight], loop.Ticks())
	assert.Equal(t, 1, sink.closed)

	left := sink.samples[telemetry.StreamLeft]
	toeOffs, sawPhase := 0, false
	for _, s := range left {
		if s.DidToeOff {
			toeOffs++
		}
		if s.GaitPhase.Valid {
			sawPhase = true
		}
		assert.Equal(t, "active", s.ControllerState)
	}
	assert.GreaterOrEqual(t, toeOffs, 3)
	assert.True(t, sawPhase, "phase never became available")
	for _, s := range left {
		assert.InDelta(t, 10, s.HipAngle, 25.01)
	}

	for _, sim := range sims {
		mode, _, _ := sim.Last()
		assert.Equal(t, actuator.ModeOff, mode, "exo left running after shutdown")
	}
}

func TestLoopQuit(t *testing.T) {
	loop, sink, _, sims := newSimLoop(t, testConfig())
	loop.Shared.RequestQuit()

	require.NoError(t, loop.Run(context.Background()))
	assert.Zero(t, loop.Ticks())
	assert.Equal(t, 1, sink.closed)
	for _, sim := range sims {
		mode, _, _ := sim.Last()
		assert.Equal(t, actuator.ModeOff, mode)
	}

	// a second shutdown is a no-op
	require.NoError(t, loop.Shutdown())
	assert.Equal(t, 1, sink.closed)
}

func TestLoopCancel(t *testing.T) {
	loop, sink, _, _ := newSimLoop(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, loop.Run(ctx))
	assert.Equal(t, 1, sink.closed)
}

func TestLoopAppliesStagedParameters(t *testing.T) {
	cfg := testConfig()
	loop, sink, _, _ := newSimLoop(t, cfg)

	_, err := loop.Tick()
	require.NoError(t, err)

	require.NoError(t, loop.Shared.Stage(func(c *config.Config) error {
		c.FlexionMaxTorque = 8
		c.MaxAllowableCurrent = 5000
		c.Task = config.TaskImpedance
		return nil
	}))

	done, err := loop.Tick()
	require.NoError(t, err)
	assert.False(t, done)

	assert.Equal(t, 8.0, loop.Config().FlexionMaxTorque)
	assert.Equal(t, config.TaskWalking, loop.Config().Task, "task changes need a restart")
	require.Len(t, sink.configs, 1)
	assert.Greater(t, sink.configs[0].LoopTime, 0.0)
	for _, s := range loop.Sides {
		assert.Equal(t, 5000, s.Exo.Limits().MaxCurrent)
	}

	// no pending update, no config row
	_, err = loop.Tick()
	require.NoError(t, err)
	assert.Len(t, sink.configs, 1)
}

func TestLoopRejectsInvalidUpdateWhole(t *testing.T) {
	cfg := testConfig()
	cfg.Task = config.TaskFourState
	cfg.RiseFraction, cfg.PeakFraction, cfg.FallFraction = 0.3, 0.5, 0.7
	require.NoError(t, cfg.Validate())
	loop, sink, _, _ := newSimLoop(t, cfg)

	_, err := loop.Tick()
	require.NoError(t, err)

	// fractions that only pass the hip spline checks of another task
	invalid := func(c *config.Config) {
		c.Task = config.TaskWalking
		c.RiseFraction, c.PeakFraction, c.FallFraction = 0.7, 0.55, 0.8
		c.HeelStrikeFraction = 0.25
		c.MaximumAngle = 7
	}
	assertUnchanged := func(t *testing.T) {
		t.Helper()
		got := loop.Config()
		assert.Equal(t, config.TaskFourState, got.Task)
		assert.Equal(t, 0.3, got.RiseFraction)
		assert.Equal(t, 0.7, got.FallFraction)
		assert.Equal(t, cfg.HeelStrikeFraction, got.HeelStrikeFraction)
		for _, s := range loop.Sides {
			est := s.Estimator.(*gait.Estimator)
			assert.Equal(t, cfg.HeelStrikeFraction, est.HeelStrike.(*gait.HeelStrikeDetector).Fraction)
			assert.Equal(t, cfg.MaximumAngle, est.ToeOff.(*gait.ToeOffDetector).MaximumAngle)
		}
		assert.Empty(t, sink.configs)
	}

	t.Run("staging validates against the running task", func(t *testing.T) {
		err := loop.Shared.Stage(func(c *config.Config) error {
			invalid(c)
			return nil
		})
		require.ErrorIs(t, err, config.ErrConfiguration)

		done, err := loop.Tick()
		require.NoError(t, err)
		assert.False(t, done)
		assertUnchanged(t)
	})

	t.Run("apply checks before touching a side", func(t *testing.T) {
		next := loop.Config().Clone()
		invalid(next)
		err := loop.apply(next, 1)
		require.ErrorIs(t, err, config.ErrConfiguration)
		assertUnchanged(t)
	})
}

func TestLoopReadOnly(t *testing.T) {
	cfg := testConfig()
	cfg.ReadOnly = true
	loop, sink, _, sims := newSimLoop(t, cfg)

	for i := 0; i < 10; i++ {
		_, err := loop.Tick()
		require.NoError(t, err)
	}
	for _, s := range sink.samples[telemetry.StreamLeft] {
		assert.Nil(t, s.CommandedTorque)
	}
	_, current, _ := sims[0].Last()
	assert.Zero(t, current)
}

const replayCSV = `loop_time,state_time,hip_angle,hip_velocity,motor_current
0.0057,1.000,10.0,0,0
0.0114,1.005,10.5,100,0
0.0171,1.010,11.0,100,0
`

func TestLoopEndOfData(t *testing.T) {
	cfg := testConfig()
	clock := timing.NewManualClock(0)

	short, err := actuator.NewReplayTransport(strings.NewReader(replayCSV), exo.LeftDevIDs[0])
	require.NoError(t, err)
	long, err := actuator.NewReplayTransport(strings.NewReader(replayCSV+"0.0228,1.015,11.5,100,0\n"), exo.RightDevIDs[0])
	require.NoError(t, err)

	var sides []*Side
	for _, tr := range []actuator.Transport{short, long} {
		e, err := exo.New(tr, cfg)
		require.NoError(t, err)
		e.ShutdownSettle = 0
		side, err := BuildSide(e, clock, cfg)
		require.NoError(t, err)
		sides = append(sides, side)
	}
	sink := newRecordingSink()
	loop := NewLoop(sides, params.NewShared(cfg), sink, clock, noPace{}, cfg)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 3, loop.Ticks())
	require.Len(t, sink.samples[telemetry.StreamLeft], 3)
	assert.Equal(t, 11.0, sink.samples[telemetry.StreamLeft][2].HipAngle)
	assert.Positive(t, short.Commands)
}

type scriptedMachine struct {
	err   error
	panic bool
	steps int
}

func (m *scriptedMachine) Step(bool) error {
	m.steps++
	if m.panic {
		panic("controller blew up")
	}
	return m.err
}

func (m *scriptedMachine) UpdateFromConfig(*config.Config) error { return nil }
func (m *scriptedMachine) State() statemachine.State             { return statemachine.Active }

func scriptedLoop(t *testing.T, m statemachine.Machine) (*Loop, *recordingSink, *actuator.SimTransport) {
	t.Helper()
	cfg := testConfig()
	clock := timing.NewManualClock(0)
	e, sim := newSimExo(t, exo.SideRight, clock, cfg)
	side, err := BuildSide(e, clock, cfg)
	require.NoError(t, err)
	side.Machine = m

	sink := newRecordingSink()
	loop := NewLoop([]*Side{side}, params.NewShared(cfg), sink, clock, noPace{}, cfg)
	loop.Advance = func() { clock.Advance(0.01) }
	return loop, sink, sim
}

func TestLoopSafetyViolationKeepsRunning(t *testing.T) {
	m := &scriptedMachine{err: fmt.Errorf("wrapped: %w", exo.ErrSafetyViolation)}
	loop, sink, _ := scriptedLoop(t, m)

	for i := 0; i < 3; i++ {
		done, err := loop.Tick()
		require.NoError(t, err)
		assert.False(t, done)
	}
	assert.True(t, loop.Sides[0].violating)
	assert.Len(t, sink.samples[telemetry.StreamRight], 3)

	m.err = nil
	_, err := loop.Tick()
	require.NoError(t, err)
	assert.False(t, loop.Sides[0].violating)
}

func TestLoopTransportErrorIsFatal(t *testing.T) {
	m := &scriptedMachine{err: fmt.Errorf("exo right: %w", exo.ErrTransport)}
	loop, sink, sim := scriptedLoop(t, m)

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, exo.ErrTransport)
	assert.Equal(t, 1, m.steps)
	assert.Equal(t, 1, sink.closed)
	mode, _, _ := sim.Last()
	assert.Equal(t, actuator.ModeOff, mode)
}

func TestLoopPanicShutsDown(t *testing.T) {
	loop, sink, sim := scriptedLoop(t, &scriptedMachine{panic: true})

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "controller blew up")
	assert.Equal(t, 1, sink.closed)
	mode, _, _ := sim.Last()
	assert.Equal(t, actuator.ModeOff, mode)
}

type constTransport struct {
	devID int
	angle int32
	reads int
}

func (c *constTransport) DeviceID() int { return c.devID }
func (c *constTransport) Read() (actuator.RawSample, error) {
	c.reads++
	return actuator.RawSample{MotorAngle: c.angle}, nil
}
func (c *constTransport) SendCommand(actuator.Mode, int32) error { return nil }
func (c *constTransport) SetGains(actuator.Gains) error         { return nil }
func (c *constTransport) Close() error                          { return nil }

func TestCalibrate(t *testing.T) {
	left := &constTransport{devID: exo.LeftDevIDs[0], angle: 5000}
	right := &constTransport{devID: exo.RightDevIDs[0], angle: -300}

	zeros, err := Calibrate(context.Background(), []actuator.Transport{left, right}, noPace{}, 100, 2*time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 5000, zeros[exo.SideLeft], 1e-9)
	assert.InDelta(t, -300, zeros[exo.SideRight], 1e-9)
	assert.Equal(t, 200, left.reads)

	_, err = Calibrate(context.Background(), []actuator.Transport{left}, noPace{}, 100, 10*time.Millisecond)
	assert.ErrorIs(t, err, config.ErrConfiguration)

	_, err = Calibrate(context.Background(), []actuator.Transport{&constTransport{devID: 7}}, noPace{}, 100, time.Second)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestSaveZeros(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exo_config.txt")
	require.NoError(t, os.WriteFile(path, []byte("# subject 3\nTASK=STANCE_SWING\n"), 0o644))

	require.NoError(t, SaveZeros(path, map[exo.Side]float64{exo.SideLeft: 5000, exo.SideRight: -300.25}))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.TaskStanceSwing, cfg.Task)
	z, err := cfg.ZeroPosition("left")
	require.NoError(t, err)
	assert.Equal(t, 5000.0, z)
	z, err = cfg.ZeroPosition("right")
	require.NoError(t, err)
	assert.Equal(t, -300.25, z)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# subject 3\n"))
}

func TestFormatMonitorLine(t *testing.T) {
	torque := 4.5
	s := &exo.Sample{Side: exo.SideLeft, LoopTime: 1.25, HipAngle: 12.5, GaitPhase: exo.KnownPhase(0.4),
		CommandedTorque: &torque, ControllerState: "stance", BatteryVoltage: 24000}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	payload, err := json.Marshal(monitorMessage{Session: "abc", Stream: "LEFT", Data: data})
	require.NoError(t, err)

	line, err := FormatMonitorLine(payload)
	require.NoError(t, err)
	assert.Contains(t, line, "[LEFT ]")
	assert.Contains(t, line, "hip=  12.50")
	assert.Contains(t, line, "phase= 0.400")
	assert.Contains(t, line, "torque=  4.50")
	assert.Contains(t, line, "state=stance")

	s.GaitPhase, s.CommandedTorque, s.IsClipping = exo.UnknownPhase, nil, true
	data, _ = json.Marshal(s)
	payload, _ = json.Marshal(monitorMessage{Stream: "RIGHT", Data: data})
	line, err = FormatMonitorLine(payload)
	require.NoError(t, err)
	assert.Contains(t, line, "phase=  None")
	assert.True(t, strings.HasSuffix(line, " CLIP"))

	cfgRow, err := json.Marshal(telemetry.ConfigRow{Config: testConfig(), LoopTime: 2, ActualTime: time.Now()})
	require.NoError(t, err)
	payload, _ = json.Marshal(monitorMessage{Session: "abc", Stream: "CONFIG", Data: cfgRow})
	line, err = FormatMonitorLine(payload)
	require.NoError(t, err)
	assert.Contains(t, line, "task=WALKING")
	assert.Contains(t, line, "loop_time=2")

	_, err = FormatMonitorLine([]byte("{"))
	assert.Error(t, err)
}

func TestWebHandler(t *testing.T) {
	hub := telemetry.NewHub("session-1", 0)
	srv := httptest.NewServer(NewWebHandler(hub, "session-1"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, hub.Write(telemetry.StreamLeft, &exo.Sample{Side: exo.SideLeft, HipAngle: 3}))

	resp, err = http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "session-1", st.Session)
	assert.Contains(t, st.Streams, telemetry.StreamLeft)

	m, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	m.Body.Close()
	assert.Equal(t, http.StatusOK, m.StatusCode)
}

func TestRunWebStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- RunWeb(ctx, "127.0.0.1:0", http.NotFoundHandler()) }()
	cancel()
	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("web server did not stop")
	}
}
