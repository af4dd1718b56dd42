package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/hip_exo/internal/config"
	"github.com/relabs-tech/hip_exo/internal/exo"
)

type source struct{ s exo.Sample }

func (s *source) Sample() *exo.Sample { return &s.s }

type fakeController struct {
	name    string
	log     *[]string
	done    bool
	updates int
}

func (f *fakeController) Command(reset bool) error {
	entry := f.name
	if reset {
		entry += "*"
	}
	*f.log = append(*f.log, entry)
	return nil
}

func (f *fakeController) UpdateFromConfig(*config.Config) error {
	f.updates++
	return nil
}

func (f *fakeController) Done() bool { return f.done }

type tick struct {
	hs, to bool
	phase  exo.Phase
}

func run(t *testing.T, m Machine, src *source, ticks []tick) {
	t.Helper()
	for _, tk := range ticks {
		src.s.DidHeelStrike = tk.hs
		src.s.DidToeOff = tk.to
		src.s.GaitPhase = tk.phase
		require.NoError(t, m.Step(false))
	}
}

var p = exo.KnownPhase(0.5)

func TestOne(t *testing.T) {
	var log []string
	src := &source{}
	c := &fakeController{name: "spline", log: &log}
	m := NewOne(src, c)

	run(t, m, src, []tick{{phase: p}, {hs: true, phase: p}, {to: true}})
	assert.Equal(t, []string{"spline*", "spline", "spline"}, log)
	assert.Equal(t, "active", src.s.ControllerState)

	require.NoError(t, m.UpdateFromConfig(config.Default()))
	assert.Equal(t, 1, c.updates)
}

func TestStanceSwing(t *testing.T) {
	var log []string
	src := &source{}
	stance := &fakeController{name: "stance", log: &log}
	swing := &fakeController{name: "swing", log: &log}
	m := NewStanceSwing(src, stance, swing)

	run(t, m, src, []tick{
		{},                        // start in swing
		{hs: true},                // heel strike without phase is ignored
		{phase: p},                // still swing
		{hs: true, phase: p},      // -> stance
		{phase: p},                // stay
		{hs: true, phase: p},      // heel strike in stance does nothing
		{to: true, phase: p},      // -> swing
		{to: true, phase: p},      // already swing, no reset
		{hs: true, phase: p},      // -> stance
		{},                        // phase lost -> swing
		{},                        // stays swing
	})
	assert.Equal(t, []string{
		"swing*", "swing", "swing", "stance*", "stance", "stance",
		"swing*", "swing", "stance*", "swing*", "swing",
	}, log)
	assert.Equal(t, Swing, m.State())
	assert.Equal(t, "swing", src.s.ControllerState)
}

func TestStanceSwingReadOnly(t *testing.T) {
	var log []string
	src := &source{}
	m := NewStanceSwing(src, &fakeController{name: "stance", log: &log}, &fakeController{name: "swing", log: &log})

	src.s.DidHeelStrike = true
	src.s.GaitPhase = p
	require.NoError(t, m.Step(true))
	assert.Empty(t, log)
	assert.Equal(t, Stance, m.State())
	assert.Equal(t, "stance", src.s.ControllerState)
}

func TestFourState(t *testing.T) {
	var log []string
	src := &source{}
	swing := &fakeController{name: "swing", log: &log}
	in := &fakeController{name: "in", log: &log}
	stance := &fakeController{name: "stance", log: &log}
	out := &fakeController{name: "out", log: &log}
	m := NewFourState(src, swing, in, stance, out, false)

	run(t, m, src, []tick{{}, {}})
	out.done = true
	run(t, m, src, []tick{{}, {phase: p}, {hs: true, phase: p}, {phase: p}})
	in.done = true
	run(t, m, src, []tick{{phase: p}, {phase: p}, {to: true, phase: p}})
	assert.Equal(t, []string{
		"out*", "out",
		"swing*", "swing", "in*", "in",
		"stance*", "stance", "out*",
	}, log)
	assert.Equal(t, TransitionOut, m.State())
}

func TestFourStatePriority(t *testing.T) {
	var log []string
	src := &source{}
	swing := &fakeController{name: "swing", log: &log}
	in := &fakeController{name: "in", log: &log, done: true}
	stance := &fakeController{name: "stance", log: &log}
	out := &fakeController{name: "out", log: &log, done: true}
	m := NewFourState(src, swing, in, stance, out, false)

	// Just starting wins even when the out ramp is already done.
	run(t, m, src, []tick{{hs: true, phase: p}})
	assert.Equal(t, TransitionOut, m.State())

	// One transition per tick: out -> swing, then swing -> in on the next.
	run(t, m, src, []tick{{hs: true, phase: p}})
	assert.Equal(t, Swing, m.State())
	run(t, m, src, []tick{{hs: true, phase: p}})
	assert.Equal(t, TransitionIn, m.State())
	run(t, m, src, []tick{{to: true, phase: p}})
	assert.Equal(t, Stance, m.State())
}

func TestFourStateSwingOnly(t *testing.T) {
	var log []string
	src := &source{}
	swing := &fakeController{name: "swing", log: &log}
	in := &fakeController{name: "in", log: &log}
	stance := &fakeController{name: "stance", log: &log}
	out := &fakeController{name: "out", log: &log}
	m := NewFourState(src, swing, in, stance, out, false)

	run(t, m, src, []tick{{}})
	cfg := config.Default()
	cfg.SwingOnly = true
	require.NoError(t, m.UpdateFromConfig(cfg))
	for _, c := range []*fakeController{swing, in, stance, out} {
		assert.Equal(t, 1, c.updates)
	}

	run(t, m, src, []tick{{hs: true, phase: p}, {hs: true, phase: p}})
	assert.Equal(t, []string{"out*", "swing*", "swing"}, log)
	assert.Equal(t, Swing, m.State())
}
