package params

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/hip_exo/internal/config"
)

func TestParseRejects(t *testing.T) {
	for _, line := range []string{
		"", "k", "xy", "k300", "z12!", "v1,2,3!", "v1,2,3,4,5,6!", "k-3!", "k2.5!",
		"s4.5!", "p41!", "p-1!", "f1,2,3!", "c1,2,3!", "u1,2,3,4!", "kabc!",
	} {
		t.Run(line, func(t *testing.T) {
			_, err := Parse(line)
			assert.ErrorIs(t, err, config.ErrConfiguration)
		})
	}
}

func TestParseControlMessages(t *testing.T) {
	m, err := Parse("a")
	require.NoError(t, err)
	assert.Equal(t, Reapply, m.Kind)

	m, err = Parse("QUIT\n")
	require.NoError(t, err)
	assert.Equal(t, Quit, m.Kind)

	m, err = Parse("-subject 4, second trial!")
	require.NoError(t, err)
	assert.Equal(t, "subject 4, second trial", m.Note)
}

func TestApply(t *testing.T) {
	tests := []struct {
		line  string
		check func(t *testing.T, c *config.Config)
	}{
		{"v0.2,25,0.5,0.7!", func(t *testing.T, c *config.Config) {
			assert.Equal(t, []float64{0.2, 25, 0.5, 0.7}, []float64{c.RiseFraction, c.PeakTorque, c.PeakFraction, c.FallFraction})
		}},
		{"k300!", func(t *testing.T, c *config.Config) {
			assert.Equal(t, 300, c.KVal)
			assert.Equal(t, 150, c.BVal)
		}},
		{"s-10!", func(t *testing.T, c *config.Config) { assert.Equal(t, -10.0, c.SetPoint) }},
		{"p40!", func(t *testing.T, c *config.Config) { assert.Equal(t, 40.0, c.PeakTorque) }},
		{"f12!", func(t *testing.T, c *config.Config) { assert.Equal(t, 12.0, c.FlexionMaxTorque) }},
		{"f12,0.6!", func(t *testing.T, c *config.Config) {
			assert.Equal(t, 12.0, c.FlexionMaxTorque)
			assert.Equal(t, 0.6, c.PeakFraction)
		}},
		{"e14,0.15!", func(t *testing.T, c *config.Config) {
			assert.Equal(t, -14.0, c.ExtensionMinTorque)
			assert.Equal(t, 0.15, c.MinFraction)
		}},
		{"c11,0.62,13,0.14!", func(t *testing.T, c *config.Config) {
			assert.Equal(t, []float64{11, 0.62, -13, 0.14}, []float64{c.FlexionMaxTorque, c.PeakFraction, c.ExtensionMinTorque, c.MinFraction})
		}},
		{"t0.6,0.35,0.1,0.85!", func(t *testing.T, c *config.Config) {
			assert.Equal(t, []float64{0.6, 0.35, 0.1, 0.85}, []float64{c.PeakFraction, c.FirstZero, c.MinFraction, c.SecondZero})
		}},
		{"u0.6,0.35,0.1,0.85,9,0.64,12,0.13!", func(t *testing.T, c *config.Config) {
			assert.Equal(t, 0.64, c.PeakFraction)
			assert.Equal(t, 0.13, c.MinFraction)
			assert.Equal(t, 0.35, c.FirstZero)
			assert.Equal(t, -12.0, c.ExtensionMinTorque)
		}},
		{"-note!", func(t *testing.T, c *config.Config) { assert.Equal(t, "note", c.ExperimenterNotes) }},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			m, err := Parse(tt.line)
			require.NoError(t, err)
			cfg := config.Default()
			require.NoError(t, m.Apply(cfg))
			tt.check(t, cfg)
		})
	}
}

func TestStageIsAllOrNothing(t *testing.T) {
	s := NewShared(config.Default())

	// first zero after peak breaks the hip spline ordering
	m, err := Parse("t0.6,0.7,0.1,0.85!")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Handle(m), config.ErrConfiguration)

	calls := 0
	quit, err := s.Sync(func(*config.Config) error { calls++; return nil })
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Zero(t, calls)
	assert.Equal(t, 0.37, s.Snapshot().FirstZero)
}

func TestStageKeepsRunningTask(t *testing.T) {
	cfg := config.Default()
	cfg.Task = config.TaskFourState
	cfg.RiseFraction, cfg.PeakFraction, cfg.FallFraction = 0.3, 0.5, 0.7
	s := NewShared(cfg)

	// valid for the hip spline, not for the rise/peak/fall spline
	err := s.Stage(func(c *config.Config) error {
		c.Task = config.TaskWalking
		c.RiseFraction, c.PeakFraction, c.FallFraction = 0.7, 0.55, 0.8
		return nil
	})
	require.ErrorIs(t, err, config.ErrConfiguration)
	assert.Equal(t, 0.3, s.Snapshot().RiseFraction)

	require.NoError(t, s.Stage(func(c *config.Config) error {
		c.Task = config.TaskImpedance
		c.FlexionMaxTorque = 8
		return nil
	}))
	got := s.Snapshot()
	assert.Equal(t, config.TaskFourState, got.Task)
	assert.Equal(t, 8.0, got.FlexionMaxTorque)
}

func TestSync(t *testing.T) {
	s := NewShared(config.Default())

	m, err := Parse("k300!")
	require.NoError(t, err)
	require.NoError(t, s.Handle(m))

	var got *config.Config
	_, err = s.Sync(func(cfg *config.Config) error { got = cfg; return nil })
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 300, got.KVal)

	// flag cleared
	got = nil
	_, err = s.Sync(func(cfg *config.Config) error { got = cfg; return nil })
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Handle(Message{Kind: Reapply}))
	_, err = s.Sync(func(cfg *config.Config) error { got = cfg; return nil })
	require.NoError(t, err)
	assert.NotNil(t, got)

	require.NoError(t, s.Handle(Message{Kind: Quit}))
	quit, err := s.Sync(func(*config.Config) error { return nil })
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestPasser(t *testing.T) {
	s := NewShared(config.Default())
	in := strings.NewReader("p20!\nnonsense\nk9000!\nquit\np30!\n")
	require.NoError(t, NewPasser(in, s).Run(context.Background()))

	var got *config.Config
	quit, err := s.Sync(func(cfg *config.Config) error { got = cfg; return nil })
	require.NoError(t, err)
	assert.True(t, quit)
	require.NotNil(t, got)
	assert.Equal(t, 20.0, got.PeakTorque)
	assert.Equal(t, 500, got.KVal)
}

func TestPasserStopsAtEOF(t *testing.T) {
	s := NewShared(config.Default())
	require.NoError(t, NewPasser(strings.NewReader("a\n"), s).Run(context.Background()))
	quit, err := s.Sync(func(*config.Config) error { return nil })
	require.NoError(t, err)
	assert.False(t, quit)
}

func TestFileWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exo_config.txt")
	require.NoError(t, os.WriteFile(path, []byte("K_VAL=500\n"), 0o644))

	cfg := config.Default()
	zero := 1234.0
	cfg.HipLeftZeroPosition = &zero
	s := NewShared(cfg)

	fw, err := NewFileWatcher(path, s)
	require.NoError(t, err)
	fw.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fw.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte("K_VAL=650\n"), 0o644))
	require.Eventually(t, func() bool { return s.Snapshot().KVal == 650 }, 2*time.Second, 10*time.Millisecond)

	snap := s.Snapshot()
	require.NotNil(t, snap.HipLeftZeroPosition)
	assert.Equal(t, 1234.0, *snap.HipLeftZeroPosition)

	// an invalid edit is ignored
	require.NoError(t, os.WriteFile(path, []byte("K_VAL=9000\n"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 650, s.Snapshot().KVal)

	cancel()
	require.NoError(t, <-done)
}
