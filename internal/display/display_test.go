package display

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/hip_exo/internal/exo"
	"github.com/relabs-tech/hip_exo/internal/telemetry"
)

type fakeDevice struct {
	mu             sync.Mutex
	frames         []image.Image
	halted         bool
	drawnAfterHalt bool
	drawing        chan struct{}
	release        chan struct{}
}

func (f *fakeDevice) Bounds() image.Rectangle { return image.Rect(0, 0, 128, 64) }

func (f *fakeDevice) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	if f.drawing != nil {
		f.drawing <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.halted {
		f.drawnAfterHalt = true
	}
	f.frames = append(f.frames, src)
	return nil
}

func (f *fakeDevice) Halt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.halted = true
	return nil
}

func (f *fakeDevice) isHalted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.halted
}

func (f *fakeDevice) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func lit(img *image1bit.VerticalLSB, x0, x1 int) int {
	n := 0
	for x := x0; x < x1; x++ {
		for y := 0; y < 64; y++ {
			if img.BitAt(x, y) == image1bit.On {
				n++
			}
		}
	}
	return n
}

func TestRender(t *testing.T) {
	torque := 8.0
	img := render(sideData{hipAngle: 20, phase: exo.KnownPhase(0.5), torque: &torque, state: "active", have: true}, sideData{})
	assert.Greater(t, lit(img, 0, 64), 0)
	assert.Greater(t, lit(img, 64, 128), 0)

	blank := render(sideData{}, sideData{})
	assert.Greater(t, lit(img, 0, 64), lit(blank, 0, 64))
}

func TestPanelWriteAndRun(t *testing.T) {
	dev := &fakeDevice{}
	p := NewPanel(dev, 5*time.Millisecond)

	s := &exo.Sample{Side: exo.SideLeft, HipAngle: 10, GaitPhase: exo.KnownPhase(0.3)}
	require.NoError(t, p.Write(telemetry.StreamLeft, s))
	require.NoError(t, p.Write(telemetry.StreamConfig, telemetry.ConfigRow{}))

	p.mu.RLock()
	assert.True(t, p.left.have)
	assert.False(t, p.right.have)
	p.mu.RUnlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, "test") }()
	require.Eventually(t, func() bool { return dev.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.NoError(t, p.Close())
	assert.True(t, dev.halted)
}

func TestPanelCloseWaitsForDraw(t *testing.T) {
	dev := &fakeDevice{drawing: make(chan struct{}), release: make(chan struct{})}
	p := NewPanel(dev, time.Hour)

	refreshed := make(chan error, 1)
	go func() { refreshed <- p.Refresh() }()
	<-dev.drawing

	closed := make(chan error, 1)
	go func() { closed <- p.Close() }()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, dev.isHalted(), "halted while a frame was on the bus")

	close(dev.release)
	require.NoError(t, <-refreshed)
	require.NoError(t, <-closed)
	assert.True(t, dev.isHalted())

	// draws after close never reach the device
	dev.drawing = nil
	require.NoError(t, p.Refresh())
	assert.False(t, dev.drawnAfterHalt)
	assert.Equal(t, 1, dev.count())
	require.NoError(t, p.Close())
}
