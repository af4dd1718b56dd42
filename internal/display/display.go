// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package display shows both sides' hip angle, gait phase and torque on a
// 128x64 SSD1306 OLED mounted on the exo belt.
package display

import (
	"context"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/hip_exo/internal/exo"
	"github.com/relabs-tech/hip_exo/internal/telemetry"
)

// Device is the part of ssd1306.Dev the panel draws on.
type Device interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Halt() error
}

type sideData struct {
	hipAngle float64
	phase    exo.Phase
	torque   *float64
	state    string
	have     bool
}

// Panel is a telemetry sink. Write keeps the latest sample per side; Run
// redraws on a ticker so the control loop never waits on I2C.
type Panel struct {
	dev      Device
	bus      i2c.BusCloser
	interval time.Duration

	mu    sync.RWMutex
	left  sideData
	right sideData

	// devMu orders draws against Close; nothing reaches the bus once
	// closed is set.
	devMu  sync.Mutex
	closed bool
}

// Open initialises periph, opens the I2C bus (empty name for the first one)
// and the display.
func Open(busName string, interval time.Duration) (*Panel, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized on %s", bus)

	p := NewPanel(dev, interval)
	p.bus = bus
	return p, nil
}

func NewPanel(dev Device, interval time.Duration) *Panel {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Panel{dev: dev, interval: interval}
}

func (p *Panel) Write(stream string, rec telemetry.Record) error {
	s, ok := rec.(*exo.Sample)
	if !ok {
		return nil
	}
	d := sideData{hipAngle: s.HipAngle, phase: s.GaitPhase, state: s.ControllerState, have: true}
	if s.CommandedTorque != nil {
		v := *s.CommandedTorque
		d.torque = &v
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch stream {
	case telemetry.StreamLeft:
		p.left = d
	case telemetry.StreamRight:
		p.right = d
	}
	return nil
}

func (p *Panel) Flush() error { return nil }

// Close blanks the display and releases the bus. It waits for a draw in
// progress and is a no-op the second time.
func (p *Panel) Close() error {
	p.devMu.Lock()
	defer p.devMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	err := p.dev.Halt()
	if p.bus != nil {
		if cerr := p.bus.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Run shows the splash screen, then redraws until ctx is done.
func (p *Panel) Run(ctx context.Context, title string) error {
	if err := p.draw(splash(title)); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Refresh(); err != nil {
				log.Printf("display: error updating display: %v", err)
			}
		}
	}
}

// Refresh draws the latest data once.
func (p *Panel) Refresh() error {
	p.mu.RLock()
	left, right := p.left, p.right
	p.mu.RUnlock()
	return p.draw(render(left, right))
}

func (p *Panel) draw(img image.Image) error {
	p.devMu.Lock()
	defer p.devMu.Unlock()
	if p.closed {
		return nil
	}
	return p.dev.Draw(p.dev.Bounds(), img, image.Point{})
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func line(d *font.Drawer, x, y int, s string) {
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}

// render lays the two sides out as columns: label, hip angle, phase, torque.
func render(left, right sideData) *image1bit.VerticalLSB {
	img, d := newCanvas()
	for i, s := range []struct {
		label string
		data  sideData
	}{{"L", left}, {"R", right}} {
		x := i * 64
		line(d, x, 13, s.label+" "+s.data.state)
		if !s.data.have {
			line(d, x, 39, "Waiting")
			continue
		}
		line(d, x, 26, fmt.Sprintf("H%6.1f", s.data.hipAngle))
		line(d, x, 39, "P "+s.data.phase.String())
		torque := "   -"
		if s.data.torque != nil {
			torque = fmt.Sprintf("%5.1f", *s.data.torque)
		}
		line(d, x, 52, "T"+torque)
	}
	return img
}

func splash(title string) *image1bit.VerticalLSB {
	img, d := newCanvas()
	line(d, 10, 26, "Hip Exo")
	line(d, 0, 43, title)
	return img
}
