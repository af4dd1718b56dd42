// Package syncline reads the external sync input (a trigger from motion
// capture or EMG gear) from a GPIO pin.
package syncline

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

type levelReader interface {
	Read() gpio.Level
}

// Line is a sync input. It satisfies exo.SyncReader.
type Line struct {
	name string
	pin  levelReader
}

// Open initialises the host drivers and configures pin name as a pulled
// down input.
func Open(name string) (*Line, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("sync pin %s not found", name)
	}
	if err := p.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure sync pin %s: %w", name, err)
	}
	log.Printf("syncline: reading sync input on %s", name)
	return &Line{name: name, pin: p}, nil
}

func (l *Line) Read() (bool, error) {
	return l.pin.Read() == gpio.High, nil
}

func (l *Line) String() string { return l.name }
