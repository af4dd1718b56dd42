// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/hip_exo/internal/actuator"
	"github.com/relabs-tech/hip_exo/internal/config"
	"github.com/relabs-tech/hip_exo/internal/display"
	"github.com/relabs-tech/hip_exo/internal/exo"
	"github.com/relabs-tech/hip_exo/internal/params"
	"github.com/relabs-tech/hip_exo/internal/syncline"
	"github.com/relabs-tech/hip_exo/internal/telemetry"
	"github.com/relabs-tech/hip_exo/internal/timing"
)

// simZero is the motor angle the simulated packs report at hip 0°.
const simZero = 10000.0

// Options selects the data source and the parameter inputs of a run.
type Options struct {
	ConfigPath string
	PortsPath  string

	// HardwareConnected opens the serial packs listed in PortsPath.
	// Otherwise the offline files are replayed, or both sides are
	// simulated when there are none.
	HardwareConnected bool
	OfflineLeft       string
	OfflineRight      string
	OfflineDuration   float64 // s, 0 = until the shorter file ends

	FileID string
	Watch  bool // stage CONFIG file edits while running

	Stdin  io.Reader
	Stdout io.Writer
}

func (o Options) offline() bool {
	return !o.HardwareConnected && (o.OfflineLeft != "" || o.OfflineRight != "")
}

// Run loads the configuration, opens the packs and telemetry, and runs the
// control loop with its parameter passers until quit, end of data or ctx
// cancellation.
func Run(ctx context.Context, opts Options) error {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	var (
		clock   timing.Clock = timing.NewMonotonicClock()
		advance func()
	)
	if opts.offline() {
		// Recorded rows are one period apart whatever the replay speed.
		manual := timing.NewManualClock(0)
		period := 1 / cfg.TargetFreq
		clock, advance = manual, func() { manual.Advance(period) }
	}

	transports, err := openTransports(opts, cfg, clock)
	if err != nil {
		return err
	}

	sides, err := buildSides(transports, cfg, clock, !opts.HardwareConnected && !opts.offline())
	if err != nil {
		for _, t := range transports {
			t.Close()
		}
		return err
	}

	session := telemetry.NewSession(time.Now(), opts.FileID)
	log.Printf("app: session %s (%s)", session.ID, session.Prefix)

	sink, hub, panel, err := openSinks(cfg, session, opts.Stdout)
	if err != nil {
		for _, s := range sides {
			s.Exo.Close()
		}
		return err
	}

	shared := params.NewShared(cfg)
	loop := NewLoop(sides, shared, sink, clock, timing.NewPacer(cfg.TargetFreq), cfg)
	loop.Advance = advance
	loop.Duration = opts.OfflineDuration

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return loop.Run(gctx)
	})

	g.Go(func() error {
		return params.NewPasser(opts.Stdin, shared).Run(gctx)
	})

	if opts.Watch {
		w, err := params.NewFileWatcher(opts.ConfigPath, shared)
		if err != nil {
			log.Printf("app: not watching %s: %v", opts.ConfigPath, err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	if hub != nil {
		addr := ":" + strconv.Itoa(cfg.WebServerPort)
		handler := NewWebHandler(hub, session.ID)
		g.Go(func() error {
			// the monitor going down must not stop the exo
			if err := RunWeb(gctx, addr, handler); err != nil {
				log.Printf("app: web monitor stopped: %v", err)
			}
			return nil
		})
	}

	if panel != nil {
		g.Go(func() error { return panel.Run(gctx, "hip exo") })
	}

	return g.Wait()
}

// openTransports picks the data source for this run.
func openTransports(opts Options, cfg *config.Config, clock timing.Clock) ([]actuator.Transport, error) {
	switch {
	case opts.HardwareConnected:
		ports, err := config.LoadPorts(opts.PortsPath)
		if err != nil {
			return nil, err
		}
		var ts []actuator.Transport
		for _, d := range ports.Devices {
			t, err := actuator.OpenSerial(d.Port, ports.BaudRate, cfg.ActpackFreq)
			if err != nil {
				for _, open := range ts {
					open.Close()
				}
				return nil, fmt.Errorf("%w: %w", exo.ErrTransport, err)
			}
			ts = append(ts, t)
		}
		return ts, nil

	case opts.offline():
		var ts []actuator.Transport
		for _, f := range []struct {
			path  string
			devID int
		}{
			{opts.OfflineLeft, exo.LeftDevIDs[0]},
			{opts.OfflineRight, exo.RightDevIDs[0]},
		} {
			if f.path == "" {
				continue
			}
			t, err := actuator.OpenReplay(f.path, f.devID)
			if err != nil {
				for _, open := range ts {
					open.Close()
				}
				return nil, err
			}
			log.Printf("app: replaying %s", f.path)
			ts = append(ts, t)
		}
		return ts, nil

	default:
		log.Println("app: no hardware connected, simulating both packs")
		return []actuator.Transport{
			actuator.NewSimTransport(actuator.SimOptions{
				DevID:        exo.LeftDevIDs[0],
				ClicksPerDeg: exo.SideLeft.MotorSign() / exo.MotorClicksToDeg,
				Zero:         simZero,
				Clock:        clock,
			}),
			actuator.NewSimTransport(actuator.SimOptions{
				DevID:        exo.RightDevIDs[0],
				ClicksPerDeg: exo.SideRight.MotorSign() / exo.MotorClicksToDeg,
				Zero:         simZero,
				Clock:        clock,
			}),
		}, nil
	}
}

// buildSides wraps each transport in an exo and builds its controllers.
func buildSides(transports []actuator.Transport, cfg *config.Config, clock timing.Clock, simulated bool) ([]*Side, error) {
	var line *syncline.Line
	if cfg.DoReadSync {
		l, err := syncline.Open(cfg.SyncPin)
		if err != nil {
			return nil, err
		}
		line = l
	}

	var (
		sides []*Side
		seen  = make(map[exo.Side]bool)
	)
	closeAll := func() {
		for _, s := range sides {
			s.Exo.Close()
		}
	}
	for _, t := range transports {
		e, err := exo.New(t, cfg)
		if err != nil {
			closeAll()
			return nil, err
		}
		if seen[e.Side()] {
			closeAll()
			return nil, errors.Join(
				fmt.Errorf("%w: two packs on the %s side", config.ErrConfiguration, e.Side()),
				e.Close())
		}
		seen[e.Side()] = true

		if simulated {
			e.SetZeroReference(simZero)
		}
		if line != nil {
			e.SetSync(line)
		}

		s, err := BuildSide(e, clock, cfg)
		if err != nil {
			closeAll()
			return nil, errors.Join(err, e.Close())
		}
		sides = append(sides, s)
	}
	return sides, nil
}

// openSinks opens the telemetry outputs cfg enables. The CSV files are
// always written.
func openSinks(cfg *config.Config, session telemetry.Session, stdout io.Writer) (*telemetry.Fanout, *telemetry.Hub, *display.Panel, error) {
	csvSink, err := telemetry.NewCSVSink(cfg.DataDir, session.Prefix)
	if err != nil {
		return nil, nil, nil, err
	}
	sink := telemetry.NewFanout(csvSink)

	if cfg.MQTTBroker != "" {
		m, err := telemetry.DialMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.TopicPrefix, session.ID, cfg.WebBroadcastHz)
		if err != nil {
			log.Printf("app: MQTT telemetry disabled: %v", err)
		} else {
			sink.Add(m)
		}
	}

	var hub *telemetry.Hub
	if cfg.WebServerPort > 0 {
		hub = telemetry.NewHub(session.ID, cfg.WebBroadcastHz)
		sink.Add(hub)
	}

	if cfg.ConsoleEchoHz > 0 {
		sink.Add(telemetry.NewConsoleSink(stdout, cfg.ConsoleEchoHz))
	}

	var panel *display.Panel
	if cfg.DisplayEnabled {
		p, err := display.Open(cfg.DisplayI2CBus, time.Duration(cfg.DisplayUpdateInterval)*time.Millisecond)
		if err != nil {
			log.Printf("app: display disabled: %v", err)
		} else {
			panel = p
			sink.Add(p)
		}
	}
	return sink, hub, panel, nil
}
