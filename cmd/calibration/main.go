// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Standing calibration for the hip actuator packs. The wearer stands upright
// and still; the low-passed motor angle of each pack is averaged and written
// back to the config file as HIP_LEFT_ZERO_POSITION / HIP_RIGHT_ZERO_POSITION.
// The controller refuses hip-angle commands until these exist.
//
// Run:
//
//	go run ./cmd/calibration --config exo_config.txt --ports ports.yaml
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/hip_exo/internal/actuator"
	"github.com/relabs-tech/hip_exo/internal/app"
	"github.com/relabs-tech/hip_exo/internal/config"
	"github.com/relabs-tech/hip_exo/internal/timing"
)

func main() {
	var (
		configPath string
		portsPath  string
		duration   time.Duration
		noPrompt   bool
	)

	cmd := &cobra.Command{
		Use:          "calibration",
		Short:        "Record the standing zero of each hip actuator",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath, portsPath, duration, noPrompt)
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", "exo_config.txt", "config file to write the zero positions into")
	f.StringVar(&portsPath, "ports", "ports.yaml", "actuator serial ports file")
	f.DurationVar(&duration, "duration", 5*time.Second, "how long to average the standing angle")
	f.BoolVar(&noPrompt, "yes", false, "start without waiting for Enter")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(ctx context.Context, configPath, portsPath string, duration time.Duration, noPrompt bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ports, err := config.LoadPorts(portsPath)
	if err != nil {
		return err
	}

	var transports []actuator.Transport
	defer func() {
		for _, t := range transports {
			if err := t.Close(); err != nil {
				log.Printf("close: %v", err)
			}
		}
	}()
	for _, d := range ports.Devices {
		t, err := actuator.OpenSerial(d.Port, ports.BaudRate, cfg.ActpackFreq)
		if err != nil {
			return err
		}
		transports = append(transports, t)
	}

	if !noPrompt {
		fmt.Printf("Stand upright with both legs straight and still, then press Enter (%s)...", duration)
		if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
	}

	zeros, err := app.Calibrate(ctx, transports, timing.NewPacer(cfg.TargetFreq), cfg.TargetFreq, duration)
	if err != nil {
		return err
	}
	if err := app.SaveZeros(configPath, zeros); err != nil {
		return err
	}
	for side, z := range zeros {
		fmt.Printf("%-5s zero position: %.2f clicks\n", side, z)
	}
	fmt.Printf("written to %s\n", configPath)
	return nil
}
