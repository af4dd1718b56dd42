// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/hip_exo/internal/app"
)

func main() {
	var opts app.Options

	cmd := &cobra.Command{
		Use:   "exo",
		Short: "Run the hip exoskeleton control loop",
		Long: `Runs the hip exoskeleton control loop for one or two actuator packs.

Parameters can be changed while running by typing messages on stdin, for
example "p25!" for a 25 Nm peak torque, "a" to re-apply the current
parameters or "quit" to stop. With --watch, edits to the config file are
staged the same way.

Without --hardware-connected the loop replays the --offline-left and
--offline-right files, or simulates both packs when none are given.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ConfigPath, "config", "exo_config.txt", "KEY=VALUE configuration file")
	f.StringVar(&opts.PortsPath, "ports", "ports.yaml", "actuator serial ports file")
	f.BoolVar(&opts.HardwareConnected, "hardware-connected", true, "open the actuator packs listed in --ports")
	f.StringVar(&opts.OfflineLeft, "offline-left", "", "recorded LEFT telemetry CSV to replay")
	f.StringVar(&opts.OfflineRight, "offline-right", "", "recorded RIGHT telemetry CSV to replay")
	f.Float64Var(&opts.OfflineDuration, "offline-duration", 0, "stop an offline run after this many seconds, 0 runs to the end of the shorter file")
	f.StringVar(&opts.FileID, "file-id", "", "suffix for the telemetry file names")
	f.BoolVar(&opts.Watch, "watch", false, "stage edits to the config file while running")

	log.Println("starting hip exo controller")
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
