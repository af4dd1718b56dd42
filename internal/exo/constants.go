// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package exo wraps one hip actuator pack: unit conversion of its readings,
// the per-tick Sample, and every motor command with its safety guards.
package exo

// Hardware constants. These do not change between subjects or sessions.
const (
	// Hip range of motion, deg.
	MaxHipAngle = 86.0
	MinHipAngle = -63.0

	// Motor clicks to hip degrees, 16384 clicks per motor rotation.
	MotorClicksToDeg = (3.60 / 16384) * 0.1125
	// q-axis motor current to motor torque, Nm per mA.
	MotorCurrentToMotorTorque = 0.000146
	TransmissionRatio         = 9.0

	AccelGain = 1.0 / 8192  // LSB -> g
	GyroGain  = 1.0 / 32.75 // LSB -> deg/s

	// Pack controller defaults.
	DefaultKp = 40
	DefaultKi = 400
	DefaultKd = 0
	DefaultFF = 120

	MaxAllowableVoltageCommand = 3000  // mV
	MaxAllowableCurrentCommand = 25000 // mA
	MaxAllowableKCommand       = 8000
	MaxAllowableBCommand       = 5500

	// Velocity is zeroed after a read gap longer than this, s.
	velocityGapLimit = 20.0
	// Hip velocity low-pass cutoff, Hz.
	velocityCutoff = 10.0
)

// Known pack device IDs. Add to these when packs are replaced.
var (
	RightDevIDs = []int{65295, 3148, 1234, 1416}
	LeftDevIDs  = []int{63086, 2873, 4321, 1416}
)
