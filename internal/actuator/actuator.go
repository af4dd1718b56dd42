// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package actuator talks to the hip actuator packs: the serial link to real
// hardware, a recorded-data replay and a simulated gait for bench runs.
package actuator

import (
	"errors"
	"fmt"
)

// ErrEndOfData is returned by Read once a finite source has no more samples.
var ErrEndOfData = errors.New("actuator: end of data")

// Mode is the actuator's active control mode.
type Mode uint8

const (
	ModeOff Mode = iota
	ModeCurrent
	ModeVoltage
	ModePosition
	ModeImpedance
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeCurrent:
		return "current"
	case ModeVoltage:
		return "voltage"
	case ModePosition:
		return "position"
	case ModeImpedance:
		return "impedance"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Gains are the pack's internal controller gains, in device units.
type Gains struct {
	Kp, Ki, Kd int
	K, B       int
	FF         int
}

// Recorded carries values that were already derived when the sample was
// logged. Only replayed samples have it.
type Recorded struct {
	LoopTime    float64
	HipAngle    float64
	HipVelocity float64
	Accel       [3]float64 // g
	Gyro        [3]float64 // deg/s
}

// RawSample is one reading from an actuator pack, in device units.
type RawSample struct {
	StateTime int64 // ms, device clock

	AccelX, AccelY, AccelZ int32
	GyroX, GyroY, GyroZ    int32

	MotorAngle    int32 // clicks
	MotorVelocity int32
	MotorCurrent  int32 // mA
	Temperature   int32 // °C
	BatteryVolt   int32 // mV

	Recorded *Recorded
}

// Transport is an open link to one actuator pack. Any call may fail with an
// I/O error, which callers treat as fatal.
type Transport interface {
	// DeviceID identifies the pack, and with it the side it is mounted on.
	DeviceID() int
	Read() (RawSample, error)
	SendCommand(mode Mode, value int32) error
	SetGains(g Gains) error
	Close() error
}
