package exo

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Phase is the gait phase in [0,1], or unknown when gait is not steady.
type Phase struct {
	Value float64
	Valid bool
}

// KnownPhase wraps a valid phase value.
func KnownPhase(v float64) Phase { return Phase{Value: v, Valid: true} }

// UnknownPhase is the "not walking steadily" phase.
var UnknownPhase = Phase{}

func (p Phase) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(p.Value)
}

func (p Phase) String() string {
	if !p.Valid {
		return "None"
	}
	return strconv.FormatFloat(p.Value, 'f', 3, 64)
}

// Sample is one side's snapshot for the current tick. ReadData fills the
// sensor fields, the gait estimator sets the event and phase fields, and the
// controller's commands fill the commanded fields.
type Sample struct {
	Side      Side    `json:"side"`
	LoopTime  float64 `json:"loop_time"`
	StateTime float64 `json:"state_time"` // s, pack clock

	AccelX float64 `json:"accel_x"`
	AccelY float64 `json:"accel_y"`
	AccelZ float64 `json:"accel_z"`
	GyroX  float64 `json:"gyro_x"`
	GyroY  float64 `json:"gyro_y"`
	GyroZ  float64 `json:"gyro_z"`

	MotorAngle    int32 `json:"motor_angle"`
	MotorVelocity int32 `json:"motor_velocity"`
	MotorCurrent  int32 `json:"motor_current"`

	HipAngle             float64 `json:"hip_angle"`
	HipVelocity          float64 `json:"hip_velocity"`
	HipTorqueFromCurrent float64 `json:"hip_torque_from_current"`
	Temperature          int32   `json:"temperature"`
	BatteryVoltage       int32   `json:"battery_voltage"`

	DidHeelStrike bool  `json:"did_heel_strike"`
	GaitPhase     Phase `json:"gait_phase"`
	DidToeOff     bool  `json:"did_toe_off"`

	CommandedCurrent  *int32   `json:"commanded_current"`
	CommandedPosition *int32   `json:"commanded_position"`
	CommandedTorque   *float64 `json:"commanded_torque"`
	CommandedVoltage  *int32   `json:"commanded_voltage"`
	IsClipping        bool     `json:"is_clipping"`

	ControllerState string `json:"controller_state"`
	Sync            *bool  `json:"sync,omitempty"`
}

var sampleColumns = []string{
	"loop_time", "state_time",
	"accel_x", "accel_y", "accel_z", "gyro_x", "gyro_y", "gyro_z",
	"motor_angle", "motor_velocity", "motor_current",
	"hip_angle", "hip_velocity", "hip_torque_from_current", "temperature", "battery_voltage",
	"did_heel_strike", "gait_phase", "did_toe_off",
	"commanded_current", "commanded_position", "commanded_torque", "commanded_voltage", "is_clipping",
	"controller_state", "sync",
}

// Columns is the fixed telemetry header.
func (s *Sample) Columns() []string {
	out := make([]string, len(sampleColumns))
	copy(out, sampleColumns)
	return out
}

// Values formats the sample in Columns order. Unset optional fields are
// empty cells.
func (s *Sample) Values() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	i := func(v int32) string { return strconv.FormatInt(int64(v), 10) }
	b := strconv.FormatBool

	phase := ""
	if s.GaitPhase.Valid {
		phase = f(s.GaitPhase.Value)
	}
	sync := ""
	if s.Sync != nil {
		sync = b(*s.Sync)
	}

	return []string{
		f(s.LoopTime), f(s.StateTime),
		f(s.AccelX), f(s.AccelY), f(s.AccelZ), f(s.GyroX), f(s.GyroY), f(s.GyroZ),
		i(s.MotorAngle), i(s.MotorVelocity), i(s.MotorCurrent),
		f(s.HipAngle), f(s.HipVelocity), f(s.HipTorqueFromCurrent), i(s.Temperature), i(s.BatteryVoltage),
		b(s.DidHeelStrike), phase, b(s.DidToeOff),
		optInt(s.CommandedCurrent), optInt(s.CommandedPosition), optFloat(s.CommandedTorque), optInt(s.CommandedVoltage),
		b(s.IsClipping),
		s.ControllerState, sync,
	}
}

func optInt(v *int32) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(int64(*v), 10)
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// StatusLine is a one-line human summary for console echo.
func (s *Sample) StatusLine() string {
	torque := "-"
	if s.CommandedTorque != nil {
		torque = fmt.Sprintf("%.1f", *s.CommandedTorque)
	}
	clip := ""
	if s.IsClipping {
		clip = " CLIP"
	}
	return fmt.Sprintf("%-5s t=%7.2f hip=%6.1f phase=%s torque=%s state=%s%s",
		s.Side, s.LoopTime, s.HipAngle, s.GaitPhase, torque, s.ControllerState, clip)
}
