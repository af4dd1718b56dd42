package actuator

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
)

// replayColumns must be present in a replayed telemetry file.
var replayColumns = []string{"loop_time", "hip_angle", "hip_velocity"}

// ReplayTransport feeds back a telemetry CSV recorded on an earlier run.
// Commands are accepted and counted but have no effect.
type ReplayTransport struct {
	devID  int
	closer io.Closer
	r      *csv.Reader
	index  map[string]int

	Commands int
}

// OpenReplay opens a telemetry CSV for one side.
func OpenReplay(path string, devID int) (*ReplayTransport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	t, err := NewReplayTransport(f, devID)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.closer = f
	return t, nil
}

// NewReplayTransport reads rows from r. The first row is the header.
func NewReplayTransport(r io.Reader, devID int) (*ReplayTransport, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read replay header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, name := range replayColumns {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("replay file has no %q column", name)
		}
	}
	return &ReplayTransport{devID: devID, r: cr, index: index}, nil
}

func (t *ReplayTransport) DeviceID() int { return t.devID }

func (t *ReplayTransport) Read() (RawSample, error) {
	rec, err := t.r.Read()
	if errors.Is(err, io.EOF) {
		return RawSample{}, ErrEndOfData
	}
	if err != nil {
		return RawSample{}, fmt.Errorf("read replay row: %w", err)
	}

	float := func(name string) float64 {
		i, ok := t.index[name]
		if !ok || i >= len(rec) {
			return 0
		}
		v, err := strconv.ParseFloat(rec[i], 64)
		if err != nil {
			return 0
		}
		return v
	}
	whole := func(name string) int32 { return int32(float(name)) }

	return RawSample{
		StateTime:     int64(math.Round(float("state_time") * 1000)),
		MotorAngle:    whole("motor_angle"),
		MotorVelocity: whole("motor_velocity"),
		MotorCurrent:  whole("motor_current"),
		Temperature:   whole("temperature"),
		BatteryVolt:   whole("battery_voltage"),
		Recorded: &Recorded{
			LoopTime:    float("loop_time"),
			HipAngle:    float("hip_angle"),
			HipVelocity: float("hip_velocity"),
			Accel:       [3]float64{float("accel_x"), float("accel_y"), float("accel_z")},
			Gyro:        [3]float64{float("gyro_x"), float("gyro_y"), float("gyro_z")},
		},
	}, nil
}

func (t *ReplayTransport) SendCommand(Mode, int32) error {
	t.Commands++
	return nil
}

func (t *ReplayTransport) SetGains(Gains) error { return nil }

func (t *ReplayTransport) Close() error {
	if t.closer == nil {
		return nil
	}
	c := t.closer
	t.closer = nil
	return c.Close()
}
