package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/hip_exo/internal/actuator"
	"github.com/relabs-tech/hip_exo/internal/config"
	"github.com/relabs-tech/hip_exo/internal/exo"
	"github.com/relabs-tech/hip_exo/internal/filter"
)

// calibrationCutoff is the low-pass applied to the motor angle while the
// wearer stands still, Hz.
const calibrationCutoff = 2.0

// ZeroKeys are the config keys holding each side's standing zero.
var ZeroKeys = map[exo.Side]string{
	exo.SideLeft:  "HIP_LEFT_ZERO_POSITION",
	exo.SideRight: "HIP_RIGHT_ZERO_POSITION",
}

// Calibrate records the standing motor angle of each pack. The wearer
// stands upright and still for duration; the low-passed motor angle is
// averaged and becomes the hip's 0°. The first quarter of the window is
// discarded while the filter settles.
func Calibrate(ctx context.Context, transports []actuator.Transport, pacer Pauser, freq float64, duration time.Duration) (map[exo.Side]float64, error) {
	type channel struct {
		side    exo.Side
		t       actuator.Transport
		f       *filter.Butterworth
		first   float64
		started bool
		values  []float64
	}

	var chans []*channel
	for _, t := range transports {
		side, err := exo.SideFromDevID(t.DeviceID())
		if err != nil {
			return nil, err
		}
		f, err := filter.NewButterworth(2, calibrationCutoff, freq)
		if err != nil {
			return nil, fmt.Errorf("%w: calibration filter: %v", config.ErrConfiguration, err)
		}
		chans = append(chans, &channel{side: side, t: t, f: f})
	}

	n := int(duration.Seconds() * freq)
	if n < 4 {
		return nil, fmt.Errorf("%w: calibration window %s is too short at %g Hz", config.ErrConfiguration, duration, freq)
	}
	settle := n / 4

	log.Printf("calibration: stand still for %s", duration)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		pacer.Pause()
		for _, c := range chans {
			raw, err := c.t.Read()
			if err != nil {
				if errors.Is(err, actuator.ErrEndOfData) {
					return nil, fmt.Errorf("calibration %s: %w", c.side, err)
				}
				return nil, fmt.Errorf("%w: calibration %s read: %w", exo.ErrTransport, c.side, err)
			}
			angle := float64(raw.MotorAngle)
			// Filter the offset from the first reading so a still leg
			// has no start-up transient.
			if !c.started {
				c.first, c.started = angle, true
			}
			v := c.f.Filter(angle-c.first) + c.first
			if i >= settle {
				c.values = append(c.values, v)
			}
		}
	}

	zeros := make(map[exo.Side]float64, len(chans))
	for _, c := range chans {
		zeros[c.side] = stat.Mean(c.values, nil)
		log.Printf("calibration: %s zero at %.1f clicks (sd %.1f)", c.side, zeros[c.side], stat.StdDev(c.values, nil))
	}
	return zeros, nil
}

// SaveZeros writes the recorded zeros into a config file, keeping the rest
// of the file as it is.
func SaveZeros(path string, zeros map[exo.Side]float64) error {
	updates := make(map[string]string, len(zeros))
	for side, z := range zeros {
		key, ok := ZeroKeys[side]
		if !ok {
			return fmt.Errorf("%w: no zero key for side %s", config.ErrConfiguration, side)
		}
		updates[key] = strconv.FormatFloat(z, 'f', 2, 64)
	}
	return config.UpdateFile(path, updates)
}
