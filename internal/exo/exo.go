package exo

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/hip_exo/internal/actuator"
	"github.com/relabs-tech/hip_exo/internal/config"
	"github.com/relabs-tech/hip_exo/internal/filter"
)

// SyncReader reports the level of the external sync line.
type SyncReader interface {
	Read() (bool, error)
}

// GainsUpdate selects which pack gains to change. Nil fields keep their
// current value.
type GainsUpdate struct {
	Kp, Ki, Kd *int
	K, B       *int
	FF         *int
}

// Int is a helper for building a GainsUpdate.
func Int(v int) *int { return &v }

// Exo is the primary interface to one actuator pack.
type Exo struct {
	Data *Sample

	transport actuator.Transport
	side      Side
	motorSign float64
	clamp     *SafetyClamp

	zero    float64
	hasZero bool

	gains     actuator.Gains
	velFilter filter.Filter
	sync      SyncReader

	havePrev bool

	// ShutdownSettle is the pause between the shutdown commands.
	ShutdownSettle time.Duration

	closeOnce sync.Once
	closeErr  error
}

// New identifies the pack's side, loads its limits and zero reference from
// cfg and sends the default gains.
func New(t actuator.Transport, cfg *config.Config) (*Exo, error) {
	side, err := SideFromDevID(t.DeviceID())
	if err != nil {
		return nil, err
	}

	velFilter, err := filter.NewButterworth(2, velocityCutoff, cfg.TargetFreq)
	if err != nil {
		return nil, fmt.Errorf("%w: hip velocity filter: %v", ErrConfiguration, err)
	}

	e := &Exo{
		Data:      &Sample{Side: side},
		transport: t,
		side:      side,
		motorSign: side.MotorSign(),
		clamp: &SafetyClamp{
			Limits: DefaultLimits(cfg.MaxAllowableCurrent, cfg.MinAllowableCurrent),
			Name:   side.String(),
		},
		velFilter:      velFilter,
		ShutdownSettle: 100 * time.Millisecond,
	}
	if z, err := cfg.ZeroPosition(side.String()); err == nil {
		e.zero, e.hasZero = z, true
	}

	if err := e.UpdateGains(GainsUpdate{
		Kp: Int(DefaultKp), Ki: Int(DefaultKi), Kd: Int(DefaultKd),
		K: Int(0), B: Int(0), FF: Int(DefaultFF),
	}); err != nil {
		return nil, err
	}
	log.Printf("exo %s: connected to pack %d", side, t.DeviceID())
	return e, nil
}

func (e *Exo) Sample() *Sample { return e.Data }
func (e *Exo) Side() Side { return e.side }
func (e *Exo) MotorSign() float64 { return e.motorSign }
func (e *Exo) Limits() SafetyLimits { return e.clamp.Limits }
func (e *Exo) Gains() actuator.Gains { return e.gains }
func (e *Exo) SetSync(r SyncReader) { e.sync = r }
func (e *Exo) HasZeroReference() bool { return e.hasZero }

// SetZeroReference records the motor angle, in clicks, at which the hip is
// at 0°.
func (e *Exo) SetZeroReference(clicks float64) {
	e.zero, e.hasZero = clicks, true
}

// SetCurrentLimits replaces the configured current bounds.
func (e *Exo) SetCurrentLimits(maxCurrent, minCurrent int) {
	e.clamp.Limits.MaxCurrent = maxCurrent
	e.clamp.Limits.MinCurrent = minCurrent
}

// ReadData pulls the newest sample from the pack into Data, converting to
// hip units. Recorded samples carry their own hip kinematics.
func (e *Exo) ReadData(loopTime float64) error {
	raw, err := e.transport.Read()
	if errors.Is(err, actuator.ErrEndOfData) {
		return fmt.Errorf("exo %s: %w", e.side, err)
	}
	if err != nil {
		return fmt.Errorf("%w: exo %s read: %w", ErrTransport, e.side, err)
	}

	d := e.Data
	lastHipAngle := d.HipAngle
	lastStateTime := d.StateTime

	d.LoopTime = loopTime
	d.StateTime = float64(raw.StateTime) / 1000
	d.MotorAngle = raw.MotorAngle
	d.MotorVelocity = raw.MotorVelocity
	d.MotorCurrent = raw.MotorCurrent
	d.Temperature = raw.Temperature
	d.BatteryVoltage = raw.BatteryVolt
	d.HipTorqueFromCurrent = e.clamp.Limits.CurrentToHipTorque(float64(raw.MotorCurrent))

	if rec := raw.Recorded; rec != nil {
		d.HipAngle = rec.HipAngle
		d.AccelX, d.AccelY, d.AccelZ = rec.Accel[0], rec.Accel[1], rec.Accel[2]
		d.GyroX, d.GyroY, d.GyroZ = rec.Gyro[0], rec.Gyro[1], rec.Gyro[2]
	} else {
		hip, err := e.MotorAngleToHipAngle(raw.MotorAngle)
		if err != nil {
			return err
		}
		d.HipAngle = hip
		// Pack IMU axes are rotated into forwards, upwards, outwards per side.
		d.AccelX = -e.motorSign * float64(raw.AccelX) * AccelGain
		d.AccelY = -float64(raw.AccelY) * AccelGain
		d.AccelZ = -float64(raw.AccelZ) * AccelGain
		d.GyroX = float64(raw.GyroX) * GyroGain
		d.GyroY = e.motorSign * float64(raw.GyroY) * GyroGain
		d.GyroZ = e.motorSign * float64(raw.GyroZ) * GyroGain
	}

	dt := d.StateTime - lastStateTime
	switch {
	case !e.havePrev || dt > velocityGapLimit:
		d.HipVelocity = 0
	case dt == 0:
		// duplicate sample, keep the previous velocity
	case raw.Recorded != nil:
		d.HipVelocity = raw.Recorded.HipVelocity
	default:
		d.HipVelocity = e.velFilter.Filter((d.HipAngle - lastHipAngle) / dt)
	}
	e.havePrev = true

	if e.sync != nil {
		level, err := e.sync.Read()
		if err != nil {
			return fmt.Errorf("exo %s: read sync: %w", e.side, err)
		}
		d.Sync = &level
	}
	return nil
}

// MotorAngleToHipAngle converts motor clicks to hip degrees using the zero
// reference.
func (e *Exo) MotorAngleToHipAngle(clicks int32) (float64, error) {
	if !e.hasZero {
		return 0, fmt.Errorf("%w: exo %s has no zero reference, perform standing calibration first", ErrConfiguration, e.side)
	}
	return e.motorSign * (float64(clicks) - e.zero) * MotorClicksToDeg, nil
}

// HipAngleToMotorAngle converts hip degrees to motor clicks.
func (e *Exo) HipAngleToMotorAngle(hip float64) (int32, error) {
	if !e.hasZero {
		return 0, fmt.Errorf("%w: exo %s has no zero reference, perform standing calibration first", ErrConfiguration, e.side)
	}
	return int32(e.zero + e.motorSign*hip/MotorClicksToDeg), nil
}

// UpdateGains sends the pack gains, changing only the non-nil fields.
func (e *Exo) UpdateGains(u GainsUpdate) error {
	g := e.gains
	set := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	set(&g.Kp, u.Kp)
	set(&g.Ki, u.Ki)
	set(&g.Kd, u.Kd)
	set(&g.K, u.K)
	set(&g.B, u.B)
	set(&g.FF, u.FF)

	if err := e.transport.SetGains(g); err != nil {
		return fmt.Errorf("%w: exo %s set gains: %w", ErrTransport, e.side, err)
	}
	e.gains = g
	return nil
}

func (e *Exo) send(mode actuator.Mode, value int32) error {
	if err := e.transport.SendCommand(mode, value); err != nil {
		return fmt.Errorf("%w: exo %s %s command: %w", ErrTransport, e.side, mode, err)
	}
	return nil
}

// CommandCurrent sends a raw motor current in mA. A current beyond the
// configured or the absolute ceiling turns the controller off and is refused.
func (e *Exo) CommandCurrent(mA int32) error {
	limit := min(e.clamp.Limits.MaxCurrent, MaxAllowableCurrentCommand)
	if mA > int32(limit) || mA < -int32(limit) {
		offErr := e.CommandControllerOff()
		return errors.Join(fmt.Errorf("%w: exo %s current %d mA exceeds %d mA", ErrSafetyViolation, e.side, mA, limit), offErr)
	}
	if err := e.send(actuator.ModeCurrent, mA); err != nil {
		return err
	}
	e.Data.CommandedCurrent = &mA
	e.Data.CommandedPosition = nil
	e.Data.CommandedVoltage = nil
	return nil
}

// CommandVoltage sends a motor voltage in mV.
func (e *Exo) CommandVoltage(mV int32) error {
	if mV > MaxAllowableVoltageCommand || mV < -MaxAllowableVoltageCommand {
		return fmt.Errorf("%w: exo %s voltage %d mV exceeds %d mV", ErrSafetyViolation, e.side, mV, MaxAllowableVoltageCommand)
	}
	if err := e.send(actuator.ModeVoltage, mV); err != nil {
		return err
	}
	e.Data.CommandedCurrent = nil
	e.Data.CommandedPosition = nil
	e.Data.CommandedTorque = nil
	e.Data.CommandedVoltage = &mV
	return nil
}

// CommandMotorAngle sends a motor position in clicks.
func (e *Exo) CommandMotorAngle(clicks int32) error {
	if err := e.send(actuator.ModePosition, clicks); err != nil {
		return err
	}
	e.Data.CommandedCurrent = nil
	e.Data.CommandedPosition = &clicks
	e.Data.CommandedTorque = nil
	e.Data.CommandedVoltage = nil
	return nil
}

// CommandMotorImpedance holds the motor at theta0 clicks with stiffness k and
// damping b in pack units. Gains are only re-sent when k or b change.
func (e *Exo) CommandMotorImpedance(theta0 int32, k, b int) error {
	if k < 0 || k > MaxAllowableKCommand {
		return fmt.Errorf("%w: exo %s k %d outside [0, %d]", ErrSafetyViolation, e.side, k, MaxAllowableKCommand)
	}
	if b < 0 || b > MaxAllowableBCommand {
		return fmt.Errorf("%w: exo %s b %d outside [0, %d]", ErrSafetyViolation, e.side, b, MaxAllowableBCommand)
	}
	if e.gains.K != k || e.gains.B != b {
		if err := e.UpdateGains(GainsUpdate{K: Int(k), B: Int(b)}); err != nil {
			return err
		}
	}
	if err := e.send(actuator.ModeImpedance, theta0); err != nil {
		return err
	}
	e.Data.CommandedCurrent = nil
	e.Data.CommandedPosition = &theta0
	e.Data.CommandedTorque = nil
	e.Data.CommandedVoltage = nil
	return nil
}

// CommandTorque clamps a hip torque (Nm) to the safety limits and sends the
// matching current. It returns the torque actually commanded.
func (e *Exo) CommandTorque(desired float64) (float64, error) {
	e.Data.CommandedTorque = &desired
	torque, clipping := e.clamp.Apply(desired)
	e.Data.IsClipping = clipping
	current := e.clamp.Limits.HipTorqueToCurrent(e.motorSign, torque)
	if err := e.CommandCurrent(current); err != nil {
		return 0, err
	}
	return torque, nil
}

// CommandControllerOff disables the pack's controller.
func (e *Exo) CommandControllerOff() error {
	return e.send(actuator.ModeOff, 0)
}

// RunAngleSafety turns the controller off if the hip leaves its range of
// motion.
func (e *Exo) RunAngleSafety(hip float64) error {
	if hip > MaxHipAngle || hip < MinHipAngle {
		offErr := e.CommandControllerOff()
		return errors.Join(fmt.Errorf("%w: exo %s hip angle %.1f outside [%g, %g]", ErrSafetyViolation, e.side, hip, MinHipAngle, MaxHipAngle), offErr)
	}
	return nil
}

// Close brings the pack to a safe idle: gains re-sent, zero current,
// controller off, stream closed. Later calls return the first result.
func (e *Exo) Close() error {
	e.closeOnce.Do(func() {
		var errs []error
		errs = append(errs, e.UpdateGains(GainsUpdate{}))
		errs = append(errs, e.CommandCurrent(0))
		time.Sleep(e.ShutdownSettle)
		errs = append(errs, e.CommandControllerOff())
		time.Sleep(e.ShutdownSettle / 2)
		if err := e.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: exo %s close: %w", ErrTransport, e.side, err))
		}
		e.closeErr = errors.Join(errs...)
		log.Printf("exo %s: closed", e.side)
	})
	return e.closeErr
}
