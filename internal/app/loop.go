// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/hip_exo/internal/actuator"
	"github.com/relabs-tech/hip_exo/internal/config"
	"github.com/relabs-tech/hip_exo/internal/exo"
	"github.com/relabs-tech/hip_exo/internal/metrics"
	"github.com/relabs-tech/hip_exo/internal/params"
	"github.com/relabs-tech/hip_exo/internal/telemetry"
	"github.com/relabs-tech/hip_exo/internal/timing"
)

// Pauser paces the loop. timing.Pacer is the real one.
type Pauser interface {
	Pause() time.Duration
}

// Loop is the fixed-rate control loop. Each tick it applies staged
// parameters, reads every exo, runs gait estimation and the state machines,
// and writes one telemetry row per side.
type Loop struct {
	Sides  []*Side
	Shared *params.Shared
	Sink   telemetry.Sink
	Clock  timing.Clock
	Pacer  Pauser

	// Advance, if set, is called at the start of every tick. Offline runs
	// use it to step a manual clock by one period.
	Advance func()

	// Duration stops the loop once loop time reaches it. Zero runs until
	// quit, cancellation or end of data.
	Duration float64

	cfg   *config.Config
	start float64
	ticks int

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewLoop builds a loop over sides. cfg is the configuration the sides
// were built with.
func NewLoop(sides []*Side, shared *params.Shared, sink telemetry.Sink, clock timing.Clock, pacer Pauser, cfg *config.Config) *Loop {
	return &Loop{
		Sides:  sides,
		Shared: shared,
		Sink:   sink,
		Clock:  clock,
		Pacer:  pacer,
		cfg:    cfg.Clone(),
	}
}

// Config returns the configuration currently applied to the controllers.
func (l *Loop) Config() *config.Config { return l.cfg }

// Ticks is the number of completed ticks.
func (l *Loop) Ticks() int { return l.ticks }

// Run ticks until quit, end of data, ctx cancellation or a fatal error.
// Every exit path, a panic included, ends in Shutdown.
func (l *Loop) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loop: panic: %v", r)
		}
		if serr := l.Shutdown(); serr != nil {
			log.Printf("loop: shutdown: %v", serr)
			err = errors.Join(err, serr)
		}
	}()

	l.start = l.Clock.Now()
	if err := l.Sink.Write(telemetry.StreamConfig, l.configRow(0)); err != nil {
		log.Printf("loop: error writing config row: %v", err)
	}
	log.Printf("loop: running %s on %d exo(s) at %g Hz", l.cfg.Task, len(l.Sides), l.cfg.TargetFreq)

	for {
		if ctx.Err() != nil {
			log.Println("loop: cancelled")
			return nil
		}
		done, err := l.Tick()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Tick runs one iteration. done reports a normal stop: quit was requested,
// a recorded file ran out or the offline duration elapsed.
func (l *Loop) Tick() (done bool, err error) {
	if late := l.Pacer.Pause(); late > 0 {
		metrics.LateTicks.Inc()
	}
	if l.Advance != nil {
		l.Advance()
	}
	started := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(started).Seconds()) }()

	loopTime := l.Clock.Now() - l.start

	quit, err := l.Shared.Sync(func(cfg *config.Config) error { return l.apply(cfg, loopTime) })
	if errors.Is(err, exo.ErrTransport) {
		return false, err
	}
	if err != nil {
		log.Printf("loop: parameter update: %v", err)
	}
	if quit {
		log.Println("loop: quit requested")
		return true, nil
	}
	if l.Duration > 0 && loopTime >= l.Duration {
		log.Printf("loop: offline duration %gs reached", l.Duration)
		return true, nil
	}

	for _, s := range l.Sides {
		if err := s.Exo.ReadData(loopTime); err != nil {
			if errors.Is(err, actuator.ErrEndOfData) {
				log.Printf("loop: %v", err)
				return true, nil
			}
			return false, err
		}
	}

	for _, s := range l.Sides {
		d := s.Exo.Sample()
		s.Estimator.Detect(d)
		if err := l.step(s); err != nil {
			return false, err
		}
		metrics.ObserveSample(d)
		if err := l.Sink.Write(s.Stream, d); err != nil {
			log.Printf("loop: error writing %s row: %v", s.Stream, err)
		}
	}
	l.ticks++
	return false, nil
}

// step runs one side's state machine. Safety refusals keep the loop going
// and are logged when they start and stop.
func (l *Loop) step(s *Side) error {
	err := s.Machine.Step(l.cfg.ReadOnly)
	switch {
	case err == nil:
		if s.violating {
			s.violating = false
			log.Printf("loop: exo %s back within limits", s.Exo.Side())
		}
		return nil
	case errors.Is(err, exo.ErrSafetyViolation):
		if !s.violating {
			s.violating = true
			log.Printf("loop: %v", err)
		}
		return nil
	default:
		return err
	}
}

// apply pushes a staged config into the controllers. It runs under the
// parameter lock. A config that does not validate against the running task
// is rejected before any component sees it.
func (l *Loop) apply(cfg *config.Config, loopTime float64) error {
	if cfg.Task != l.cfg.Task {
		log.Printf("loop: TASK %s takes effect on restart, keeping %s", cfg.Task, l.cfg.Task)
		cfg.Task = l.cfg.Task
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("update rejected: %w", err)
	}

	var errs []error
	for _, s := range l.Sides {
		s.Exo.SetCurrentLimits(cfg.MaxAllowableCurrent, cfg.MinAllowableCurrent)
		if err := s.Estimator.UpdateFromConfig(cfg); err != nil {
			errs = append(errs, fmt.Errorf("exo %s estimator: %w", s.Exo.Side(), err))
		}
		if err := s.Machine.UpdateFromConfig(cfg); err != nil {
			errs = append(errs, fmt.Errorf("exo %s state machine: %w", s.Exo.Side(), err))
		}
	}
	l.cfg = cfg
	metrics.ParamUpdates.Inc()
	if err := l.Sink.Write(telemetry.StreamConfig, l.configRow(loopTime)); err != nil {
		log.Printf("loop: error writing config row: %v", err)
	}
	log.Printf("loop: parameters applied at %.3fs", loopTime)
	return errors.Join(errs...)
}

func (l *Loop) configRow(loopTime float64) telemetry.ConfigRow {
	return telemetry.ConfigRow{Config: l.cfg, LoopTime: loopTime, ActualTime: time.Now()}
}

// Shutdown brings every exo to a safe idle and closes the sinks. It runs
// once; later calls return the first result.
func (l *Loop) Shutdown() error {
	l.shutdownOnce.Do(func() {
		var errs []error
		for _, s := range l.Sides {
			if err := s.Exo.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := l.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close telemetry: %w", err))
		}
		l.shutdownErr = errors.Join(errs...)
		log.Printf("loop: stopped after %d ticks", l.ticks)
	})
	return l.shutdownErr
}
