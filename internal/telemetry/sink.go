// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry fans per-tick records out to CSV files, MQTT, the
// websocket monitor and the console.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/hip_exo/internal/config"
)

// Stream names. Side streams use the side's name in upper case.
const (
	StreamLeft   = "LEFT"
	StreamRight  = "RIGHT"
	StreamConfig = "CONFIG"
)

// Record is one row: a header and its values in the same order. JSON sinks
// marshal the record itself.
type Record interface {
	Columns() []string
	Values() []string
}

// Sink consumes records. Write must not block the control loop for long.
type Sink interface {
	Write(stream string, rec Record) error
	Flush() error
	Close() error
}

// Session names one run. Files, topics and websocket messages carry it.
type Session struct {
	ID     string
	Prefix string // file name prefix, YYYYmmdd_HHMM_<fileID>
}

func NewSession(now time.Time, fileID string) Session {
	prefix := now.Format("20060102_1504")
	if fileID != "" {
		prefix += "_" + fileID
	}
	return Session{ID: uuid.NewString(), Prefix: prefix}
}

// Fanout writes every record to all sinks. One failing sink does not stop
// the others; their errors are joined.
type Fanout struct {
	sinks     []Sink
	closeOnce sync.Once
	closeErr  error
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Add(s Sink) { f.sinks = append(f.sinks, s) }

func (f *Fanout) Write(stream string, rec Record) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Write(stream, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Flush() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink once. Later calls return the first result.
func (f *Fanout) Close() error {
	f.closeOnce.Do(func() {
		var errs []error
		for _, s := range f.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		f.closeErr = errors.Join(errs...)
	})
	return f.closeErr
}

// ConfigRow is a config snapshot stamped with loop and wall time, written
// at start and after every applied update.
type ConfigRow struct {
	Config     *config.Config
	LoopTime   float64
	ActualTime time.Time
}

func (r ConfigRow) Columns() []string {
	return append(r.Config.Columns(), "loop_time", "actual_time")
}

func (r ConfigRow) Values() []string {
	return append(r.Config.Values(),
		strconv.FormatFloat(r.LoopTime, 'f', -1, 64),
		strconv.FormatFloat(float64(r.ActualTime.UnixNano())/1e9, 'f', 6, 64))
}

// MarshalJSON encodes the row as a flat key/value object.
func (r ConfigRow) MarshalJSON() ([]byte, error) {
	cols, vals := r.Columns(), r.Values()
	m := make(map[string]string, len(cols))
	for i, c := range cols {
		m[strings.ToLower(c)] = vals[i]
	}
	return json.Marshal(m)
}

type envelope struct {
	Session string `json:"session"`
	Stream  string `json:"stream"`
	Data    Record `json:"data"`
}

func encode(session, stream string, rec Record) ([]byte, error) {
	payload, err := json.Marshal(envelope{Session: session, Stream: stream, Data: rec})
	if err != nil {
		return nil, fmt.Errorf("telemetry: marshal %s record: %w", stream, err)
	}
	return payload, nil
}
