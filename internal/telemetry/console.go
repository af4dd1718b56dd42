package telemetry

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/time/rate"
)

// StatusLiner is a record with a one-line human summary.
type StatusLiner interface {
	StatusLine() string
}

// ConsoleSink echoes side records to a terminal at a low rate.
type ConsoleSink struct {
	out    io.Writer
	limits map[string]*rate.Limiter
	hz     float64
}

func NewConsoleSink(out io.Writer, hz float64) *ConsoleSink {
	return &ConsoleSink{out: out, limits: make(map[string]*rate.Limiter), hz: hz}
}

func (c *ConsoleSink) Write(stream string, rec Record) error {
	sl, ok := rec.(StatusLiner)
	if !ok || c.hz <= 0 {
		return nil
	}
	l, ok := c.limits[stream]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.hz), 1)
		c.limits[stream] = l
	}
	if !l.Allow() {
		return nil
	}
	_, err := fmt.Fprintf(c.out, "[%s] %s\n", strings.ToLower(stream), sl.StatusLine())
	return err
}

func (c *ConsoleSink) Flush() error { return nil }
func (c *ConsoleSink) Close() error { return nil }
