package actuator

import (
	"math"
	"sync"

	"github.com/relabs-tech/hip_exo/internal/timing"
)

// SimOptions shapes the simulated hip trajectory.
type SimOptions struct {
	DevID        int
	Period       float64 // stride period, s
	Amplitude    float64 // hip angle amplitude, deg
	Offset       float64 // hip angle offset, deg
	ClicksPerDeg float64 // motor clicks per hip degree, signed by side
	Zero         float64 // motor clicks at hip angle 0
	Clock        timing.Clock
}

// SimTransport produces a periodic walking trace so the whole loop can run on
// a bench. Commanded current is echoed back as measured current.
type SimTransport struct {
	opts SimOptions

	mu      sync.Mutex
	mode    Mode
	current int32
	gains   Gains
	closed  bool
}

// NewSimTransport builds a simulator. Zero-valued options get a 1.1 s stride
// of ±25° around 10° flexion.
func NewSimTransport(opts SimOptions) *SimTransport {
	if opts.Period <= 0 {
		opts.Period = 1.1
	}
	if opts.Amplitude == 0 {
		opts.Amplitude = 25
	}
	if opts.Offset == 0 {
		opts.Offset = 10
	}
	if opts.ClicksPerDeg == 0 {
		opts.ClicksPerDeg = 1
	}
	if opts.Clock == nil {
		opts.Clock = timing.NewMonotonicClock()
	}
	return &SimTransport{opts: opts}
}

func (s *SimTransport) DeviceID() int { return s.opts.DevID }

// HipAngle is the simulated hip angle at time t.
func (s *SimTransport) HipAngle(t float64) float64 {
	return s.opts.Offset + s.opts.Amplitude*math.Cos(2*math.Pi*t/s.opts.Period)
}

func (s *SimTransport) Read() (RawSample, error) {
	t := s.opts.Clock.Now()
	angle := s.HipAngle(t)
	vel := -s.opts.Amplitude * 2 * math.Pi / s.opts.Period * math.Sin(2*math.Pi*t/s.opts.Period)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return RawSample{}, ErrEndOfData
	}
	cur := int32(0)
	if s.mode == ModeCurrent {
		cur = s.current
	}
	return RawSample{
		StateTime:     int64(t * 1000),
		AccelZ:        8192,
		MotorAngle:    int32(s.opts.Zero + angle*s.opts.ClicksPerDeg),
		MotorVelocity: int32(vel * s.opts.ClicksPerDeg),
		MotorCurrent:  cur,
		Temperature:   30,
		BatteryVolt:   24000,
	}, nil
}

func (s *SimTransport) SendCommand(mode Mode, value int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.current = value
	return nil
}

func (s *SimTransport) SetGains(g Gains) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gains = g
	return nil
}

// Last reports the most recent command, for inspection in tests.
func (s *SimTransport) Last() (Mode, int32, Gains) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, s.current, s.gains
}

func (s *SimTransport) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
