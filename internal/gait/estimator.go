package gait

import (
	"fmt"
	"log"

	"github.com/relabs-tech/hip_exo/internal/config"
	"github.com/relabs-tech/hip_exo/internal/exo"
	"github.com/relabs-tech/hip_exo/internal/filter"
	"github.com/relabs-tech/hip_exo/internal/timing"
)

// PhaseSource fills a side's gait event and phase fields each tick. The
// stride average Estimator is one; a learned phase classifier could be
// another.
type PhaseSource interface {
	Detect(s *exo.Sample)
	UpdateFromConfig(cfg *config.Config) error
}

// Estimator runs one side's detectors against its Sample each tick.
type Estimator struct {
	Side       exo.Side
	ToeOff     EventDetector
	HeelStrike EventDetector
	Phase      PhaseEstimator

	PrintToeOffs     bool
	PrintHeelStrikes bool

	phaseValid bool
}

// Detect sets DidToeOff, DidHeelStrike and GaitPhase on s, in that order.
// Heel strike sees the phase left from the previous tick.
func (e *Estimator) Detect(s *exo.Sample) {
	s.DidToeOff = e.ToeOff.Detect(s)
	s.DidHeelStrike = e.HeelStrike.Detect(s)
	s.GaitPhase = e.Phase.Estimate(s)

	if e.PrintToeOffs && s.DidToeOff {
		log.Printf("gait %s: toe off at %.3f", e.Side, s.LoopTime)
	}
	if e.PrintHeelStrikes && s.DidHeelStrike {
		log.Printf("gait %s: heel strike at %.3f", e.Side, s.LoopTime)
	}
	if s.GaitPhase.Valid != e.phaseValid {
		e.phaseValid = s.GaitPhase.Valid
		if e.phaseValid {
			log.Printf("gait %s: steady gait, phase available at %.3f", e.Side, s.LoopTime)
		} else {
			log.Printf("gait %s: gait not steady, phase unknown at %.3f", e.Side, s.LoopTime)
		}
	}
}

// NewWalkingEstimator builds the toe-off, heel-strike and stride average
// estimator chain from cfg.
func NewWalkingEstimator(side exo.Side, clock timing.Clock, cfg *config.Config) (*Estimator, error) {
	angleFilter, err := filter.NewNormalizedButterworth(cfg.HSAngleFilterN, cfg.HSAngleFilterWn)
	if err != nil {
		return nil, fmt.Errorf("%w: toe-off angle filter: %v", exo.ErrConfiguration, err)
	}
	phase, err := NewStrideAverageEstimator(clock, cfg.NumStridesRequired, cfg.NumStridesToAverage,
		cfg.MinStrideDuration, cfg.MaxStrideDuration)
	if err != nil {
		return nil, err
	}
	return &Estimator{
		Side:             side,
		ToeOff:           NewToeOffDetector(clock, cfg.MaximumAngle, angleFilter, cfg.HSAngleDelay),
		HeelStrike:       NewHeelStrikeDetector(cfg.HeelStrikeFraction),
		Phase:            phase,
		PrintToeOffs:     cfg.PrintTO,
		PrintHeelStrikes: cfg.PrintHS,
	}, nil
}

// UpdateFromConfig applies new gait parameters. Filters and stride buffers
// are only rebuilt when their shape changes.
func (e *Estimator) UpdateFromConfig(cfg *config.Config) error {
	e.PrintToeOffs = cfg.PrintTO
	e.PrintHeelStrikes = cfg.PrintHS

	if d, ok := e.ToeOff.(*ToeOffDetector); ok {
		d.MaximumAngle = cfg.MaximumAngle
		d.SetDelay(cfg.HSAngleDelay)
		if bw, ok := d.angleFilter.(*filter.Butterworth); ok && !bw.Matches(cfg.HSAngleFilterN, cfg.HSAngleFilterWn, 2) {
			f, err := filter.NewNormalizedButterworth(cfg.HSAngleFilterN, cfg.HSAngleFilterWn)
			if err != nil {
				return fmt.Errorf("%w: toe-off angle filter: %v", exo.ErrConfiguration, err)
			}
			d.SetFilter(f)
		}
	}
	if d, ok := e.HeelStrike.(*HeelStrikeDetector); ok {
		d.Fraction = cfg.HeelStrikeFraction
	}
	if p, ok := e.Phase.(*StrideAverageEstimator); ok {
		p.MinStride = cfg.MinStrideDuration
		p.MaxStride = cfg.MaxStrideDuration
		if err := p.Resize(cfg.NumStridesRequired, cfg.NumStridesToAverage); err != nil {
			return err
		}
	}
	return nil
}
