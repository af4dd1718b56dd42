// Package metrics exposes control loop health on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/hip_exo/internal/exo"
)

var (
	// TickDuration is the busy time of one loop tick, pacing sleep excluded.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exo_tick_duration_seconds",
		Help:    "Control loop tick duration in seconds, excluding the pacing sleep",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10), // 0.1ms to ~50ms
	})

	// LateTicks counts ticks that started after their deadline.
	LateTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exo_late_ticks_total",
		Help: "Ticks that overran the target period",
	})

	ParamUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exo_param_updates_total",
		Help: "Parameter updates applied at a tick boundary",
	})

	heelStrikes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exo_heel_strikes_total",
		Help: "Detected heel strikes by side",
	}, []string{"side"})

	toeOffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exo_toe_offs_total",
		Help: "Detected toe-offs by side",
	}, []string{"side"})

	clippingTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exo_clipping_ticks_total",
		Help: "Ticks whose torque command was clamped, by side",
	}, []string{"side"})

	gaitPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "exo_gait_phase",
		Help: "Latest gait phase by side, -1 when unknown",
	}, []string{"side"})

	commandedTorque = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "exo_commanded_torque_nm",
		Help: "Latest commanded hip torque by side",
	}, []string{"side"})

	hipAngle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "exo_hip_angle_degrees",
		Help: "Latest hip angle by side",
	}, []string{"side"})
)

// ObserveSample records one side's tick.
func ObserveSample(s *exo.Sample) {
	side := s.Side.String()
	if s.DidHeelStrike {
		heelStrikes.WithLabelValues(side).Inc()
	}
	if s.DidToeOff {
		toeOffs.WithLabelValues(side).Inc()
	}
	if s.IsClipping {
		clippingTicks.WithLabelValues(side).Inc()
	}
	phase := -1.0
	if s.GaitPhase.Valid {
		phase = s.GaitPhase.Value
	}
	gaitPhase.WithLabelValues(side).Set(phase)
	if s.CommandedTorque != nil {
		commandedTorque.WithLabelValues(side).Set(*s.CommandedTorque)
	}
	hipAngle.WithLabelValues(side).Set(s.HipAngle)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
