// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine collects solver and sequencer metrics.
type Engine struct {
	solves         prometheus.Counter
	solveFailures  prometheus.Counter
	solveDuration  prometheus.Histogram
	motionTimeouts prometheus.Counter
	moving         prometheus.Gauge
}

// New registers the engine collectors on reg.
func New(reg prometheus.Registerer) *Engine {
	factory := promauto.With(reg)
	return &Engine{
		solves: factory.NewCounter(prometheus.CounterOpts{
			Name: "attenuator_solves_total",
			Help: "Configuration solves attempted.",
		}),
		solveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "attenuator_solve_failures_total",
			Help: "Configuration solves that ended in a fault.",
		}),
		solveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "attenuator_solve_duration_seconds",
			Help:    "Wall time of one configuration solve.",
			Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
		}),
		motionTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "attenuator_motion_timeouts_total",
			Help: "Convergence attempts abandoned on timeout.",
		}),
		moving: factory.NewGauge(prometheus.GaugeOpts{
			Name: "attenuator_moving",
			Help: "1 while a convergence attempt is running.",
		}),
	}
}

// ObserveSolve records one finished solve.
func (e *Engine) ObserveSolve(d time.Duration, err error) {
	e.solves.Inc()
	e.solveDuration.Observe(d.Seconds())
	if err != nil {
		e.solveFailures.Inc()
	}
}

func (e *Engine) MotionTimeout() { e.motionTimeouts.Inc() }

func (e *Engine) SetMoving(moving bool) {
	if moving {
		e.moving.Set(1)
	} else {
		e.moving.Set(0)
	}
}
