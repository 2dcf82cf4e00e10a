// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every engine metric. One instance is shared between
// the engine and the HTTP surface.
type Registry struct {
	Decisions  *prometheus.CounterVec
	Rejections *prometheus.CounterVec
	Clamps     prometheus.Counter
	Score      prometheus.Histogram
	EvalTime   prometheus.Histogram

	registry *prometheus.Registry
}

// NewRegistry creates and registers the engine metrics on a private
// Prometheus registry.
func NewRegistry() *Registry {
	r := &Registry{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evengine_decisions_total",
				Help: "Decisions emitted by action",
			},
			[]string{"action"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evengine_rejections_total",
				Help: "Entry rejections by category",
			},
			[]string{"category"},
		),
		Clamps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "evengine_clamps_total",
				Help: "Hard-ceiling clamps applied to sized trades",
			},
		),
		Score: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "evengine_market_score",
				Help:    "Composite market score distribution",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
		),
		EvalTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "evengine_evaluation_seconds",
				Help:    "Decision evaluation duration",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		registry: prometheus.NewRegistry(),
	}

	r.registry.MustRegister(r.Decisions, r.Rejections, r.Clamps, r.Score, r.EvalTime)
	return r
}

// Gatherer exposes the private registry for the /metrics handler and
// for test inspection.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }
