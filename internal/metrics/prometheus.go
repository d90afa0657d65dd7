package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter publishes decision counters in the prometheus text format.
// Counters are always live; the Collector's opt-in switch only governs the
// per-action table served over the control socket.
type Exporter struct {
	registry   *prometheus.Registry
	decisions  *prometheus.CounterVec
	arms       *prometheus.CounterVec
	evaluation prometheus.Histogram
}

// NewExporter registers the castguard metrics on a private registry.
func NewExporter() *Exporter {
	reg := prometheus.NewRegistry()
	e := &Exporter{
		registry: reg,
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castguard_decisions_total",
				Help: "Cast attempts evaluated, by context, decision and reason.",
			},
			[]string{"context", "decision", "reason"},
		),
		arms: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castguard_arms_total",
				Help: "Trigger window armings, by source.",
			},
			[]string{"source"},
		),
		evaluation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "castguard_evaluation_seconds",
			Help:    "Time spent evaluating a single cast attempt.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 8),
		}),
	}
	reg.MustRegister(e.decisions, e.arms, e.evaluation)
	return e
}

func (e *Exporter) ObserveDecision(context, decision, reason string, took time.Duration) {
	if e == nil {
		return
	}
	e.decisions.WithLabelValues(context, decision, reason).Inc()
	e.evaluation.Observe(took.Seconds())
}

func (e *Exporter) ObserveArm(source string) {
	if e == nil {
		return
	}
	e.arms.WithLabelValues(source).Inc()
}

// Registry exposes the underlying registry for tests and extra collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
