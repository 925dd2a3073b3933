// Package metrics exposes gatekeeper game metrics to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/ashureev/gatekeeper/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gatekeeper"

// Metrics holds the game collectors. It implements session.Observer.
type Metrics struct {
	registry *prometheus.Registry

	turns      *prometheus.CounterVec
	reveals    prometheus.Counter
	solves     prometheus.Counter
	breaches   prometheus.Counter
	completion *prometheus.HistogramVec
	active     prometheus.Gauge
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turns processed, by outcome (hint, withheld, solved, error).",
		}, []string{"outcome"}),
		reveals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reveals_total",
			Help:      "Key characters revealed.",
		}),
		solves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solves_total",
			Help:      "Challenges completed.",
		}),
		breaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breach_attempts_total",
			Help:      "Utterances classified as breach attempts.",
		}),
		completion: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Latency of completion backend calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 30},
		}, []string{"provider"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Game sessions held in memory.",
		}),
	}
	reg.MustRegister(m.turns, m.reveals, m.solves, m.breaches, m.completion, m.active)

	// Pre-create outcome series so dashboards see zeros.
	for _, outcome := range []string{"hint", "withheld", "solved", "error"} {
		m.turns.WithLabelValues(outcome)
	}
	return m
}

// ActiveSessions is the gauge the session manager reports into.
func (m *Metrics) ActiveSessions() prometheus.Gauge {
	return m.active
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OnTurn records one turn.
func (m *Metrics) OnTurn(_ context.Context, rec session.TurnRecord) {
	m.turns.WithLabelValues(rec.Outcome()).Inc()

	// Solved turns never call the backend.
	if !rec.Solved {
		m.completion.WithLabelValues(rec.Provider).Observe(rec.CompletionTime.Seconds())
	}
	if rec.Err != nil {
		return
	}
	if rec.HintFired {
		m.reveals.Inc()
	}
	if rec.Solved {
		m.solves.Inc()
	}
	if rec.Signals.Breach {
		m.breaches.Inc()
	}
}
