// Package metrics exposes solver and analysis activity to Prometheus.
package metrics

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copyleftdev/equilibria/internal/concentration"
	"github.com/copyleftdev/equilibria/internal/errors"
	"github.com/copyleftdev/equilibria/internal/thermo"
)

// Config controls which collectors are registered.
type Config struct {
	Namespace      string
	RuntimeMetrics bool
}

// Metrics owns a registry with the service's collectors. It implements
// concentration.Observer.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string

	solves     *prometheus.CounterVec
	iterations *prometheus.HistogramVec
	duration   *prometheus.HistogramVec
	analyses   *prometheus.CounterVec
	active     prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "equilibria"
	}
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		namespace: cfg.Namespace,
		solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "solves_total",
			Help:      "Concentration solves by method and outcome.",
		}, []string{"method", "status"}),
		iterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "solve_iterations",
			Help:      "Major iterations per concentration solve.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"method"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "solve_duration_seconds",
			Help:      "Wall-clock time per concentration solve.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
		}, []string{"method"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "analyses_total",
			Help:      "Finished tube analyses by outcome.",
		}, []string{"status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "analyses_active",
			Help:      "Tube analyses currently running.",
		}),
	}
	m.registry.MustRegister(m.solves, m.iterations, m.duration, m.analyses, m.active)
	if cfg.RuntimeMetrics {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: cfg.Namespace}),
		)
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveSolve implements concentration.Observer.
func (m *Metrics) ObserveSolve(s concentration.Stats) {
	method := s.Method.String()
	status := "converged"
	if s.Err != nil {
		status = errors.KindOf(s.Err).String()
	}
	m.solves.WithLabelValues(method, status).Inc()
	m.iterations.WithLabelValues(method).Observe(float64(s.Iterations))
	m.duration.WithLabelValues(method).Observe(s.Duration.Seconds())
}

// AnalysisStarted marks one analysis as running.
func (m *Metrics) AnalysisStarted() { m.active.Inc() }

// AnalysisFinished records the outcome of a running analysis.
func (m *Metrics) AnalysisFinished(err error) {
	m.active.Dec()
	status := "completed"
	switch {
	case stderrors.Is(err, context.Canceled):
		status = "cancelled"
	case err != nil:
		status = "failed"
	}
	m.analyses.WithLabelValues(status).Inc()
}

// WatchCache exports the hit and miss counts of c.
func (m *Metrics) WatchCache(c *thermo.Cache) error {
	hits := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "engine_cache_hits_total",
		Help:      "Engine evaluations served from the cache.",
	}, func() float64 {
		h, _ := c.Stats()
		return float64(h)
	})
	misses := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "engine_cache_misses_total",
		Help:      "Engine evaluations passed to the engine.",
	}, func() float64 {
		_, miss := c.Stats()
		return float64(miss)
	})
	size := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "engine_cache_entries",
		Help:      "Evaluations held in the cache.",
	}, func() float64 { return float64(c.Len()) })

	for _, col := range []prometheus.Collector{hits, misses, size} {
		if err := m.registry.Register(col); err != nil {
			return errors.Wrap(err, "registering cache metrics").WithComponent("metrics").WithOperation("WatchCache")
		}
	}
	return nil
}
