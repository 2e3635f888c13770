// Package metrics holds the Prometheus collectors for queries, synthesis,
// capture and event dispatch.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records pipeline outcomes. A nil *Metrics is a valid no-op.
type Metrics struct {
	queries          *prometheus.CounterVec
	synthesis        *prometheus.CounterVec
	synthesisSeconds prometheus.Histogram
	dispatches       *prometheus.CounterVec
	captures         *prometheus.CounterVec
	gatherer         prometheus.Gatherer
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the process-wide recorder on its own registry, which also
// carries the Go runtime and process collectors.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		defaultMetrics = newMetrics(reg)
		defaultMetrics.gatherer = reg
	})
	return defaultMetrics
}

// NewWithRegisterer allows tests to provide a dedicated registry. When reg
// can also gather, Handler serves it instead of the global registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := newMetrics(reg)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "query_total",
			Help:      "Queries by outcome (answered, degraded, no_match, no_pages, invalid)",
		}, []string{"outcome"}),
		synthesis: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "synthesis_total",
			Help:      "Synthesis calls by result (ok, cached, unavailable)",
		}, []string{"result"}),
		synthesisSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "recall",
			Name:      "synthesis_seconds",
			Help:      "Synthesis call latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20},
		}),
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "dispatch_total",
			Help:      "Event dispatches by channel (calendar, email, none)",
		}, []string{"channel"}),
		captures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "capture_total",
			Help:      "Page captures by result (ok, error)",
		}, []string{"result"}),
	}
}

// ObserveQuery counts a query outcome.
func (m *Metrics) ObserveQuery(outcome string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
}

// ObserveSynthesis counts a synthesis call and its latency.
func (m *Metrics) ObserveSynthesis(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.synthesis.WithLabelValues(result).Inc()
	if result != "cached" {
		m.synthesisSeconds.Observe(elapsed.Seconds())
	}
}

// ObserveDispatch counts a dispatch by the channel that took it.
func (m *Metrics) ObserveDispatch(channel string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(channel).Inc()
}

// ObserveCapture counts a page capture.
func (m *Metrics) ObserveCapture(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.captures.WithLabelValues(result).Inc()
}

// Handler serves the recorder's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
