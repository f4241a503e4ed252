// Package metrics exposes Prometheus collectors for scan runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "forumscout"

// Metrics groups the collectors one process reports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	QuestionsCategorized *prometheus.CounterVec
	GatewayCalls         prometheus.Counter
	GatewayFailures      *prometheus.CounterVec
	GatewayLatency       prometheus.Histogram
	BreakerTrips         prometheus.Counter
	PagesFetched         *prometheus.CounterVec
	Runs                 *prometheus.CounterVec
	NotificationsSent    *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		QuestionsCategorized: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_categorized_total",
			Help:      "Questions categorized, labeled by result source and category.",
		}, []string{"source", "category"}),
		GatewayCalls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Calls made to the language-model gateway.",
		}),
		GatewayFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_failures_total",
			Help:      "Gateway failures, labeled by error kind.",
		}, []string{"kind"}),
		GatewayLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_latency_seconds",
			Help:      "Latency of gateway calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
		BreakerTrips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_trips_total",
			Help:      "Runs in which the gateway breaker opened.",
		}),
		PagesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Forum listing pages requested, labeled by status.",
		}, []string{"status"}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Scan runs, labeled by final status.",
		}, []string{"status"}),
		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Slack messages posted, labeled by status.",
		}, []string{"status"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveQuestion(source, category string) {
	if m == nil {
		return
	}
	m.QuestionsCategorized.WithLabelValues(source, category).Inc()
}

func (m *Metrics) ObserveGatewayCall(elapsed time.Duration, failureKind string) {
	if m == nil {
		return
	}
	m.GatewayCalls.Inc()
	m.GatewayLatency.Observe(elapsed.Seconds())
	if failureKind != "" {
		m.GatewayFailures.WithLabelValues(failureKind).Inc()
	}
}

func (m *Metrics) ObserveBreakerTrip() {
	if m == nil {
		return
	}
	m.BreakerTrips.Inc()
}

func (m *Metrics) ObservePage(ok bool) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(statusLabel(ok)).Inc()
}

func (m *Metrics) ObserveRun(ok bool) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(statusLabel(ok)).Inc()
}

func (m *Metrics) ObserveNotification(ok bool) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(statusLabel(ok)).Inc()
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
