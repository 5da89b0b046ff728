package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bizdash/session"
)

// Metrics are the Prometheus collectors of one server. Each server owns its
// registry so tests can run several side by side.
type Metrics struct {
	registry *prometheus.Registry

	chatRequests *prometheus.CounterVec
	chatLatency  prometheus.Histogram
	chartBuilds  *prometheus.CounterVec
	snippets     *prometheus.CounterVec
	uploads      *prometheus.CounterVec
	requests     *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bizdash",
			Name:      "chat_requests_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		chatLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bizdash",
			Name:      "chat_latency_seconds",
			Help:      "Time spent waiting for the LLM provider, retries included.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		chartBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bizdash",
			Name:      "chart_builds_total",
			Help:      "Charts built on request by kind and outcome.",
		}, []string{"kind", "outcome"}),
		snippets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bizdash",
			Name:      "snippet_interpretations_total",
			Help:      "Plotting snippets interpreted by outcome.",
		}, []string{"outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bizdash",
			Name:      "uploads_total",
			Help:      "Uploaded files by format and outcome.",
		}, []string{"format", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bizdash",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.chatRequests, m.chatLatency, m.chartBuilds, m.snippets, m.uploads, m.requests,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) observeChat(res *session.ChatResult) {
	m.chatRequests.WithLabelValues(outcome(res.Err)).Inc()
	m.chatLatency.Observe(res.Latency.Seconds())
	m.snippets.WithLabelValues("plotted").Add(float64(len(res.Plots)))
	m.snippets.WithLabelValues("failed").Add(float64(len(res.Errors)))
}

func (m *Metrics) observeSnippet(err error) {
	if err != nil {
		m.snippets.WithLabelValues("failed").Inc()
		return
	}
	m.snippets.WithLabelValues("plotted").Inc()
}

func (m *Metrics) observeChart(kind string, err error) {
	m.chartBuilds.WithLabelValues(kind, outcome(err)).Inc()
}

func (m *Metrics) observeUpload(format string, err error) {
	m.uploads.WithLabelValues(format, outcome(err)).Inc()
}
