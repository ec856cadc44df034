package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "detector"

// APIMetrics records detection API traffic. Requests are labelled by route name, and failed
// detections by error kind and by the pipeline phase that failed.
type APIMetrics struct {
	service  string
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
	rejected *prometheus.CounterVec
}

// RequestOutcome describes one served API request.
type RequestOutcome struct {
	Route     string
	Status    int
	ErrorKind string
	Phase     string
	Duration  time.Duration
}

func NewAPIMetrics(service string) *APIMetrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by route, status, error kind and failed pipeline phase.",
		},
		[]string{"service", "route", "status", "error_kind", "phase"},
	)
	// Synchronous and streamed detections hold the request for the whole pipeline.
	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds by route.",
			Buckets:   []float64{0.01, 0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"service", "route"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "api",
			Name:        "in_flight_requests",
			Help:        "API requests currently being served, including open detection streams.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	rejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "rejected_requests_total",
			Help:      "Detection requests turned away before reaching the pipeline.",
		},
		[]string{"service", "reason"},
	)

	registry.MustRegister(requests, latency, inFlight, rejected)

	return &APIMetrics{
		service:  service,
		registry: registry,
		requests: requests,
		latency:  latency,
		inFlight: inFlight,
		rejected: rejected,
	}
}

// Registry lets the detection collectors share the API's /metrics endpoint.
func (m *APIMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *APIMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RequestStarted counts a request as in flight until the returned func is called.
func (m *APIMetrics) RequestStarted() func() {
	m.inFlight.Inc()
	return m.inFlight.Dec
}

func (m *APIMetrics) ObserveRequest(o RequestOutcome) {
	m.requests.WithLabelValues(
		m.service,
		o.Route,
		strconv.Itoa(o.Status),
		orNone(o.ErrorKind),
		orNone(o.Phase),
	).Inc()
	m.latency.WithLabelValues(m.service, o.Route).Observe(o.Duration.Seconds())
}

// ObserveRejected counts a request refused by traffic control ("rate_limited", "saturated").
func (m *APIMetrics) ObserveRejected(reason string) {
	m.rejected.WithLabelValues(m.service, reason).Inc()
}

func orNone(v string) string {
	if v == "" {
		return "none"
	}
	return v
}
