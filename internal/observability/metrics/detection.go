package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
)

// DetectionMetrics implements ports.PhaseObserver and ports.BreakerObserver.
type DetectionMetrics struct {
	service string

	breakerState  *prometheus.GaugeVec
	phaseDuration *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	detectedApps  *prometheus.HistogramVec
	unmatchedApps *prometheus.CounterVec
}

func NewDetectionMetrics(service string, registerer prometheus.Registerer) *DetectionMetrics {
	phaseDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "phase_duration_seconds",
			Help:      "Duration of detection service phase calls by outcome.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		},
		[]string{"service", "phase", "outcome"},
	)
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "runs_total",
			Help:      "Total pipeline runs by status.",
		},
		[]string{"service", "status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "run_duration_seconds",
			Help:      "End-to-end pipeline duration in seconds.",
			Buckets:   []float64{1, 5, 10, 20, 40, 60, 120, 240},
		},
		[]string{"service", "status"},
	)
	detectedApps := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "detected_apps",
			Help:      "Detected apps per completed run.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"service"},
	)
	unmatchedApps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "unmatched_apps_total",
			Help:      "Detected apps without a catalog match.",
		},
		[]string{"service"},
	)

	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per phase: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"service", "phase"},
	)

	registerer.MustRegister(phaseDuration, runsTotal, runDuration, detectedApps, unmatchedApps, breakerState)

	return &DetectionMetrics{
		service:       service,
		breakerState:  breakerState,
		phaseDuration: phaseDuration,
		runsTotal:     runsTotal,
		runDuration:   runDuration,
		detectedApps:  detectedApps,
		unmatchedApps: unmatchedApps,
	}
}

func (m *DetectionMetrics) ObservePhase(phase domain.Phase, duration time.Duration, err error) {
	m.phaseDuration.WithLabelValues(m.service, string(phase), outcome(err)).Observe(duration.Seconds())
}

func (m *DetectionMetrics) ObserveRun(result *domain.DetectionResult, duration time.Duration, err error) {
	status := outcome(err)
	m.runsTotal.WithLabelValues(m.service, status).Inc()
	m.runDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
	if err != nil || result == nil {
		return
	}
	m.detectedApps.WithLabelValues(m.service).Observe(float64(len(result.DetectedApps)))
	if unmatched := result.UnmatchedCount(); unmatched > 0 {
		m.unmatchedApps.WithLabelValues(m.service).Add(float64(unmatched))
	}
}

var breakerStateValues = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

func (m *DetectionMetrics) ObserveBreakerState(phase domain.Phase, state string) {
	value, ok := breakerStateValues[state]
	if !ok {
		return
	}
	m.breakerState.WithLabelValues(m.service, string(phase)).Set(value)
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return domain.KindName(err)
}
