package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kirillkom/store-app-detector/internal/config"
	"github.com/kirillkom/store-app-detector/internal/core/domain"
	"github.com/kirillkom/store-app-detector/internal/core/ports"
	"github.com/kirillkom/store-app-detector/internal/observability/metrics"
)

const maxRequestBodyBytes = 64 << 10

type Router struct {
	cfg     config.Config
	runner  ports.DetectionRunner
	runs    ports.DetectionRunReader
	quick   ports.SingleShotDetector
	health  ports.HealthChecker
	metrics *metrics.APIMetrics
}

func NewRouter(
	cfg config.Config,
	runner ports.DetectionRunner,
	runs ports.DetectionRunReader,
	quick ports.SingleShotDetector,
	health ports.HealthChecker,
) *Router {
	return &Router{
		cfg:    cfg,
		runner: runner,
		runs:   runs,
		quick:  quick,
		health: health,
	}
}

// WithMetrics exposes /metrics and records request metrics for every route.
func (rt *Router) WithMetrics(m *metrics.APIMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(observeMiddleware(rt.metrics))
	r.Use(chimiddleware.Recoverer)
	if rt.metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	r.Get("/healthz", rt.healthz)
	r.Get("/readyz", rt.readyz)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return rateLimitMiddleware(next, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
		})
		r.Use(func(next http.Handler) http.Handler {
			wait := time.Duration(rt.cfg.APIBackpressureWaitMS) * time.Millisecond
			return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, wait)
		})

		r.Post("/v1/detections", rt.createDetection)
		r.Post("/v1/detections/stream", rt.streamDetection)
		r.Post("/v1/detections/async", rt.enqueueDetection)
		r.Post("/v1/detections/quick", rt.quickDetection)
		r.Get("/v1/detections", rt.listDetectionRuns)
		r.Get("/v1/detections/{runID}", rt.getDetectionRun)
	})

	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	if rt.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	if err := rt.health.Health(r.Context()); err != nil {
		slog.Warn("readiness_check_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  domain.UserMessage(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type detectionRequest struct {
	URL string `json:"url"`
}

// decodeStoreURL reads {"url": ...}; it writes the 400 itself and reports false on failure.
func decodeStoreURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req detectionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return "", false
	}
	storeURL := strings.TrimSpace(req.URL)
	if storeURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Store URL is required."})
		return "", false
	}
	return storeURL, true
}

func (rt *Router) createDetection(w http.ResponseWriter, r *http.Request) {
	storeURL, ok := decodeStoreURL(w, r)
	if !ok {
		return
	}
	run, err := rt.runner.Run(r.Context(), storeURL, nil)
	if err != nil {
		writeError(w, err, run)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (rt *Router) streamDetection(w http.ResponseWriter, r *http.Request) {
	storeURL, ok := decodeStoreURL(w, r)
	if !ok {
		return
	}
	stream, err := newSSEProgressWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	// The terminal event already carries the outcome; the error is only logged here.
	if _, err := rt.runner.Run(r.Context(), storeURL, stream); err != nil {
		noteFailure(w, err)
		slog.Info("detection_stream_failed",
			"request_id", requestIDFromContext(r.Context()),
			"store_url", storeURL,
			"error_kind", domain.KindName(err),
		)
	}
	if err := stream.done(); err != nil {
		slog.Warn("detection_stream_write_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
}

func (rt *Router) enqueueDetection(w http.ResponseWriter, r *http.Request) {
	storeURL, ok := decodeStoreURL(w, r)
	if !ok {
		return
	}
	run, err := rt.runner.Enqueue(r.Context(), storeURL)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (rt *Router) quickDetection(w http.ResponseWriter, r *http.Request) {
	storeURL, ok := decodeStoreURL(w, r)
	if !ok {
		return
	}
	if rt.quick == nil {
		writeError(w, domain.WrapError(domain.ErrNotConfigured, "quick detection", errNoQuickDetector), nil)
		return
	}
	result, err := rt.quick.DetectApps(r.Context(), storeURL)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) getDetectionRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(chi.URLParam(r, "runID"))
	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "run id is required"})
		return
	}
	if rt.runs == nil {
		writeError(w, domain.WrapError(domain.ErrNotConfigured, "get run", errNoRunHistory), nil)
		return
	}
	run, err := rt.runs.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (rt *Router) listDetectionRuns(w http.ResponseWriter, r *http.Request) {
	storeURL := strings.TrimSpace(r.URL.Query().Get("store_url"))
	if storeURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "store_url query parameter is required"})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if rt.runs == nil {
		writeError(w, domain.WrapError(domain.ErrNotConfigured, "list runs", errNoRunHistory), nil)
		return
	}
	runs, err := rt.runs.ListRuns(r.Context(), storeURL, limit)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if runs == nil {
		runs = []domain.DetectionRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
