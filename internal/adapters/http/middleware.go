package httpadapter

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
	"github.com/kirillkom/store-app-detector/internal/observability/metrics"
)

const requestIDHeader = "X-Request-Id"

const (
	rejectRateLimited = "rate_limited"
	rejectSaturated   = "saturated"
)

type requestIDContextKey struct{}

func requestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDContextKey{}).(string)
	return requestID
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDContextKey{}, requestID)))
	})
}

// routeNames maps chi route patterns to the names used in logs and metrics.
var routeNames = map[string]string{
	"POST /v1/detections":        "detect",
	"POST /v1/detections/stream": "detect_stream",
	"POST /v1/detections/async":  "detect_async",
	"POST /v1/detections/quick":  "detect_quick",
	"GET /v1/detections":         "list_runs",
	"GET /v1/detections/{runID}": "get_run",
	"GET /healthz":               "healthz",
	"GET /readyz":                "readyz",
	"GET /metrics":               "metrics",
}

// routeName must be called after the router has served r, once chi has matched the pattern.
func routeName(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	if name, ok := routeNames[r.Method+" "+rctx.RoutePattern()]; ok {
		return name
	}
	return "unmatched"
}

// responseRecorder is the writer every handler sees. Handlers annotate it with the detection
// outcome through noteFailure and noteRejection.
type responseRecorder struct {
	http.ResponseWriter
	status    int
	bytes     int
	errorKind string
	phase     domain.Phase
	rejected  string
}

func (w *responseRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *responseRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *responseRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// noteFailure records the error kind and the failed pipeline phase of err on the response.
func noteFailure(w http.ResponseWriter, err error) {
	rec, ok := w.(*responseRecorder)
	if !ok || err == nil {
		return
	}
	rec.errorKind = domain.KindName(err)
	var phaseErr *domain.PhaseError
	if errors.As(err, &phaseErr) {
		rec.phase = phaseErr.Phase
	}
}

func noteRejection(w http.ResponseWriter, reason string) {
	if rec, ok := w.(*responseRecorder); ok {
		rec.rejected = reason
	}
}

// observeMiddleware writes the access log line and, when m is set, the request metrics.
func observeMiddleware(m *metrics.APIMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			if m != nil {
				done := m.RequestStarted()
				defer done()
			}

			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			route := routeName(r)
			if m != nil {
				m.ObserveRequest(metrics.RequestOutcome{
					Route:     route,
					Status:    rec.status,
					ErrorKind: rec.errorKind,
					Phase:     string(rec.phase),
					Duration:  elapsed,
				})
				if rec.rejected != "" {
					m.ObserveRejected(rec.rejected)
				}
			}
			logRequest(r, rec, route, elapsed)
		})
	}
}

func logRequest(r *http.Request, rec *responseRecorder, route string, elapsed time.Duration) {
	remoteAddr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		remoteAddr = host
	}
	attrs := []any{
		"request_id", requestIDFromContext(r.Context()),
		"route", route,
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration_ms", float64(elapsed.Microseconds()) / 1000.0,
		"bytes", rec.bytes,
		"remote_addr", remoteAddr,
	}
	if rec.errorKind != "" {
		attrs = append(attrs, "error_kind", rec.errorKind)
	}
	if rec.phase != "" {
		attrs = append(attrs, "failed_phase", string(rec.phase))
	}
	if rec.rejected != "" {
		attrs = append(attrs, "rejected", rec.rejected)
	}

	level := slog.LevelInfo
	switch {
	case rec.status >= 500:
		level = slog.LevelError
	case rec.status >= 400:
		level = slog.LevelWarn
	}
	slog.Log(r.Context(), level, "http_request", attrs...)
}

// rateLimitMiddleware applies one token bucket to all detection routes. rps <= 0 disables it.
func rateLimitMiddleware(next http.Handler, rps float64, burst int) http.Handler {
	if rps <= 0 {
		return next
	}
	limiter := rate.NewLimiter(rate.Limit(rps), max(burst, 1))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reservation := limiter.Reserve()
		if !reservation.OK() {
			noteRejection(w, rejectRateLimited)
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			noteRejection(w, rejectRateLimited)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// backpressureMiddleware admits at most maxInFlight detection requests and waits up to wait for
// a slot. Each admitted request may hold its slot for a full pipeline run.
func backpressureMiddleware(next http.Handler, maxInFlight int, wait time.Duration) http.Handler {
	if maxInFlight <= 0 {
		return next
	}
	slots := make(chan struct{}, maxInFlight)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case slots <- struct{}{}:
		default:
			timer := time.NewTimer(wait)
			select {
			case slots <- struct{}{}:
				timer.Stop()
			case <-timer.C:
				noteRejection(w, rejectSaturated)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server is busy, retry later"})
				return
			case <-r.Context().Done():
				timer.Stop()
				return
			}
		}
		defer func() { <-slots }()

		next.ServeHTTP(w, r)
	})
}
