// Package metrics exposes Prometheus collectors for the job tracker.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	gatewayRequestsTotal          *prometheus.CounterVec
	gatewayRequestDurationSeconds *prometheus.HistogramVec
	gatewayRateLimitDelaySeconds  *prometheus.HistogramVec
	activePollers                 prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "suite_http_requests_total",
				Help: "Total number of local API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "suite_http_request_duration_seconds",
				Help:    "Histogram of local API latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		gatewayRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "suite_gateway_requests_total",
				Help: "Total number of backend calls, labeled by service and outcome.",
			},
			[]string{"service", "outcome"},
		)

		gatewayRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "suite_gateway_request_duration_seconds",
				Help:    "Histogram of backend call latencies, labeled by service.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"service"},
		)

		gatewayRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "suite_gateway_rate_limit_delay_seconds",
				Help:    "Histogram of client-side rate limit waits, labeled by service.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"service"},
		)

		activePollers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "suite_active_pollers",
				Help: "Number of status pollers currently running.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records local API request metrics.
func Middleware(next http.Handler) http.Handler {
	Init()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveHTTPRequest increments the local API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Outcome buckets a backend response for labeling.
func Outcome(code int, err error) string {
	switch {
	case err != nil && code == 0:
		return "transport_error"
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 200 && code < 300:
		return "ok"
	default:
		return "other"
	}
}

// ObserveGatewayRequest records one backend call.
func ObserveGatewayRequest(service, outcome string, duration time.Duration) {
	Init()
	service = SanitizeService(service)
	gatewayRequestsTotal.WithLabelValues(service, outcome).Inc()
	gatewayRequestDurationSeconds.WithLabelValues(service).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(service string, duration time.Duration) {
	Init()
	gatewayRateLimitDelaySeconds.WithLabelValues(SanitizeService(service)).Observe(duration.Seconds())
}

// IncActivePollers increments the active poller gauge.
func IncActivePollers() {
	Init()
	activePollers.Inc()
}

// DecActivePollers decrements the active poller gauge.
func DecActivePollers() {
	Init()
	activePollers.Dec()
}

// SanitizeService lowercases a service label, returning "unknown" when empty.
func SanitizeService(service string) string {
	s := strings.ToLower(strings.TrimSpace(service))
	if s == "" {
		return "unknown"
	}
	return s
}
