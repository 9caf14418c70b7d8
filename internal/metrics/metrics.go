// Package metrics provides Prometheus metrics for the stockpit server:
// background task outcomes, per-item processing tallies, and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpit_tasks_started_total",
			Help: "Total number of background tasks started",
		},
		[]string{"type"},
	)
	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpit_tasks_finished_total",
			Help: "Total number of background tasks that reached a terminal status",
		},
		[]string{"type", "status"},
	)
	TaskItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpit_task_items_total",
			Help: "Total number of items processed by background tasks",
		},
		[]string{"type", "outcome"},
	)
	TasksRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stockpit_tasks_running",
			Help: "Number of background tasks currently running by type",
		},
		[]string{"type"},
	)
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockpit_task_duration_seconds",
			Help:    "Background task duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"type", "status"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpit_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockpit_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func RecordTaskStarted(taskType string) {
	TasksStarted.WithLabelValues(taskType).Inc()
	TasksRunning.WithLabelValues(taskType).Inc()
}

func RecordTaskFinished(taskType, status string, duration time.Duration) {
	TasksFinished.WithLabelValues(taskType, status).Inc()
	TasksRunning.WithLabelValues(taskType).Dec()
	TaskDuration.WithLabelValues(taskType, status).Observe(duration.Seconds())
}

func RecordTaskItem(taskType, outcome string) {
	TaskItems.WithLabelValues(taskType, outcome).Inc()
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records a counter and duration sample for every request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := normalizeEndpoint(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		RecordHTTPRequest(r.Method, endpoint, status, duration)
	})
}

// normalizeEndpoint collapses path parameters so that metrics cardinality
// stays bounded.
func normalizeEndpoint(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/tasks/latest/"):
		return "/api/tasks/latest/:type"
	case strings.HasPrefix(path, "/api/tasks/") && strings.HasSuffix(path, "/cancel"):
		return "/api/tasks/:id/cancel"
	case strings.HasPrefix(path, "/api/tasks/") && strings.HasSuffix(path, "/logs"):
		return "/api/tasks/:id/logs"
	case strings.HasPrefix(path, "/api/tasks/") && strings.HasSuffix(path, "/retry-failed"):
		return "/api/tasks/:id/retry-failed"
	case strings.HasPrefix(path, "/api/tasks/"):
		return "/api/tasks/:id"
	case strings.HasPrefix(path, "/api/stocks/") && strings.HasSuffix(path, "/tags"):
		return "/api/stocks/:code/tags"
	case strings.HasPrefix(path, "/api/stocks/") && path != "/api/stocks/collect-history":
		return "/api/stocks/:code"
	default:
		return path
	}
}
