// Package httpapi serves the stockpit HTTP/JSON API: task launch and
// progress endpoints, the stock and tag CRUD surface, and signal listings.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockpit/internal/collect"
	"stockpit/internal/metrics"
	"stockpit/internal/signal"
	"stockpit/internal/store"
	"stockpit/internal/task"
)

// Server serves the stockpit API.
type Server struct {
	registry   *task.Registry
	stocks     store.StockStore
	signals    store.SignalStore
	taskStore  store.TaskStore
	collector  *collect.Collector
	analyzer   *signal.Analyzer
	strategies *signal.Registry

	defaultDays int
	authToken   string // empty disables auth
	log         *slog.Logger
}

// NewServer creates a Server. authToken may be empty, which leaves the API
// open; taskStore may be nil, which disables task history lookups for tasks
// the registry no longer holds.
func NewServer(
	registry *task.Registry,
	stocks store.StockStore,
	signals store.SignalStore,
	taskStore store.TaskStore,
	collector *collect.Collector,
	analyzer *signal.Analyzer,
	strategies *signal.Registry,
	defaultDays int,
	authToken string,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	if defaultDays <= 0 {
		defaultDays = 365
	}
	return &Server{
		registry:    registry,
		stocks:      stocks,
		signals:     signals,
		taskStore:   taskStore,
		collector:   collector,
		analyzer:    analyzer,
		strategies:  strategies,
		defaultDays: defaultDays,
		authToken:   authToken,
		log:         log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/stocks/collect-history", s.handleCollectHistory)
	mux.HandleFunc("POST /api/signals/refresh", s.handleSignalRefresh)
	mux.HandleFunc("POST /api/signals/ma/refresh", s.handleMARefresh)

	mux.HandleFunc("GET /api/tasks/{task_id}", s.handleGetTask)
	mux.HandleFunc("GET /api/tasks/latest/{task_type}", s.handleLatestTask)
	mux.HandleFunc("POST /api/tasks/{task_id}/cancel", s.handleCancelTask)
	// A literal "GET /api/tasks/{task_id}/logs" pattern would conflict with
	// the latest route above (both match /api/tasks/latest/logs), so logs is
	// dispatched through the action wildcard, which "latest" wins over.
	mux.HandleFunc("GET /api/tasks/{task_id}/{action}", s.handleTaskAction)
	mux.HandleFunc("POST /api/tasks/{task_id}/retry-failed", s.handleRetryFailed)

	mux.HandleFunc("GET /api/stocks", s.handleListStocks)
	mux.HandleFunc("POST /api/stocks", s.handleCreateStock)
	mux.HandleFunc("DELETE /api/stocks/{code}", s.handleDeleteStock)
	mux.HandleFunc("PUT /api/stocks/{code}/tags/{tag}", s.handleAddTag)
	mux.HandleFunc("DELETE /api/stocks/{code}/tags/{tag}", s.handleRemoveTag)

	mux.HandleFunc("GET /api/signals", s.handleListSignals)
}

// Handler returns the full handler chain: CORS, metrics, bearer auth on the
// /api/ subtree, plus /healthz and /metrics outside the auth gate.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return corsMiddleware(metrics.Middleware(s.authMiddleware(mux)))
}

// authMiddleware enforces the configured bearer token on /api/ paths.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.authToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
