// Package api exposes the local management HTTP server: drive registration,
// task inspection, engine stats, and Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/api/handlers"
	"github.com/driftsync/driftsync/pkg/drive"
	"github.com/driftsync/driftsync/pkg/metrics"
	"github.com/driftsync/driftsync/pkg/task"
)

// NewRouter builds the chi router with the full middleware stack and all
// management routes.
//
// Routes:
//   - GET    /v1/drives              - list drives with health
//   - POST   /v1/drives              - register a drive
//   - GET    /v1/drives/{id}         - one drive's status
//   - DELETE /v1/drives/{id}         - remove a drive and its metadata
//   - POST   /v1/drives/{id}/enabled - pause or resume a drive
//   - GET    /v1/tasks               - list tasks, filterable
//   - GET    /v1/tasks/{id}          - one task
//   - POST   /v1/tasks/{id}/cancel   - cancel a task
//   - GET    /v1/stats               - on-demand engine snapshot
//   - GET    /healthz                - liveness probe
//   - GET    /metrics                - Prometheus exposition
func NewRouter(manager *drive.Manager, queue *task.Queue) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	driveHandler := handlers.NewDriveHandler(manager)
	taskHandler := handlers.NewTaskHandler(queue)
	statusHandler := handlers.NewStatusHandler(manager, queue)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/drives", func(r chi.Router) {
			r.Get("/", driveHandler.List)
			r.Post("/", driveHandler.Create)
			r.Get("/{id}", driveHandler.Get)
			r.Delete("/{id}", driveHandler.Delete)
			r.Post("/{id}/enabled", driveHandler.SetEnabled)
		})
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.List)
			r.Get("/{id}", taskHandler.Get)
			r.Post("/{id}/cancel", taskHandler.Cancel)
		})
		r.Get("/stats", statusHandler.Stats)
	})

	r.Get("/healthz", statusHandler.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

// requestLogger logs request start at DEBUG and completion at INFO using
// the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
