package handlers

import (
	"net/http"
	"time"

	"github.com/driftsync/driftsync/pkg/drive"
	"github.com/driftsync/driftsync/pkg/task"
)

// StatusHandler handles aggregate status and health endpoints.
type StatusHandler struct {
	manager *drive.Manager
	queue   *task.Queue
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(manager *drive.Manager, queue *task.Queue) *StatusHandler {
	return &StatusHandler{manager: manager, queue: queue}
}

// StatsResponse is the response body for GET /v1/stats.
type StatsResponse struct {
	Health    string         `json:"health"`
	Queue     task.Stats     `json:"queue"`
	Drives    []drive.Status `json:"drives"`
	Timestamp time.Time      `json:"timestamp"`
}

// Stats handles GET /v1/stats. The snapshot is computed at request time
// rather than maintained incrementally.
func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, StatsResponse{
		Health:    string(h.manager.Health()),
		Queue:     h.queue.Stats(),
		Drives:    h.manager.Drives(),
		Timestamp: time.Now().UTC(),
	})
}

// Healthz handles GET /healthz, the liveness probe.
func (h *StatusHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, map[string]string{
		"status": "ok",
		"health": string(h.manager.Health()),
	})
}
