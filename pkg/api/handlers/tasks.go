package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/driftsync/driftsync/pkg/task"
)

// TaskHandler handles task queue endpoints.
type TaskHandler struct {
	queue *task.Queue
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(queue *task.Queue) *TaskHandler {
	return &TaskHandler{queue: queue}
}

// TaskResponse is the wire representation of a task.
type TaskResponse struct {
	ID             string    `json:"id"`
	DriveID        string    `json:"drive_id"`
	Type           string    `json:"type"`
	Priority       string    `json:"priority"`
	LocalPath      string    `json:"local_path"`
	TargetPath     string    `json:"target_path,omitempty"`
	Status         string    `json:"status"`
	Progress       float64   `json:"progress"`
	TotalBytes     int64     `json:"total_bytes"`
	ProcessedBytes int64     `json:"processed_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Error          string    `json:"error,omitempty"`
}

func taskResponse(t task.Task) TaskResponse {
	return TaskResponse{
		ID:             t.ID,
		DriveID:        t.DriveID,
		Type:           string(t.Type),
		Priority:       t.Priority.String(),
		LocalPath:      t.LocalPath,
		TargetPath:     t.TargetPath,
		Status:         string(t.Status),
		Progress:       t.Progress,
		TotalBytes:     t.TotalBytes,
		ProcessedBytes: t.ProcessedBytes,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		Error:          t.Err,
	}
}

// List handles GET /v1/tasks.
//
// Optional query parameters filter the listing:
//   - drive_id: only tasks for this drive
//   - status: only tasks with this status (pending, running, ...)
//   - type: only tasks of this type (upload, download, ...)
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks := h.queue.List(task.Filter{
		DriveID: q.Get("drive_id"),
		Status:  task.Status(q.Get("status")),
		Type:    task.Type(q.Get("type")),
	})
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(t))
	}
	WriteJSONOK(w, out)
}

// Get handles GET /v1/tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.queue.Get(chi.URLParam(r, "id"))
	if err != nil {
		NotFound(w, "Task not found")
		return
	}
	WriteJSONOK(w, taskResponse(t))
}

// Cancel handles POST /v1/tasks/{id}/cancel.
//
// Pending tasks are removed from the queue; running tasks get their context
// cancelled and finish asynchronously. Terminal tasks cannot be cancelled.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	err := h.queue.Cancel(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		NotFound(w, "Task not found or already finished")
	case err != nil:
		InternalServerError(w, err.Error())
	default:
		WriteNoContent(w)
	}
}
