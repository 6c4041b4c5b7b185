// Package task implements the priority task queue and worker pool that
// execute transfer and sync operations for mounted drives.
//
// Tasks are ordered by priority, with strict FIFO order among tasks of equal
// priority. Idle workers claim the highest-priority pending task. Running
// tasks are cancelled cooperatively: the executing worker observes the
// cancellation signal at each chunk boundary and stops promptly.
package task

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by the queue.
var (
	// ErrTaskNotFound is returned when the referenced task does not exist
	// in the queue or the completed buffer.
	ErrTaskNotFound = errors.New("task not found")

	// ErrQueueClosed is returned when submitting to a stopped queue.
	ErrQueueClosed = errors.New("task queue is closed")

	// ErrUnknownType is returned when no executor is registered for the
	// submitted task type.
	ErrUnknownType = errors.New("no executor for task type")
)

// Type identifies the kind of work a task performs.
type Type string

const (
	TypeUpload   Type = "upload"
	TypeDownload Type = "download"
	TypeSync     Type = "sync"
	TypeDelete   Type = "delete"
	TypeCopy     Type = "copy"
	TypeMove     Type = "move"
	TypeCustom   Type = "custom"
)

// Priority orders tasks in the queue. Higher values are claimed first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// ParsePriority converts a priority name to a Priority.
// Unknown names map to PriorityNormal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// Status is the lifecycle state of a task. Transitions are one-directional:
// pending -> running -> {completed, failed, cancelled}, or
// pending -> cancelled. A task never re-enters pending from a terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is a unit of schedulable work. Fields are mutated only by the queue
// (on behalf of the assigned worker or a cancellation request); callers
// always receive copies.
type Task struct {
	ID       string
	DriveID  string
	Type     Type
	Priority Priority

	// LocalPath is the primary target of the operation. TargetPath is the
	// destination for copy/move tasks, empty otherwise.
	LocalPath  string
	TargetPath string

	Status Status

	// Progress is a fraction in [0,1], monotonically non-decreasing while
	// the task is running.
	Progress       float64
	TotalBytes     int64
	ProcessedBytes int64

	// Metadata carries free-form task parameters (remote ids, session
	// tokens, conflict decisions).
	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Err holds the terminal error message for failed tasks.
	Err string
}

// New creates a pending task with a generated id.
func New(driveID string, typ Type, priority Priority, localPath string) *Task {
	now := time.Now()
	return &Task{
		ID:        uuid.NewString(),
		DriveID:   driveID,
		Type:      typ,
		Priority:  priority,
		LocalPath: localPath,
		Status:    StatusPending,
		Metadata:  make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() Task {
	out := *t
	if t.Metadata != nil {
		out.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Error returns the terminal error of the task, or nil.
func (t *Task) Error() error {
	if t.Err == "" {
		return nil
	}
	return errors.New(t.Err)
}
