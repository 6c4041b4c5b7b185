package metrics

import (
	"time"
)

// SyncMetrics provides observability for task execution and transfers.
//
// Implementations collect per-task outcomes, transfer throughput, and
// conflict counts. This interface is optional - pass nil to disable
// metrics collection with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	mgr.SetMetrics(prometheus.NewSyncMetrics())
//
//	// Without metrics
//	mgr.SetMetrics(nil)
type SyncMetrics interface {
	// RecordTask records a finished task with its type, terminal status,
	// and wall-clock duration from submission to completion.
	//
	// Parameters:
	//   - taskType: task type (e.g., "upload", "download", "move")
	//   - status: terminal status ("completed", "failed", "cancelled")
	//   - duration: time from submission to completion
	RecordTask(taskType string, status string, duration time.Duration)

	// RecordBytes records bytes moved over a backend.
	//
	// Parameters:
	//   - backend: backend type ("s3", "filesystem", "memory")
	//   - direction: "upload" or "download"
	//   - bytes: number of bytes transferred
	RecordBytes(backend string, direction string, bytes int64)

	// RecordConflict increments the conflict counter for a drive.
	RecordConflict(driveID string)

	// RecordRetry increments the chunk retry counter for a backend.
	RecordRetry(backend string)

	// SetDriveHealth publishes a drive's current health as a numeric
	// severity (0 active .. 4 credential_expired).
	SetDriveHealth(driveID string, severity int)
}

// RecordTask records a finished task if metrics are enabled.
func RecordTask(m SyncMetrics, taskType string, status string, duration time.Duration) {
	if m != nil {
		m.RecordTask(taskType, status, duration)
	}
}

// RecordBytes records transferred bytes if metrics are enabled.
func RecordBytes(m SyncMetrics, backend string, direction string, bytes int64) {
	if m != nil {
		m.RecordBytes(backend, direction, bytes)
	}
}

// RecordConflict increments the conflict counter if metrics are enabled.
func RecordConflict(m SyncMetrics, driveID string) {
	if m != nil {
		m.RecordConflict(driveID)
	}
}

// RecordRetry increments the retry counter if metrics are enabled.
func RecordRetry(m SyncMetrics, backend string) {
	if m != nil {
		m.RecordRetry(backend)
	}
}

// SetDriveHealth publishes drive health if metrics are enabled.
func SetDriveHealth(m SyncMetrics, driveID string, severity int) {
	if m != nil {
		m.SetDriveHealth(driveID, severity)
	}
}
