package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently across
// all log statements so logs can be aggregated and queried per drive, task,
// and transfer session.
const (
	// Drive & mount
	KeyDriveID = "drive_id" // Drive identifier
	KeyMount   = "mount"    // Local root of the mounted drive
	KeyRemote  = "remote"   // Remote endpoint
	KeyHealth  = "health"   // Drive health status

	// Tasks & scheduling
	KeyTaskID   = "task_id"   // Task identifier
	KeyTaskType = "task_type" // upload, download, sync, delete, copy, move
	KeyPriority = "priority"  // low, normal, high, critical
	KeyStatus   = "status"    // pending, running, completed, failed, cancelled
	KeyWorkerID = "worker_id" // Worker that claimed the task
	KeyPending  = "pending"   // Pending task count

	// File system
	KeyPath    = "path"     // Drive-relative local path
	KeyOldPath = "old_path" // Source path for rename/move
	KeyNewPath = "new_path" // Destination path for rename/move
	KeySize    = "size"     // File size in bytes
	KeyETag    = "etag"     // Remote entity tag
	KeyState   = "state"    // Placeholder state

	// Transfer
	KeySessionID  = "session_id"  // Transfer session identifier
	KeyChunk      = "chunk"       // Chunk index
	KeyChunks     = "chunks"      // Total chunk count
	KeyBytes      = "bytes"       // Bytes moved
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
	KeyBackend    = "backend"     // Backend type: memory, filesystem, s3
	KeyBucket     = "bucket"      // S3 bucket name
	KeyKey        = "key"         // Object key in remote storage

	// Operation metadata
	KeyOperation  = "operation"   // Operation name
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyDeadline   = "deadline"    // Callback deadline
)

// Field constructors for type safety.

// DriveID returns a slog.Attr for a drive identifier.
func DriveID(id string) slog.Attr {
	return slog.String(KeyDriveID, id)
}

// TaskID returns a slog.Attr for a task identifier.
func TaskID(id string) slog.Attr {
	return slog.String(KeyTaskID, id)
}

// Path returns a slog.Attr for a local path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// ETag returns a slog.Attr for a remote entity tag.
func ETag(tag string) slog.Attr {
	return slog.String(KeyETag, tag)
}

// SessionID returns a slog.Attr for a transfer session identifier.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// Chunk returns a slog.Attr for a chunk index.
func Chunk(idx int) slog.Attr {
	return slog.Int(KeyChunk, idx)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Size returns a slog.Attr for a byte size.
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// Err returns a slog.Attr for an error, or the zero Attr for nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Operation returns a slog.Attr for an operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
