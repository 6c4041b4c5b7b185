package metadata

import (
	"context"
	"errors"
	"time"
)

// Store errors returned in place of raw database errors.
var (
	// ErrDriveNotFound indicates the drive record does not exist.
	ErrDriveNotFound = errors.New("drive record not found")

	// ErrFileNotFound indicates no record exists for the path.
	ErrFileNotFound = errors.New("file record not found")

	// ErrTaskNotFound indicates the task record does not exist.
	ErrTaskNotFound = errors.New("task record not found")

	// ErrDuplicateLocalPath indicates another drive already owns the path.
	ErrDuplicateLocalPath = errors.New("local path already registered")

	// ErrStoreUnavailable indicates the database cannot be reached: the
	// connection was refused, reset, or already closed. Callers can branch
	// on it to distinguish connectivity loss from data errors.
	ErrStoreUnavailable = errors.New("metadata store unavailable")
)

// Store persists drives, per-file sync state, and task records.
//
// Implementations must be safe for concurrent use. The GORM implementation
// backs production deployments (SQLite or PostgreSQL); the memory
// implementation backs tests.
type Store interface {
	// Drive registrations

	SaveDrive(ctx context.Context, rec *DriveRecord) error
	GetDrive(ctx context.Context, id string) (*DriveRecord, error)
	ListDrives(ctx context.Context) ([]*DriveRecord, error)
	DeleteDrive(ctx context.Context, id string) error

	// Per-file sync state

	UpsertFile(ctx context.Context, rec *FileRecord) error
	GetFile(ctx context.Context, driveID, localPath string) (*FileRecord, error)
	ListFiles(ctx context.Context, driveID string) ([]*FileRecord, error)
	ListFilesUpdatedSince(ctx context.Context, driveID string, since time.Time) ([]*FileRecord, error)
	SetFileState(ctx context.Context, driveID, localPath, state string) error
	DeleteFile(ctx context.Context, driveID, localPath string) error
	DeleteFilesByDrive(ctx context.Context, driveID string) error

	// Task persistence

	SaveTask(ctx context.Context, rec *TaskRecord) error
	GetTask(ctx context.Context, id string) (*TaskRecord, error)
	ListUnfinishedTasks(ctx context.Context) ([]*TaskRecord, error)
	DeleteTasksByDrive(ctx context.Context, driveID string) error
	PruneTerminalTasks(ctx context.Context) (int64, error)

	// Close releases the underlying connection.
	Close() error
}
