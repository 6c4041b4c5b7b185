package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GORMStore implements the Store interface using GORM.
// It supports both SQLite and PostgreSQL backends via the same codebase.
type GORMStore struct {
	db     *gorm.DB
	config *DBConfig
}

// NewStore creates a metadata store based on the configuration.
// It automatically creates the database schema via GORM AutoMigrate.
func NewStore(config *DBConfig) (*GORMStore, error) {
	db, err := openDB(config)
	if err != nil {
		return nil, err
	}

	return &GORMStore{db: db, config: config}, nil
}

// DB returns the underlying GORM database connection.
// This is useful for advanced queries or testing.
func (s *GORMStore) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveDrive inserts or updates a drive registration.
func (s *GORMStore) SaveDrive(ctx context.Context, rec *DriveRecord) error {
	rec.UpdatedAt = time.Now()
	err := s.db.WithContext(ctx).Save(rec).Error
	if isUniqueConstraintError(err) {
		return ErrDuplicateLocalPath
	}
	if err != nil {
		return fmt.Errorf("failed to save drive: %w", convertDBError(err))
	}
	return nil
}

// GetDrive returns the drive registration with the given id.
func (s *GORMStore) GetDrive(ctx context.Context, id string) (*DriveRecord, error) {
	var rec DriveRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrDriveNotFound)
	}
	return &rec, nil
}

// ListDrives returns all drive registrations ordered by creation time.
func (s *GORMStore) ListDrives(ctx context.Context) ([]*DriveRecord, error) {
	var recs []*DriveRecord
	if err := s.db.WithContext(ctx).Order("created_at").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list drives: %w", convertDBError(err))
	}
	return recs, nil
}

// DeleteDrive removes a drive registration. Deleting an unknown drive is not
// an error.
func (s *GORMStore) DeleteDrive(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&DriveRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete drive: %w", convertDBError(err))
	}
	return nil
}

// UpsertFile inserts or updates the record for (drive, local path).
func (s *GORMStore) UpsertFile(ctx context.Context, rec *FileRecord) error {
	rec.UpdatedAt = time.Now()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "drive_id"}, {Name: "local_path"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"remote_path", "state", "is_folder", "size", "mode", "e_tag",
			"version", "shared", "props", "metadata", "synced_at", "updated_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to upsert file record: %w", convertDBError(err))
	}
	return nil
}

// GetFile returns the record for (drive, local path).
func (s *GORMStore) GetFile(ctx context.Context, driveID, localPath string) (*FileRecord, error) {
	var rec FileRecord
	err := s.db.WithContext(ctx).
		First(&rec, "drive_id = ? AND local_path = ?", driveID, localPath).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrFileNotFound)
	}
	return &rec, nil
}

// ListFiles returns every record of a drive ordered by local path.
func (s *GORMStore) ListFiles(ctx context.Context, driveID string) ([]*FileRecord, error) {
	var recs []*FileRecord
	err := s.db.WithContext(ctx).
		Where("drive_id = ?", driveID).
		Order("local_path").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", convertDBError(err))
	}
	return recs, nil
}

// ListFilesUpdatedSince returns a drive's records touched at or after the
// given instant, oldest change first. Used for incremental change scans.
func (s *GORMStore) ListFilesUpdatedSince(ctx context.Context, driveID string, since time.Time) ([]*FileRecord, error) {
	var recs []*FileRecord
	err := s.db.WithContext(ctx).
		Where("drive_id = ? AND updated_at >= ?", driveID, since).
		Order("updated_at").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list updated file records: %w", convertDBError(err))
	}
	return recs, nil
}

// SetFileState updates only the sync state of a record.
func (s *GORMStore) SetFileState(ctx context.Context, driveID, localPath, state string) error {
	res := s.db.WithContext(ctx).
		Model(&FileRecord{}).
		Where("drive_id = ? AND local_path = ?", driveID, localPath).
		Updates(map[string]any{"state": state, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to update file state: %w", convertDBError(res.Error))
	}
	if res.RowsAffected == 0 {
		return ErrFileNotFound
	}
	return nil
}

// DeleteFile removes the record for (drive, local path).
func (s *GORMStore) DeleteFile(ctx context.Context, driveID, localPath string) error {
	err := s.db.WithContext(ctx).
		Delete(&FileRecord{}, "drive_id = ? AND local_path = ?", driveID, localPath).Error
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", convertDBError(err))
	}
	return nil
}

// DeleteFilesByDrive removes every record of a drive.
func (s *GORMStore) DeleteFilesByDrive(ctx context.Context, driveID string) error {
	err := s.db.WithContext(ctx).Delete(&FileRecord{}, "drive_id = ?", driveID).Error
	if err != nil {
		return fmt.Errorf("failed to delete file records: %w", convertDBError(err))
	}
	return nil
}

// SaveTask inserts or updates a task record.
func (s *GORMStore) SaveTask(ctx context.Context, rec *TaskRecord) error {
	rec.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("failed to save task record: %w", convertDBError(err))
	}
	return nil
}

// GetTask returns the task record with the given id.
func (s *GORMStore) GetTask(ctx context.Context, id string) (*TaskRecord, error) {
	var rec TaskRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrTaskNotFound)
	}
	return &rec, nil
}

// ListUnfinishedTasks returns tasks that never reached a terminal state,
// oldest first. Used to resume interrupted work at startup.
func (s *GORMStore) ListUnfinishedTasks(ctx context.Context) ([]*TaskRecord, error) {
	var recs []*TaskRecord
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{"pending", "running"}).
		Order("created_at").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished tasks: %w", convertDBError(err))
	}
	return recs, nil
}

// DeleteTasksByDrive removes every task record of a drive.
func (s *GORMStore) DeleteTasksByDrive(ctx context.Context, driveID string) error {
	err := s.db.WithContext(ctx).Delete(&TaskRecord{}, "drive_id = ?", driveID).Error
	if err != nil {
		return fmt.Errorf("failed to delete task records: %w", convertDBError(err))
	}
	return nil
}

// PruneTerminalTasks removes task records that already finished.
func (s *GORMStore) PruneTerminalTasks(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Delete(&TaskRecord{}, "status IN ?", []string{"completed", "failed", "cancelled"})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune task records: %w", convertDBError(res.Error))
	}
	return res.RowsAffected, nil
}

// convertDBError maps raw connectivity failures onto ErrStoreUnavailable so
// callers can branch on them; other errors pass through unchanged.
func convertDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	errStr := err.Error()
	// SQLite or PostgreSQL connectivity errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "database is closed") {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// isUniqueConstraintError checks if the error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite or PostgreSQL unique constraint errors
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "duplicate key value violates unique constraint")
}

// convertNotFoundError converts gorm.ErrRecordNotFound to the appropriate domain error.
func convertNotFoundError(err error, notFoundErr error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundErr
	}
	return convertDBError(err)
}
