package metadata

import "time"

// DriveRecord persists a registered drive so it survives restarts.
type DriveRecord struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	LocalPath string `gorm:"uniqueIndex"`

	// BackendType and BackendSpec describe the remote backend. BackendSpec
	// is an opaque JSON document interpreted by the backend factory.
	BackendType string
	BackendSpec string `gorm:"type:text"`

	ConflictPolicy string
	IgnoreRules    string `gorm:"type:text"` // JSON array of glob patterns
	Enabled        bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FileRecord is the persisted state of one synced path. There is exactly one
// record per (drive, local path) pair; the placeholder state machine writes
// its current state here so hydration survives restarts.
type FileRecord struct {
	ID        uint   `gorm:"primaryKey"`
	DriveID   string `gorm:"uniqueIndex:idx_drive_path;index"`
	LocalPath string `gorm:"uniqueIndex:idx_drive_path"`

	RemotePath string
	State      string `gorm:"index"`
	IsFolder   bool
	Size       int64

	// Mode holds the local permission bits.
	Mode uint32

	ETag    string
	Version int64

	// Shared marks paths visible to other accounts on the remote.
	Shared bool

	// Props carries provider-specific attributes as JSON
	Props string `gorm:"type:text"`

	// Metadata carries free-form key/value pairs as JSON
	Metadata string `gorm:"type:text"`

	SyncedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskRecord persists queue tasks so interrupted transfers can be resumed
// after a restart. Terminal records are pruned periodically.
type TaskRecord struct {
	ID       string `gorm:"primaryKey"`
	DriveID  string `gorm:"index"`
	Type     string
	Priority int

	LocalPath  string
	TargetPath string
	Status     string `gorm:"index"`

	Progress       float64
	TotalBytes     int64
	ProcessedBytes int64

	// SessionToken is the opaque resume token of the associated transfer
	// session, if one was started.
	SessionToken string `gorm:"type:text"`

	// Metadata carries task key/value pairs as JSON
	Metadata string `gorm:"type:text"`

	Error string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// allModels returns every model for schema migration.
func allModels() []any {
	return []any{
		&DriveRecord{},
		&FileRecord{},
		&TaskRecord{},
	}
}
