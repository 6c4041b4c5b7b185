package config

// DriveConfig describes one cloud drive to register at startup.
//
// A drive pairs a local mount directory with a remote backend. The drive id
// must be unique; when empty, one is generated at registration time.
type DriveConfig struct {
	// ID is the stable drive identifier
	ID string `mapstructure:"id" yaml:"id,omitempty"`

	// Name is a human-readable label for the drive
	Name string `mapstructure:"name" yaml:"name"`

	// LocalPath is the local directory the drive is mounted at.
	// Two drives may not share a local path.
	LocalPath string `mapstructure:"local_path" validate:"required" yaml:"local_path"`

	// Backend describes the remote storage this drive syncs against
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`

	// ConflictPolicy selects how concurrent local and remote edits are
	// handled. Valid values: manual, keep-local, keep-remote, keep-both.
	// Default: manual
	ConflictPolicy string `mapstructure:"conflict_policy" validate:"omitempty,oneof=manual keep-local keep-remote keep-both" yaml:"conflict_policy,omitempty"`

	// Ignore lists glob patterns for paths excluded from sync
	Ignore []string `mapstructure:"ignore" yaml:"ignore,omitempty"`

	// Disabled drives are registered but do not schedule transfers
	Disabled bool `mapstructure:"disabled" yaml:"disabled,omitempty"`
}

// BackendType identifies a remote storage provider.
type BackendType string

const (
	// BackendTypeMemory keeps remote objects in process memory (testing).
	BackendTypeMemory BackendType = "memory"

	// BackendTypeFilesystem uses a local directory as the remote.
	BackendTypeFilesystem BackendType = "filesystem"

	// BackendTypeS3 uses an S3-compatible object store.
	BackendTypeS3 BackendType = "s3"
)

// BackendConfig describes the remote storage backend of a drive.
type BackendConfig struct {
	// Type selects the provider
	// Valid values: memory, filesystem, s3
	Type BackendType `mapstructure:"type" validate:"required,oneof=memory filesystem s3" yaml:"type"`

	// Filesystem contains filesystem backend settings (Type == "filesystem")
	Filesystem FilesystemBackendConfig `mapstructure:"filesystem" yaml:"filesystem,omitempty"`

	// S3 contains S3 backend settings (Type == "s3")
	S3 S3BackendConfig `mapstructure:"s3" yaml:"s3,omitempty"`
}

// FilesystemBackendConfig contains filesystem backend settings.
type FilesystemBackendConfig struct {
	// Root is the directory holding remote objects and staged sessions
	Root string `mapstructure:"root" yaml:"root"`
}

// S3BackendConfig contains S3-compatible backend settings.
// Credentials fall back to the standard AWS environment and shared config.
type S3BackendConfig struct {
	// Bucket is the S3 bucket name
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the S3 endpoint (for MinIO and other
	// S3-compatible stores)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// Prefix is prepended to every object key
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`

	// AccessKeyID and SecretAccessKey are static credentials.
	// Leave empty to use the default AWS credential chain.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// UsePathStyle forces path-style addressing (required by MinIO)
	UsePathStyle bool `mapstructure:"use_path_style" yaml:"use_path_style,omitempty"`
}
