package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidAPIPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for out-of-range API port")
	}
}

func TestValidate_DuplicateDrivePath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Drives = []DriveConfig{
		{Name: "a", LocalPath: "/data/drive", Backend: BackendConfig{Type: BackendTypeMemory}},
		{Name: "b", LocalPath: "/data/drive", Backend: BackendConfig{Type: BackendTypeMemory}},
	}
	ApplyDefaults(cfg)

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for duplicate drive local path")
	}
	if !strings.Contains(err.Error(), "already used") {
		t.Errorf("Expected duplicate-path error, got: %v", err)
	}
}

func TestValidate_DuplicateDriveID(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Drives = []DriveConfig{
		{ID: "d1", Name: "a", LocalPath: "/data/a", Backend: BackendConfig{Type: BackendTypeMemory}},
		{ID: "d1", Name: "b", LocalPath: "/data/b", Backend: BackendConfig{Type: BackendTypeMemory}},
	}
	ApplyDefaults(cfg)

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for duplicate drive id")
	}
}

func TestValidate_S3BackendRequiresBucket(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Drives = []DriveConfig{
		{Name: "cloud", LocalPath: "/data/cloud", Backend: BackendConfig{Type: BackendTypeS3}},
	}
	ApplyDefaults(cfg)

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing s3 bucket")
	}
	if !strings.Contains(err.Error(), "bucket") {
		t.Errorf("Expected bucket error, got: %v", err)
	}
}

func TestValidate_FilesystemBackendRequiresRoot(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Drives = []DriveConfig{
		{Name: "local", LocalPath: "/data/local", Backend: BackendConfig{Type: BackendTypeFilesystem}},
	}
	ApplyDefaults(cfg)

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing filesystem root")
	}
}

func TestValidate_InvalidConflictPolicy(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Drives = []DriveConfig{
		{Name: "x", LocalPath: "/data/x", ConflictPolicy: "newest-wins", Backend: BackendConfig{Type: BackendTypeMemory}},
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for unknown conflict policy")
	}
}

func TestValidate_EncryptionNeedsRecipient(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Transfer.Encryption.Enabled = true

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for encryption without recipient")
	}
	if !strings.Contains(err.Error(), "recipient") {
		t.Errorf("Expected recipient error, got: %v", err)
	}
}
