package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/driftsync/driftsync/internal/bytesize"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for missing config file, got error: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level, got %q", cfg.Logging.Level)
	}
	if cfg.Queue.Workers != 4 {
		t.Errorf("Expected default workers, got %d", cfg.Queue.Workers)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeTempConfig(t, `
logging:
  level: debug
  format: json
  output: stderr
shutdown_timeout: 45s
queue:
  workers: 8
  completed_buffer: 50
transfer:
  chunk_size: 8Mi
  max_retries: 5
  retry_backoff: 2s
bridge:
  callback_deadline: 10s
drives:
  - name: photos
    local_path: /data/photos
    backend:
      type: s3
      s3:
        bucket: my-photos
        region: eu-west-1
    conflict_policy: keep-both
    ignore:
      - "*.tmp"
      - ".DS_Store"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected log level DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected log format json, got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 45*time.Second {
		t.Errorf("Expected shutdown timeout 45s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Queue.Workers != 8 {
		t.Errorf("Expected 8 workers, got %d", cfg.Queue.Workers)
	}
	if cfg.Queue.CompletedBuffer != 50 {
		t.Errorf("Expected completed buffer 50, got %d", cfg.Queue.CompletedBuffer)
	}
	if cfg.Transfer.ChunkSize != bytesize.ByteSize(8*bytesize.MiB) {
		t.Errorf("Expected chunk size 8Mi, got %v", cfg.Transfer.ChunkSize)
	}
	if cfg.Transfer.MaxRetries != 5 {
		t.Errorf("Expected max retries 5, got %d", cfg.Transfer.MaxRetries)
	}
	if cfg.Bridge.CallbackDeadline != 10*time.Second {
		t.Errorf("Expected callback deadline 10s, got %v", cfg.Bridge.CallbackDeadline)
	}

	if len(cfg.Drives) != 1 {
		t.Fatalf("Expected 1 drive, got %d", len(cfg.Drives))
	}
	d := cfg.Drives[0]
	if d.Name != "photos" || d.LocalPath != "/data/photos" {
		t.Errorf("Unexpected drive identity: %+v", d)
	}
	if d.Backend.Type != BackendTypeS3 || d.Backend.S3.Bucket != "my-photos" {
		t.Errorf("Unexpected drive backend: %+v", d.Backend)
	}
	if d.ConflictPolicy != "keep-both" {
		t.Errorf("Expected conflict policy keep-both, got %q", d.ConflictPolicy)
	}
	if len(d.Ignore) != 2 {
		t.Errorf("Expected 2 ignore patterns, got %d", len(d.Ignore))
	}
}

func TestLoad_PartialConfigGetsDefaults(t *testing.T) {
	path := writeTempConfig(t, `
logging:
  level: warn
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected log level WARN, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format, got %q", cfg.Logging.Format)
	}
	if cfg.Transfer.ChunkSize != bytesize.ByteSize(4*bytesize.MiB) {
		t.Errorf("Expected default chunk size, got %v", cfg.Transfer.ChunkSize)
	}
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	path := writeTempConfig(t, `
logging:
  level: loud
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected error for invalid log level")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeTempConfig(t, "logging: [not: valid")

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected error for malformed YAML")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Queue.Workers = 12
	cfg.Drives = []DriveConfig{
		{Name: "docs", LocalPath: "/data/docs", Backend: BackendConfig{Type: BackendTypeFilesystem, Filesystem: FilesystemBackendConfig{Root: "/srv/remote"}}},
	}
	ApplyDefaults(cfg)

	path := filepath.Join(t.TempDir(), "saved", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Saved config missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Queue.Workers != 12 {
		t.Errorf("Expected workers 12 after round trip, got %d", loaded.Queue.Workers)
	}
	if len(loaded.Drives) != 1 || loaded.Drives[0].Backend.Filesystem.Root != "/srv/remote" {
		t.Errorf("Drive did not survive round trip: %+v", loaded.Drives)
	}
}
