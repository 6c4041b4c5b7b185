package config

import (
	"testing"
	"time"

	"github.com/driftsync/driftsync/internal/bytesize"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level INFO, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format text, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output stdout, got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_NormalizesLogLevel(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected log level normalized to DEBUG, got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_Queue(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Queue.Workers != 4 {
		t.Errorf("Expected default worker count 4, got %d", cfg.Queue.Workers)
	}
	if cfg.Queue.CompletedBuffer != 100 {
		t.Errorf("Expected default completed buffer 100, got %d", cfg.Queue.CompletedBuffer)
	}
	if cfg.Queue.StopGrace != 10*time.Second {
		t.Errorf("Expected default stop grace 10s, got %v", cfg.Queue.StopGrace)
	}
	if cfg.Queue.Resume == nil || !*cfg.Queue.Resume {
		t.Error("Expected task resume enabled by default")
	}
}

func TestApplyDefaults_PreservesExplicitWorkers(t *testing.T) {
	cfg := &Config{Queue: QueueConfig{Workers: 16}}
	ApplyDefaults(cfg)

	if cfg.Queue.Workers != 16 {
		t.Errorf("Expected explicit worker count preserved, got %d", cfg.Queue.Workers)
	}
}

func TestApplyDefaults_Transfer(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Transfer.ChunkSize != bytesize.ByteSize(4*bytesize.MiB) {
		t.Errorf("Expected default chunk size 4Mi, got %v", cfg.Transfer.ChunkSize)
	}
	if cfg.Transfer.MaxRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", cfg.Transfer.MaxRetries)
	}
	if cfg.Transfer.RetryBackoff != time.Second {
		t.Errorf("Expected default retry backoff 1s, got %v", cfg.Transfer.RetryBackoff)
	}
	if cfg.Transfer.Encryption.Enabled {
		t.Error("Expected encryption disabled by default")
	}
}

func TestApplyDefaults_Bridge(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Bridge.CallbackDeadline != 30*time.Second {
		t.Errorf("Expected default callback deadline 30s, got %v", cfg.Bridge.CallbackDeadline)
	}
}

func TestApplyDefaults_API(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.API.Enabled == nil || !*cfg.API.Enabled {
		t.Error("Expected control API enabled by default")
	}
	if cfg.API.Port != 8640 {
		t.Errorf("Expected default API port 8640, got %d", cfg.API.Port)
	}
}

func TestApplyDefaults_MetricsPortOnlyWhenEnabled(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Metrics.Port != 0 {
		t.Errorf("Expected no metrics port when disabled, got %d", cfg.Metrics.Port)
	}

	cfg = &Config{Metrics: MetricsConfig{Enabled: true}}
	ApplyDefaults(cfg)
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}

func TestApplyDefaults_Drive(t *testing.T) {
	cfg := &Config{
		Drives: []DriveConfig{
			{LocalPath: "/data/cloud", Backend: BackendConfig{Type: BackendTypeMemory}},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Drives[0].ConflictPolicy != "manual" {
		t.Errorf("Expected default conflict policy manual, got %q", cfg.Drives[0].ConflictPolicy)
	}
	if cfg.Drives[0].Name != "/data/cloud" {
		t.Errorf("Expected drive name defaulted to local path, got %q", cfg.Drives[0].Name)
	}
}

func TestGetDefaultConfig_PassesValidation(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected default config to validate, got: %v", err)
	}
}
