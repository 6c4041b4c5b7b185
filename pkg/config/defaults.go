package config

import (
	"strings"
	"time"

	"github.com/driftsync/driftsync/internal/bytesize"
	"github.com/driftsync/driftsync/pkg/metadata"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and
// environment variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	applyDatabaseDefaults(&cfg.Database)
	applyQueueDefaults(&cfg.Queue)
	applyTransferDefaults(&cfg.Transfer)
	applyBridgeDefaults(&cfg.Bridge)
	applyWatcherDefaults(&cfg.Watcher)
	applyAPIDefaults(&cfg.API)
	applyMetricsDefaults(&cfg.Metrics)
	for i := range cfg.Drives {
		applyDriveDefaults(&cfg.Drives[i])
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyDatabaseDefaults sets metadata database defaults.
func applyDatabaseDefaults(cfg *metadata.DBConfig) {
	cfg.ApplyDefaults()
}

// applyQueueDefaults sets task queue defaults.
func applyQueueDefaults(cfg *QueueConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.CompletedBuffer == 0 {
		cfg.CompletedBuffer = 100
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = 10 * time.Second
	}
	if cfg.Resume == nil {
		resume := true
		cfg.Resume = &resume
	}
}

// applyTransferDefaults sets chunked transfer defaults.
func applyTransferDefaults(cfg *TransferConfig) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = bytesize.ByteSize(4 * bytesize.MiB)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Second
	}
}

// applyBridgeDefaults sets callback bridge defaults.
func applyBridgeDefaults(cfg *BridgeConfig) {
	if cfg.CallbackDeadline == 0 {
		cfg.CallbackDeadline = 30 * time.Second
	}
}

// applyWatcherDefaults sets filesystem watcher defaults.
func applyWatcherDefaults(cfg *WatcherConfig) {
	if cfg.Enabled == nil {
		enabled := true
		cfg.Enabled = &enabled
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
}

// applyAPIDefaults sets control API server defaults.
func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Enabled == nil {
		enabled := true
		cfg.Enabled = &enabled
	}
	if cfg.Port == 0 {
		cfg.Port = 8640
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyDriveDefaults sets per-drive defaults.
func applyDriveDefaults(cfg *DriveConfig) {
	if cfg.ConflictPolicy == "" {
		cfg.ConflictPolicy = "manual"
	}
	if cfg.Name == "" {
		cfg.Name = cfg.LocalPath
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Database: metadata.DBConfig{
			Type: metadata.DatabaseTypeSQLite, // Default to SQLite for single-node
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
