package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for invalid values.
//
// Struct tags handle field-level constraints (required, oneof, ranges);
// cross-field rules that tags cannot express are checked explicitly:
//   - drive local paths must be unique
//   - backend settings must match the selected backend type
//   - encryption needs a recipient when enabled
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if cfg.Transfer.Encryption.Enabled && cfg.Transfer.Encryption.Recipient == "" {
		return fmt.Errorf("transfer.encryption: recipient is required when encryption is enabled")
	}

	seen := make(map[string]string, len(cfg.Drives))
	ids := make(map[string]string, len(cfg.Drives))
	for i, d := range cfg.Drives {
		label := d.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}

		if other, ok := seen[d.LocalPath]; ok {
			return fmt.Errorf("drive %s: local path %q already used by drive %s", label, d.LocalPath, other)
		}
		seen[d.LocalPath] = label

		if d.ID != "" {
			if other, ok := ids[d.ID]; ok {
				return fmt.Errorf("drive %s: id %q already used by drive %s", label, d.ID, other)
			}
			ids[d.ID] = label
		}

		if err := validateBackend(&d.Backend); err != nil {
			return fmt.Errorf("drive %s: %w", label, err)
		}
	}

	return nil
}

// validateBackend checks that the settings for the selected backend type
// are present.
func validateBackend(cfg *BackendConfig) error {
	switch cfg.Type {
	case BackendTypeMemory:
		return nil
	case BackendTypeFilesystem:
		if cfg.Filesystem.Root == "" {
			return fmt.Errorf("backend: filesystem root is required")
		}
	case BackendTypeS3:
		if cfg.S3.Bucket == "" {
			return fmt.Errorf("backend: s3 bucket is required")
		}
		if cfg.S3.Region == "" && cfg.S3.Endpoint == "" {
			return fmt.Errorf("backend: s3 region or endpoint is required")
		}
	default:
		return fmt.Errorf("backend: unsupported type %q", cfg.Type)
	}
	return nil
}
