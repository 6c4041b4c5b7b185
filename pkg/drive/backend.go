package drive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/driftsync/driftsync/pkg/config"
	"github.com/driftsync/driftsync/pkg/transfer"
	"github.com/driftsync/driftsync/pkg/transfer/filesystem"
	"github.com/driftsync/driftsync/pkg/transfer/memory"
	"github.com/driftsync/driftsync/pkg/transfer/s3"
)

// newBackend constructs the transfer backend a drive syncs against. S3
// construction verifies bucket access, so credential problems surface at
// registration time instead of on the first transfer.
func newBackend(ctx context.Context, cfg config.BackendConfig) (transfer.Backend, error) {
	switch cfg.Type {
	case config.BackendTypeMemory:
		return memory.New(), nil
	case config.BackendTypeFilesystem:
		return filesystem.New(cfg.Filesystem.Root)
	case config.BackendTypeS3:
		backend, err := s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			if isCredentialError(err) {
				return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
			}
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Type)
	}
}

// encodeBackendSpec serializes a backend configuration into the opaque
// spec document persisted on the drive record.
func encodeBackendSpec(cfg config.BackendConfig) (string, error) {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encoding backend spec: %w", err)
	}
	return string(doc), nil
}

// decodeBackendSpec restores a persisted backend configuration.
func decodeBackendSpec(spec string) (config.BackendConfig, error) {
	var cfg config.BackendConfig
	if err := json.Unmarshal([]byte(spec), &cfg); err != nil {
		return cfg, fmt.Errorf("decoding backend spec: %w", err)
	}
	return cfg, nil
}
