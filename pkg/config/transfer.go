package config

import (
	"time"

	"github.com/driftsync/driftsync/internal/bytesize"
)

// TransferConfig contains chunked transfer configuration shared by all
// drives. Uploads and downloads move data in fixed-size chunks so sessions
// can resume after interruption without re-sending acknowledged chunks.
type TransferConfig struct {
	// ChunkSize is the transfer chunk size.
	// Supports human-readable formats: "4Mi", "8MB", "16Mi"
	// Default: 4Mi
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size,omitempty"`

	// MaxRetries is how many times a failed chunk is retried before the
	// whole transfer fails.
	// Default: 3
	MaxRetries int `mapstructure:"max_retries" validate:"omitempty,min=0,max=20" yaml:"max_retries"`

	// RetryBackoff is the base delay between chunk retries. The delay
	// doubles on every attempt.
	// Default: 1s
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`

	// Encryption contains client-side encryption settings
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`
}

// EncryptionConfig controls client-side encryption.
// When enabled, content is encrypted with age before leaving the machine;
// the backend only ever sees ciphertext.
type EncryptionConfig struct {
	// Enabled controls whether chunks are encrypted before upload
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Recipient is the age public key chunks are encrypted to.
	// Example: age1ql3z7hjy54pw3hyww5ayyfg7zqgvc7w3j2elw8zmrj2kg5sfn9aqmcac8p
	Recipient string `mapstructure:"recipient" yaml:"recipient,omitempty"`

	// IdentityFile is the path to the age identity used for decryption
	IdentityFile string `mapstructure:"identity_file" yaml:"identity_file,omitempty"`
}
