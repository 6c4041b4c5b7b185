package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/driftsync/driftsync/internal/logger"
)

// stagingSuffix marks partially downloaded files. Staging files live next
// to their final destination so the last rename stays on one filesystem.
const stagingSuffix = ".driftsync-partial"

// Downloader materializes remote objects into local files.
//
// Content is written to a staging file chunk by chunk; the final path only
// ever sees complete content via an atomic rename. An interrupted download
// leaves the staging file behind and the next attempt continues from the
// last complete chunk.
type Downloader struct {
	backend Backend
	opts    Options
}

// NewDownloader creates a Downloader for the given backend.
func NewDownloader(backend Backend, opts Options) *Downloader {
	opts.applyDefaults()
	return &Downloader{backend: backend, opts: opts}
}

// Download transfers remotePath into localPath.
//
// expectedSHA256, when non-empty, is checked against the downloaded content
// before the rename; a mismatch returns ErrChecksumMismatch and discards
// the staging file. Cancellation is cooperative at chunk boundaries and
// keeps the staging file for resumption.
func (d *Downloader) Download(ctx context.Context, remotePath, localPath, expectedSHA256 string, report ProgressFunc) error {
	info, err := d.backend.Stat(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("stat remote object: %w", err)
	}

	staging := stagingPath(localPath)
	if err := os.MkdirAll(filepath.Dir(staging), 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	f, resumeOffset, err := d.openStaging(staging, info)
	if err != nil {
		return err
	}
	defer f.Close()

	size := info.Size
	chunks := ChunkCount(size, d.opts.ChunkSize)
	processed := resumeOffset
	if report != nil && processed > 0 {
		report(processed, size)
	}

	for i := int(resumeOffset / d.opts.ChunkSize); i < chunks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		offset, length := ChunkBounds(i, size, d.opts.ChunkSize)
		if length == 0 {
			continue
		}

		data, err := d.readChunkWithRetry(ctx, remotePath, offset, length)
		if err != nil {
			return err
		}

		if _, err := f.WriteAt(data, offset); err != nil {
			return fmt.Errorf("writing chunk %d: %w", i, err)
		}

		processed = offset + int64(len(data))
		if report != nil {
			report(processed, size)
		}
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing staging file: %w", err)
	}

	if expectedSHA256 != "" {
		if err := verifySHA256(staging, expectedSHA256); err != nil {
			os.Remove(staging)
			os.Remove(etagPath(staging))
			return err
		}
	}

	if err := d.promote(staging, localPath); err != nil {
		return err
	}
	os.Remove(etagPath(staging))

	logger.Debug("download finished",
		logger.KeyRemote, remotePath,
		logger.KeyPath, localPath,
		logger.KeySize, size,
		logger.KeyChunks, chunks,
		logger.KeyBackend, d.backend.Name())

	return nil
}

// openStaging opens the staging file and decides the resume offset. A
// leftover staging file is only reused when the remote object's etag still
// matches the one recorded when the download started; otherwise the remote
// changed and the partial content is discarded.
func (d *Downloader) openStaging(staging string, info *ObjectInfo) (*os.File, int64, error) {
	var resumeOffset int64

	if st, err := os.Stat(staging); err == nil {
		recorded, _ := os.ReadFile(etagPath(staging))
		if string(recorded) == info.ETag && st.Size() <= info.Size {
			// Resume from the last complete chunk.
			resumeOffset = st.Size() - st.Size()%d.opts.ChunkSize
		}
	}

	f, err := os.OpenFile(staging, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("opening staging file: %w", err)
	}

	if err := f.Truncate(resumeOffset); err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("truncating staging file: %w", err)
	}

	if err := os.WriteFile(etagPath(staging), []byte(info.ETag), 0600); err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("recording staging etag: %w", err)
	}

	if resumeOffset > 0 {
		logger.Debug("resuming download",
			logger.KeyPath, staging,
			logger.KeyBytes, resumeOffset)
	}

	return f, resumeOffset, nil
}

// readChunkWithRetry reads one chunk, retrying transient failures with
// exponential backoff.
func (d *Downloader) readChunkWithRetry(ctx context.Context, remotePath string, offset, length int64) ([]byte, error) {
	backoff := d.opts.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= d.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if d.opts.OnRetry != nil {
				d.opts.OnRetry()
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		var data []byte
		data, lastErr = d.backend.ReadChunk(ctx, remotePath, offset, length)
		if lastErr == nil {
			return data, nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return nil, lastErr
		}
		if errors.Is(lastErr, ErrObjectNotFound) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("chunk read at %d failed after %d retries: %w", offset, d.opts.MaxRetries, lastErr)
}

// promote moves complete staged content to its final path. With encryption
// enabled the staged ciphertext is decrypted into a second staging file
// first; the destination always receives a single atomic rename.
func (d *Downloader) promote(staging, localPath string) error {
	src := staging

	if d.opts.Encryptor != nil {
		plain := staging + ".plain"
		if err := d.opts.Encryptor.DecryptFile(staging, plain); err != nil {
			os.Remove(plain)
			return err
		}
		os.Remove(staging)
		src = plain
	}

	if err := os.Rename(src, localPath); err != nil {
		return fmt.Errorf("promoting staging file: %w", err)
	}
	return nil
}

// verifySHA256 checks a file against an expected hex digest.
func verifySHA256(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file for verification: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hashing file: %w", err)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return nil
}

func stagingPath(localPath string) string {
	dir, base := filepath.Split(localPath)
	return filepath.Join(dir, "."+base+stagingSuffix)
}

func etagPath(staging string) string {
	return staging + ".etag"
}
