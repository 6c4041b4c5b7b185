package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/bufpool"
)

// Options tunes uploads and downloads.
type Options struct {
	// ChunkSize is the transfer chunk size in bytes.
	ChunkSize int64

	// MaxRetries is how many times a failed chunk is retried.
	MaxRetries int

	// RetryBackoff is the base delay between retries; it doubles on every
	// attempt.
	RetryBackoff time.Duration

	// Encryptor enables client-side encryption when non-nil.
	Encryptor *Encryptor

	// OnRetry is invoked before every chunk retry. May be nil.
	OnRetry func()
}

const defaultChunkSize = 4 << 20

func (o *Options) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
}

// TokenSink persists the session resume token after every acknowledged
// chunk. May be nil when resumption is not needed.
type TokenSink func(token []byte)

// Uploader moves local files to a backend in resumable chunked sessions.
type Uploader struct {
	backend Backend
	opts    Options
}

// NewUploader creates an Uploader for the given backend.
func NewUploader(backend Backend, opts Options) *Uploader {
	opts.applyDefaults()
	return &Uploader{backend: backend, opts: opts}
}

// Upload transfers localPath to remotePath.
//
// When resumeToken is non-nil the session it names is resumed and chunks
// acknowledged before the interruption are skipped without being re-sent.
// The sink receives a fresh token after every acknowledged chunk so the
// caller can persist it. Progress counts only acknowledged bytes.
//
// Cancellation is cooperative: the context is checked at every chunk
// boundary and ctx.Err() is returned, leaving the session resumable.
func (u *Uploader) Upload(ctx context.Context, localPath, remotePath string, resumeToken []byte, report ProgressFunc, sink TokenSink) (*ObjectInfo, error) {
	src := localPath
	if u.opts.Encryptor != nil {
		staged, cleanup, err := u.stageEncrypted(localPath)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		src = staged
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("opening source file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat source file: %w", err)
	}
	size := info.Size()

	session, err := u.openSession(ctx, remotePath, size, resumeToken)
	if err != nil {
		return nil, err
	}

	chunkSize := session.ChunkSize()
	chunks := ChunkCount(size, chunkSize)
	var processed int64

	buf := bufpool.Get(int(chunkSize))
	defer bufpool.Put(buf)
	for i := 0; i < chunks; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		offset, length := ChunkBounds(i, size, chunkSize)

		if session.Acked(i) {
			processed += length
			if report != nil {
				report(processed, size)
			}
			continue
		}

		data := buf[:length]
		if _, err := f.ReadAt(data, offset); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading chunk %d: %w", i, err)
		}

		if err := u.writeChunkWithRetry(ctx, session, i, data); err != nil {
			return nil, err
		}

		processed += length
		if report != nil {
			report(processed, size)
		}

		if sink != nil {
			if token, err := session.Token(); err == nil {
				sink(token)
			}
		}
	}

	obj, err := session.Finalize(ctx)
	if err != nil {
		return nil, fmt.Errorf("finalizing upload: %w", err)
	}

	logger.Debug("upload finished",
		logger.KeyPath, localPath,
		logger.KeyRemote, remotePath,
		logger.KeySize, size,
		logger.KeyChunks, chunks,
		logger.KeyBackend, u.backend.Name())

	return obj, nil
}

// openSession resumes from a token when one is given, falling back to a
// fresh session if the provider no longer has it.
func (u *Uploader) openSession(ctx context.Context, remotePath string, size int64, resumeToken []byte) (UploadSession, error) {
	if len(resumeToken) > 0 {
		session, err := u.backend.ResumeUpload(ctx, resumeToken)
		if err == nil {
			logger.Debug("resumed upload session",
				logger.KeyRemote, remotePath,
				logger.KeyBackend, u.backend.Name())
			return session, nil
		}
		if !errors.Is(err, ErrSessionNotFound) && !errors.Is(err, ErrInvalidToken) {
			return nil, fmt.Errorf("resuming upload: %w", err)
		}
		logger.Warn("upload session lost, restarting",
			logger.KeyRemote, remotePath,
			logger.KeyError, err.Error())
	}

	session, err := u.backend.OpenUpload(ctx, remotePath, size, u.opts.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	return session, nil
}

// writeChunkWithRetry uploads one chunk, retrying transient failures with
// exponential backoff. Context cancellation aborts immediately.
func (u *Uploader) writeChunkWithRetry(ctx context.Context, session UploadSession, index int, data []byte) error {
	backoff := u.opts.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= u.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if u.opts.OnRetry != nil {
				u.opts.OnRetry()
			}
			logger.Debug("retrying chunk",
				logger.KeyChunk, index,
				logger.KeyAttempt, attempt,
				logger.KeyError, lastErr.Error())

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		lastErr = session.WriteChunk(ctx, index, data)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
	}

	return fmt.Errorf("chunk %d failed after %d retries: %w", index, u.opts.MaxRetries, lastErr)
}

// stageEncrypted encrypts the source into a temp file next to nothing in
// particular; the ciphertext is what gets chunked and uploaded.
func (u *Uploader) stageEncrypted(localPath string) (string, func(), error) {
	tmp, err := os.CreateTemp("", "driftsync-enc-*"+filepath.Ext(localPath))
	if err != nil {
		return "", nil, fmt.Errorf("creating encryption staging file: %w", err)
	}
	tmp.Close()

	if err := u.opts.Encryptor.EncryptFile(localPath, tmp.Name()); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}

	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}
