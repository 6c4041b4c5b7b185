// Package transfer moves file content between the local disk and a remote
// backend in fixed-size chunks.
//
// Chunking is what makes transfers resumable: every chunk a backend
// acknowledges is recorded in the session, and a session can be serialized
// to an opaque token and picked up again later without re-sending
// acknowledged chunks. The Uploader and Downloader drive sessions with
// retries, cooperative cancellation at chunk boundaries, and optional
// client-side encryption.
package transfer

import (
	"context"
	"errors"
	"time"
)

// Backend errors. Implementations map their provider-specific failures to
// these so callers can branch without knowing the provider.
var (
	// ErrObjectNotFound indicates the remote object does not exist.
	ErrObjectNotFound = errors.New("remote object not found")

	// ErrSessionNotFound indicates the upload session expired or never existed.
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrSessionFinalized indicates a write to an already finalized session.
	ErrSessionFinalized = errors.New("upload session already finalized")

	// ErrChunkOutOfRange indicates a chunk index outside the session bounds.
	ErrChunkOutOfRange = errors.New("chunk index out of range")

	// ErrInvalidToken indicates a resume token that cannot be decoded.
	ErrInvalidToken = errors.New("invalid resume token")

	// ErrChecksumMismatch indicates downloaded content failed verification.
	ErrChecksumMismatch = errors.New("content checksum mismatch")
)

// ObjectInfo describes a remote object.
type ObjectInfo struct {
	// Path is the remote path of the object
	Path string `json:"path"`

	// Size is the object size in bytes
	Size int64 `json:"size"`

	// ETag is the backend's version marker for the object. The format is
	// provider-specific; equality is the only meaningful comparison.
	ETag string `json:"etag"`

	// ModTime is the last modification time reported by the backend
	ModTime time.Time `json:"mod_time"`
}

// ProgressFunc receives transfer progress. processed counts only fully
// acknowledged bytes.
type ProgressFunc func(processed, total int64)

// Backend is a remote storage provider.
//
// Implementations must be safe for concurrent use. All methods honor
// context cancellation; long reads and writes should be issued one chunk
// at a time so cancellation takes effect between chunks.
type Backend interface {
	// Name identifies the provider ("memory", "filesystem", "s3").
	Name() string

	// Stat returns metadata for a remote object.
	// Returns ErrObjectNotFound if the object does not exist.
	Stat(ctx context.Context, path string) (*ObjectInfo, error)

	// ReadChunk reads length bytes starting at offset. Reads past the end
	// of the object return the available prefix.
	ReadChunk(ctx context.Context, path string, offset, length int64) ([]byte, error)

	// Delete removes a remote object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, path string) error

	// Copy duplicates a remote object server-side.
	Copy(ctx context.Context, from, to string) error

	// List returns objects whose path starts with prefix.
	List(ctx context.Context, prefix string) ([]*ObjectInfo, error)

	// OpenUpload starts a chunked upload session for an object of the
	// given size.
	OpenUpload(ctx context.Context, path string, size, chunkSize int64) (UploadSession, error)

	// ResumeUpload reconstructs a session from a token produced by
	// UploadSession.Token. Chunks acknowledged before the token was taken
	// remain acknowledged. Returns ErrInvalidToken for garbage tokens and
	// ErrSessionNotFound when the provider no longer has the session.
	ResumeUpload(ctx context.Context, token []byte) (UploadSession, error)
}

// UploadSession is one chunked upload in progress.
//
// Sessions are not safe for concurrent use; the uploader drives a session
// from a single goroutine.
type UploadSession interface {
	// RemotePath returns the destination path of the upload.
	RemotePath() string

	// Size returns the total upload size in bytes.
	Size() int64

	// ChunkSize returns the chunk size the session was opened with.
	ChunkSize() int64

	// Acked reports whether the chunk at index was already acknowledged.
	Acked(index int) bool

	// WriteChunk uploads the chunk at index. On success the chunk is
	// acknowledged and will survive a resume.
	WriteChunk(ctx context.Context, index int, data []byte) error

	// Token serializes the session into an opaque resume token. The token
	// is valid until the session is finalized or aborted.
	Token() ([]byte, error)

	// Finalize completes the upload once every chunk is acknowledged and
	// returns the resulting object.
	Finalize(ctx context.Context) (*ObjectInfo, error)

	// Abort discards the session and any uploaded chunks.
	Abort(ctx context.Context) error
}

// ChunkCount returns how many chunks an object of the given size splits
// into. A zero-byte object still occupies one (empty) chunk.
func ChunkCount(size, chunkSize int64) int {
	if size <= 0 {
		return 1
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// ChunkBounds returns the byte range [offset, offset+length) of the chunk
// at index for an object of the given size.
func ChunkBounds(index int, size, chunkSize int64) (offset, length int64) {
	offset = int64(index) * chunkSize
	length = chunkSize
	if offset+length > size {
		length = size - offset
	}
	if length < 0 {
		length = 0
	}
	return offset, length
}
