package transfer_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/pkg/transfer"
	"github.com/driftsync/driftsync/pkg/transfer/filesystem"
	"github.com/driftsync/driftsync/pkg/transfer/memory"
)

const testChunkSize = 1024

func writeTestFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, data
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestChunkMath(t *testing.T) {
	tests := []struct {
		size   int64
		chunk  int64
		chunks int
	}{
		{0, 1024, 1},
		{1, 1024, 1},
		{1024, 1024, 1},
		{1025, 1024, 2},
		{4096, 1024, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.chunks, transfer.ChunkCount(tt.size, tt.chunk), "size=%d", tt.size)
	}

	offset, length := transfer.ChunkBounds(2, 2500, 1024)
	assert.Equal(t, int64(2048), offset)
	assert.Equal(t, int64(452), length)
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	backend := memory.New()
	src, data := writeTestFile(t, 3*testChunkSize+100)

	uploader := transfer.NewUploader(backend, transfer.Options{ChunkSize: testChunkSize})

	var lastProcessed int64
	obj, err := uploader.Upload(context.Background(), src, "docs/file.bin", nil,
		func(processed, total int64) {
			assert.GreaterOrEqual(t, processed, lastProcessed, "progress must not regress")
			assert.Equal(t, int64(len(data)), total)
			lastProcessed = processed
		}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), obj.Size)
	assert.Equal(t, int64(len(data)), lastProcessed)

	dst := filepath.Join(t.TempDir(), "restored.bin")
	downloader := transfer.NewDownloader(backend, transfer.Options{ChunkSize: testChunkSize})
	require.NoError(t, downloader.Download(context.Background(), "docs/file.bin", dst, sha256Hex(data), nil))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

// flakyBackend fails WriteChunk for a chosen chunk index until the failure
// budget runs out.
type flakyBackend struct {
	*memory.Backend
	failIndex int
	failures  int
}

func (f *flakyBackend) OpenUpload(ctx context.Context, path string, size, chunkSize int64) (transfer.UploadSession, error) {
	s, err := f.Backend.OpenUpload(ctx, path, size, chunkSize)
	if err != nil {
		return nil, err
	}
	return &flakySession{UploadSession: s, b: f}, nil
}

func (f *flakyBackend) ResumeUpload(ctx context.Context, token []byte) (transfer.UploadSession, error) {
	s, err := f.Backend.ResumeUpload(ctx, token)
	if err != nil {
		return nil, err
	}
	return &flakySession{UploadSession: s, b: f}, nil
}

type flakySession struct {
	transfer.UploadSession
	b *flakyBackend
}

func (s *flakySession) WriteChunk(ctx context.Context, index int, data []byte) error {
	if index == s.b.failIndex && s.b.failures > 0 {
		s.b.failures--
		return errors.New("simulated network failure")
	}
	return s.UploadSession.WriteChunk(ctx, index, data)
}

func TestUploadRetriesTransientFailure(t *testing.T) {
	backend := &flakyBackend{Backend: memory.New(), failIndex: 1, failures: 2}
	src, data := writeTestFile(t, 3*testChunkSize)

	uploader := transfer.NewUploader(backend, transfer.Options{
		ChunkSize:    testChunkSize,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})

	obj, err := uploader.Upload(context.Background(), src, "file.bin", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), obj.Size)
}

func TestUploadResumeSkipsAckedChunks(t *testing.T) {
	mem := memory.New()
	backend := &flakyBackend{Backend: mem, failIndex: 2, failures: 1}
	src, data := writeTestFile(t, 4*testChunkSize)

	uploader := transfer.NewUploader(backend, transfer.Options{
		ChunkSize:    testChunkSize,
		MaxRetries:   0,
		RetryBackoff: time.Millisecond,
	})

	var token []byte
	_, err := uploader.Upload(context.Background(), src, "file.bin", nil, nil,
		func(tok []byte) { token = tok })
	require.Error(t, err, "first attempt must fail on chunk 2")
	require.NotNil(t, token, "token must be persisted for acked chunks")

	// Second attempt resumes from the token. Chunks 0 and 1 were already
	// acknowledged and must not be sent again.
	obj, err := uploader.Upload(context.Background(), src, "file.bin", token, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), obj.Size)

	assert.Equal(t, 1, mem.WriteChunkCalls[0], "chunk 0 re-sent on resume")
	assert.Equal(t, 1, mem.WriteChunkCalls[1], "chunk 1 re-sent on resume")
	assert.Equal(t, 1, mem.WriteChunkCalls[2])
	assert.Equal(t, 1, mem.WriteChunkCalls[3])
}

// cancellingBackend cancels the given context after a number of successful
// chunk writes.
type cancellingBackend struct {
	*memory.Backend
	cancel     context.CancelFunc
	afterWrite int
}

func (c *cancellingBackend) OpenUpload(ctx context.Context, path string, size, chunkSize int64) (transfer.UploadSession, error) {
	s, err := c.Backend.OpenUpload(ctx, path, size, chunkSize)
	if err != nil {
		return nil, err
	}
	return &cancellingSession{UploadSession: s, b: c}, nil
}

type cancellingSession struct {
	transfer.UploadSession
	b *cancellingBackend
}

func (s *cancellingSession) WriteChunk(ctx context.Context, index int, data []byte) error {
	if err := s.UploadSession.WriteChunk(ctx, index, data); err != nil {
		return err
	}
	s.b.afterWrite--
	if s.b.afterWrite == 0 {
		s.b.cancel()
	}
	return nil
}

func TestUploadCancellationAtChunkBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mem := memory.New()
	backend := &cancellingBackend{Backend: mem, cancel: cancel, afterWrite: 2}
	src, _ := writeTestFile(t, 5*testChunkSize)

	uploader := transfer.NewUploader(backend, transfer.Options{ChunkSize: testChunkSize})

	_, err := uploader.Upload(ctx, src, "file.bin", nil, nil, nil)
	require.ErrorIs(t, err, context.Canceled)

	// Only the chunks written before cancellation went out.
	assert.Equal(t, 1, mem.WriteChunkCalls[0])
	assert.Equal(t, 1, mem.WriteChunkCalls[1])
	assert.Equal(t, 0, mem.WriteChunkCalls[2])
}

func TestDownloadChecksumMismatch(t *testing.T) {
	backend := memory.New()
	backend.Put("file.bin", []byte("actual content"))

	dst := filepath.Join(t.TempDir(), "out.bin")
	downloader := transfer.NewDownloader(backend, transfer.Options{ChunkSize: testChunkSize})

	err := downloader.Download(context.Background(), "file.bin", dst, sha256Hex([]byte("expected content")), nil)
	require.ErrorIs(t, err, transfer.ErrChecksumMismatch)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "destination must not exist after checksum failure")
}

func TestDownloadMissingObject(t *testing.T) {
	backend := memory.New()
	downloader := transfer.NewDownloader(backend, transfer.Options{ChunkSize: testChunkSize})

	err := downloader.Download(context.Background(), "missing.bin", filepath.Join(t.TempDir(), "out"), "", nil)
	require.ErrorIs(t, err, transfer.ErrObjectNotFound)
}

func TestFilesystemBackendSessionSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	backend, err := filesystem.New(root)
	require.NoError(t, err)

	data := make([]byte, 3*testChunkSize)
	for i := range data {
		data[i] = byte(i)
	}

	session, err := backend.OpenUpload(context.Background(), "a/b.bin", int64(len(data)), testChunkSize)
	require.NoError(t, err)
	require.NoError(t, session.WriteChunk(context.Background(), 0, data[:testChunkSize]))
	require.NoError(t, session.WriteChunk(context.Background(), 1, data[testChunkSize:2*testChunkSize]))

	token, err := session.Token()
	require.NoError(t, err)

	// A fresh backend instance simulates a process restart. The chunk
	// files on disk carry the acknowledged state across.
	reopened, err := filesystem.New(root)
	require.NoError(t, err)

	resumed, err := reopened.ResumeUpload(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, resumed.Acked(0))
	assert.True(t, resumed.Acked(1))
	assert.False(t, resumed.Acked(2))

	require.NoError(t, resumed.WriteChunk(context.Background(), 2, data[2*testChunkSize:]))
	obj, err := resumed.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), obj.Size)

	got, err := reopened.ReadChunk(context.Background(), "a/b.bin", 0, int64(len(data)))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestFilesystemBackendInvalidToken(t *testing.T) {
	backend, err := filesystem.New(t.TempDir())
	require.NoError(t, err)

	_, err = backend.ResumeUpload(context.Background(), []byte("not json"))
	assert.ErrorIs(t, err, transfer.ErrInvalidToken)

	_, err = backend.ResumeUpload(context.Background(), []byte(`{"session_id":"gone","path":"x","size":1,"chunk_size":1}`))
	assert.ErrorIs(t, err, transfer.ErrSessionNotFound)
}

func TestEncryptedRoundTrip(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	identityFile := filepath.Join(t.TempDir(), "key.txt")
	require.NoError(t, os.WriteFile(identityFile, []byte(identity.String()+"\n"), 0600))

	enc, err := transfer.NewEncryptor(identity.Recipient().String(), identityFile)
	require.NoError(t, err)

	backend := memory.New()
	src, data := writeTestFile(t, 2*testChunkSize+17)

	uploader := transfer.NewUploader(backend, transfer.Options{ChunkSize: testChunkSize, Encryptor: enc})
	_, err = uploader.Upload(context.Background(), src, "secret.bin", nil, nil, nil)
	require.NoError(t, err)

	// The backend holds ciphertext, not the original bytes.
	stored, err := backend.ReadChunk(context.Background(), "secret.bin", 0, int64(len(data))+4096)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(stored, data[:64]), "backend must not see plaintext")

	dst := filepath.Join(t.TempDir(), "decrypted.bin")
	downloader := transfer.NewDownloader(backend, transfer.Options{ChunkSize: testChunkSize, Encryptor: enc})
	require.NoError(t, downloader.Download(context.Background(), "secret.bin", dst, "", nil))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}
