// Package memory implements an in-process transfer backend.
//
// Objects and sessions live in maps; nothing survives process exit. It
// exists for tests and for trying the engine without real storage.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftsync/driftsync/pkg/transfer"
)

type object struct {
	data    []byte
	etag    string
	modTime time.Time
}

// Backend is an in-memory transfer.Backend.
type Backend struct {
	mu       sync.Mutex
	objects  map[string]object
	sessions map[string]*session

	// WriteChunkCalls counts WriteChunk invocations per chunk index across
	// all sessions. Tests use it to prove acknowledged chunks are not
	// re-sent on resume.
	WriteChunkCalls map[int]int
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{
		objects:         make(map[string]object),
		sessions:        make(map[string]*session),
		WriteChunkCalls: make(map[int]int),
	}
}

func (b *Backend) Name() string { return "memory" }

// Put stores an object directly, bypassing sessions. Test helper.
func (b *Backend) Put(path string, data []byte) {
	b.mu.Lock()
	b.objects[path] = object{
		data:    append([]byte(nil), data...),
		etag:    etagFor(data),
		modTime: time.Now(),
	}
	b.mu.Unlock()
}

func (b *Backend) Stat(ctx context.Context, path string) (*transfer.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects[path]
	if !ok {
		return nil, transfer.ErrObjectNotFound
	}
	return &transfer.ObjectInfo{Path: path, Size: int64(len(obj.data)), ETag: obj.etag, ModTime: obj.modTime}, nil
}

func (b *Backend) ReadChunk(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects[path]
	if !ok {
		return nil, transfer.ErrObjectNotFound
	}
	if offset >= int64(len(obj.data)) {
		return nil, nil
	}
	end := offset + length
	if end > int64(len(obj.data)) {
		end = int64(len(obj.data))
	}
	return append([]byte(nil), obj.data[offset:end]...), nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	delete(b.objects, path)
	b.mu.Unlock()
	return nil
}

func (b *Backend) Copy(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects[from]
	if !ok {
		return transfer.ErrObjectNotFound
	}
	b.objects[to] = object{
		data:    append([]byte(nil), obj.data...),
		etag:    obj.etag,
		modTime: time.Now(),
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]*transfer.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*transfer.ObjectInfo
	for path, obj := range b.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, &transfer.ObjectInfo{Path: path, Size: int64(len(obj.data)), ETag: obj.etag, ModTime: obj.modTime})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (b *Backend) OpenUpload(ctx context.Context, path string, size, chunkSize int64) (transfer.UploadSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}

	s := &session{
		backend:   b,
		id:        uuid.NewString(),
		path:      path,
		size:      size,
		chunkSize: chunkSize,
		chunks:    make(map[int][]byte),
	}

	b.mu.Lock()
	b.sessions[s.id] = s
	b.mu.Unlock()
	return s, nil
}

// sessionToken is the resume token payload.
type sessionToken struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	ChunkSize int64  `json:"chunk_size"`
}

func (b *Backend) ResumeUpload(ctx context.Context, token []byte) (transfer.UploadSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var t sessionToken
	if err := json.Unmarshal(token, &t); err != nil || t.SessionID == "" {
		return nil, transfer.ErrInvalidToken
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[t.SessionID]
	if !ok {
		return nil, transfer.ErrSessionNotFound
	}
	return s, nil
}

type session struct {
	backend   *Backend
	id        string
	path      string
	size      int64
	chunkSize int64

	mu        sync.Mutex
	chunks    map[int][]byte
	finalized bool
}

func (s *session) RemotePath() string { return s.path }
func (s *session) Size() int64        { return s.size }
func (s *session) ChunkSize() int64   { return s.chunkSize }

func (s *session) Acked(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chunks[index]
	return ok
}

func (s *session) WriteChunk(ctx context.Context, index int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return transfer.ErrSessionFinalized
	}
	if index < 0 || index >= transfer.ChunkCount(s.size, s.chunkSize) {
		return transfer.ErrChunkOutOfRange
	}

	s.backend.mu.Lock()
	s.backend.WriteChunkCalls[index]++
	s.backend.mu.Unlock()

	s.chunks[index] = append([]byte(nil), data...)
	return nil
}

func (s *session) Token() ([]byte, error) {
	return json.Marshal(sessionToken{
		SessionID: s.id,
		Path:      s.path,
		Size:      s.size,
		ChunkSize: s.chunkSize,
	})
}

func (s *session) Finalize(ctx context.Context) (*transfer.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil, transfer.ErrSessionFinalized
	}

	chunks := transfer.ChunkCount(s.size, s.chunkSize)
	data := make([]byte, 0, s.size)
	for i := 0; i < chunks; i++ {
		chunk, ok := s.chunks[i]
		if !ok {
			return nil, fmt.Errorf("chunk %d missing at finalize", i)
		}
		data = append(data, chunk...)
	}

	now := time.Now()
	s.backend.mu.Lock()
	s.backend.objects[s.path] = object{data: data, etag: etagFor(data), modTime: now}
	delete(s.backend.sessions, s.id)
	s.backend.mu.Unlock()

	s.finalized = true
	return &transfer.ObjectInfo{Path: s.path, Size: int64(len(data)), ETag: etagFor(data), ModTime: now}, nil
}

func (s *session) Abort(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.finalized = true
	s.chunks = make(map[int][]byte)
	s.mu.Unlock()

	s.backend.mu.Lock()
	delete(s.backend.sessions, s.id)
	s.backend.mu.Unlock()
	return nil
}

func etagFor(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
