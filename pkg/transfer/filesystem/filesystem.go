// Package filesystem implements a transfer backend on a local directory.
//
// Objects live under <root>/objects; in-flight sessions keep one file per
// chunk under <root>/.sessions/<id>, so acknowledged chunks survive process
// restarts and resume tokens work across runs.
package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/driftsync/driftsync/pkg/transfer"
)

const (
	objectsDir  = "objects"
	sessionsDir = ".sessions"
	metaFile    = "session.json"
)

// Backend stores objects under a root directory.
type Backend struct {
	root string
}

// New creates a filesystem backend rooted at the given directory, creating
// it if needed.
func New(root string) (*Backend, error) {
	for _, dir := range []string{root, filepath.Join(root, objectsDir), filepath.Join(root, sessionsDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating backend directory: %w", err)
		}
	}
	return &Backend{root: root}, nil
}

func (b *Backend) Name() string { return "filesystem" }

func (b *Backend) objectPath(path string) string {
	return filepath.Join(b.root, objectsDir, filepath.FromSlash(path))
}

func (b *Backend) Stat(ctx context.Context, path string) (*transfer.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(b.objectPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, transfer.ErrObjectNotFound
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}

	return &transfer.ObjectInfo{
		Path:    path,
		Size:    info.Size(),
		ETag:    etagFor(info),
		ModTime: info.ModTime(),
	}, nil
}

func (b *Backend) ReadChunk(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(b.objectPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, transfer.ErrObjectNotFound
		}
		return nil, fmt.Errorf("opening object: %w", err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	return buf[:n], nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(b.objectPath(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

func (b *Backend) Copy(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(b.objectPath(from))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return transfer.ErrObjectNotFound
		}
		return fmt.Errorf("opening source object: %w", err)
	}
	defer src.Close()

	dstPath := b.objectPath(to)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	tmp := dstPath + ".tmp"
	dst, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating destination object: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return fmt.Errorf("copying object: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing destination object: %w", err)
	}

	if err := os.Rename(tmp, dstPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming destination object: %w", err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]*transfer.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := filepath.Join(b.root, objectsDir)
	var out []*transfer.ObjectInfo

	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		path := filepath.ToSlash(rel)
		if !strings.HasPrefix(path, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, &transfer.ObjectInfo{
			Path:    path,
			Size:    info.Size(),
			ETag:    etagFor(info),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing objects: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// sessionMeta is persisted next to the chunk files and doubles as the
// resume token payload.
type sessionMeta struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	ChunkSize int64  `json:"chunk_size"`
}

func (b *Backend) OpenUpload(ctx context.Context, path string, size, chunkSize int64) (transfer.UploadSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}

	meta := sessionMeta{
		SessionID: uuid.NewString(),
		Path:      path,
		Size:      size,
		ChunkSize: chunkSize,
	}

	dir := filepath.Join(b.root, sessionsDir, meta.SessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding session metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), data, 0600); err != nil {
		return nil, fmt.Errorf("writing session metadata: %w", err)
	}

	return &session{backend: b, dir: dir, meta: meta}, nil
}

func (b *Backend) ResumeUpload(ctx context.Context, token []byte) (transfer.UploadSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var meta sessionMeta
	if err := json.Unmarshal(token, &meta); err != nil || meta.SessionID == "" {
		return nil, transfer.ErrInvalidToken
	}

	dir := filepath.Join(b.root, sessionsDir, meta.SessionID)
	if _, err := os.Stat(filepath.Join(dir, metaFile)); err != nil {
		return nil, transfer.ErrSessionNotFound
	}

	return &session{backend: b, dir: dir, meta: meta}, nil
}

type session struct {
	backend   *Backend
	dir       string
	meta      sessionMeta
	finalized bool
}

func (s *session) RemotePath() string { return s.meta.Path }
func (s *session) Size() int64        { return s.meta.Size }
func (s *session) ChunkSize() int64   { return s.meta.ChunkSize }

func (s *session) chunkPath(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("chunk_%06d", index))
}

func (s *session) Acked(index int) bool {
	_, err := os.Stat(s.chunkPath(index))
	return err == nil
}

func (s *session) WriteChunk(ctx context.Context, index int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.finalized {
		return transfer.ErrSessionFinalized
	}
	if index < 0 || index >= transfer.ChunkCount(s.meta.Size, s.meta.ChunkSize) {
		return transfer.ErrChunkOutOfRange
	}

	// Write-then-rename so a chunk file existing means the chunk is whole.
	tmp := s.chunkPath(index) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	if err := os.Rename(tmp, s.chunkPath(index)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing chunk: %w", err)
	}
	return nil
}

func (s *session) Token() ([]byte, error) {
	return json.Marshal(s.meta)
}

func (s *session) Finalize(ctx context.Context) (*transfer.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.finalized {
		return nil, transfer.ErrSessionFinalized
	}

	dstPath := s.backend.objectPath(s.meta.Path)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return nil, fmt.Errorf("creating object directory: %w", err)
	}

	tmp := dstPath + ".tmp"
	dst, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating object file: %w", err)
	}

	chunks := transfer.ChunkCount(s.meta.Size, s.meta.ChunkSize)
	for i := 0; i < chunks; i++ {
		chunk, err := os.ReadFile(s.chunkPath(i))
		if err != nil {
			dst.Close()
			os.Remove(tmp)
			return nil, fmt.Errorf("chunk %d missing at finalize: %w", i, err)
		}
		if _, err := dst.Write(chunk); err != nil {
			dst.Close()
			os.Remove(tmp)
			return nil, fmt.Errorf("assembling object: %w", err)
		}
	}

	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("syncing object: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("closing object: %w", err)
	}

	if err := os.Rename(tmp, dstPath); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("publishing object: %w", err)
	}

	s.finalized = true
	os.RemoveAll(s.dir)

	info, err := os.Stat(dstPath)
	if err != nil {
		return nil, fmt.Errorf("stat finalized object: %w", err)
	}
	return &transfer.ObjectInfo{
		Path:    s.meta.Path,
		Size:    info.Size(),
		ETag:    etagFor(info),
		ModTime: info.ModTime(),
	}, nil
}

func (s *session) Abort(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.finalized = true
	return os.RemoveAll(s.dir)
}

// etagFor derives a cheap version marker from file metadata. Good enough
// for change detection; content hashing would defeat lazy listing.
func etagFor(info fs.FileInfo) string {
	return fmt.Sprintf("%x-%x", info.Size(), info.ModTime().UnixNano())
}
