package metadata

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and throwaway setups.
// Nothing survives process exit.
type MemoryStore struct {
	mu     sync.RWMutex
	drives map[string]DriveRecord
	files  map[string]map[string]FileRecord // driveID -> localPath -> record
	tasks  map[string]TaskRecord
	nextID uint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drives: make(map[string]DriveRecord),
		files:  make(map[string]map[string]FileRecord),
		tasks:  make(map[string]TaskRecord),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) SaveDrive(_ context.Context, rec *DriveRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, d := range s.drives {
		if id != rec.ID && d.LocalPath == rec.LocalPath {
			return ErrDuplicateLocalPath
		}
	}

	if existing, ok := s.drives[rec.ID]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = time.Now()
	s.drives[rec.ID] = *rec
	return nil
}

func (s *MemoryStore) GetDrive(_ context.Context, id string) (*DriveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.drives[id]
	if !ok {
		return nil, ErrDriveNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) ListDrives(_ context.Context) ([]*DriveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*DriveRecord, 0, len(s.drives))
	for _, rec := range s.drives {
		r := rec
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteDrive(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.drives, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) UpsertFile(_ context.Context, rec *FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.files[rec.DriveID]
	if !ok {
		files = make(map[string]FileRecord)
		s.files[rec.DriveID] = files
	}

	if existing, ok := files[rec.LocalPath]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		s.nextID++
		rec.ID = s.nextID
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
	}
	rec.UpdatedAt = time.Now()
	files[rec.LocalPath] = *rec
	return nil
}

func (s *MemoryStore) GetFile(_ context.Context, driveID, localPath string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.files[driveID][localPath]
	if !ok {
		return nil, ErrFileNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) ListFiles(_ context.Context, driveID string) ([]*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := s.files[driveID]
	out := make([]*FileRecord, 0, len(files))
	for _, rec := range files {
		r := rec
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalPath < out[j].LocalPath })
	return out, nil
}

func (s *MemoryStore) ListFilesUpdatedSince(_ context.Context, driveID string, since time.Time) ([]*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*FileRecord, 0)
	for _, rec := range s.files[driveID] {
		if !rec.UpdatedAt.Before(since) {
			r := rec
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) SetFileState(_ context.Context, driveID, localPath, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.files[driveID][localPath]
	if !ok {
		return ErrFileNotFound
	}
	rec.State = state
	rec.UpdatedAt = time.Now()
	s.files[driveID][localPath] = rec
	return nil
}

func (s *MemoryStore) DeleteFile(_ context.Context, driveID, localPath string) error {
	s.mu.Lock()
	delete(s.files[driveID], localPath)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteFilesByDrive(_ context.Context, driveID string) error {
	s.mu.Lock()
	delete(s.files, driveID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SaveTask(_ context.Context, rec *TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tasks[rec.ID]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = time.Now()
	s.tasks[rec.ID] = *rec
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) ListUnfinishedTasks(_ context.Context) ([]*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*TaskRecord, 0)
	for _, rec := range s.tasks {
		if rec.Status == "pending" || rec.Status == "running" {
			r := rec
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteTasksByDrive(_ context.Context, driveID string) error {
	s.mu.Lock()
	for id, rec := range s.tasks {
		if rec.DriveID == driveID {
			delete(s.tasks, id)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) PruneTerminalTasks(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for id, rec := range s.tasks {
		switch strings.ToLower(rec.Status) {
		case "completed", "failed", "cancelled":
			delete(s.tasks, id)
			pruned++
		}
	}
	return pruned, nil
}
