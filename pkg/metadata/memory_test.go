package metadata

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_Drives(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.SaveDrive(ctx, &DriveRecord{ID: "d1", LocalPath: "/a"}); err != nil {
		t.Fatalf("failed to save drive: %v", err)
	}

	if err := store.SaveDrive(ctx, &DriveRecord{ID: "d2", LocalPath: "/a"}); !errors.Is(err, ErrDuplicateLocalPath) {
		t.Errorf("expected ErrDuplicateLocalPath, got %v", err)
	}

	// Re-saving the same drive with its own path is an update, not a conflict.
	if err := store.SaveDrive(ctx, &DriveRecord{ID: "d1", LocalPath: "/a", Enabled: true}); err != nil {
		t.Errorf("expected update to succeed, got %v", err)
	}

	got, err := store.GetDrive(ctx, "d1")
	if err != nil {
		t.Fatalf("failed to get drive: %v", err)
	}
	if !got.Enabled {
		t.Error("expected updated drive to be enabled")
	}

	if _, err := store.GetDrive(ctx, "missing"); !errors.Is(err, ErrDriveNotFound) {
		t.Errorf("expected ErrDriveNotFound, got %v", err)
	}
}

func TestMemoryStore_FileState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := &FileRecord{DriveID: "d1", LocalPath: "a.txt", State: "dehydrated"}
	if err := store.UpsertFile(ctx, rec); err != nil {
		t.Fatalf("failed to upsert: %v", err)
	}

	if err := store.SetFileState(ctx, "d1", "a.txt", "hydrating"); err != nil {
		t.Fatalf("failed to set state: %v", err)
	}

	got, err := store.GetFile(ctx, "d1", "a.txt")
	if err != nil {
		t.Fatalf("failed to get file: %v", err)
	}
	if got.State != "hydrating" {
		t.Errorf("expected hydrating, got %q", got.State)
	}

	if err := store.SetFileState(ctx, "d1", "missing", "hydrated"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestMemoryStore_ListFilesUpdatedSince(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.UpsertFile(ctx, &FileRecord{DriveID: "d1", LocalPath: "old.txt", State: "hydrated"}); err != nil {
		t.Fatalf("failed to upsert: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(5 * time.Millisecond)

	for _, path := range []string{"b.txt", "a.txt"} {
		if err := store.UpsertFile(ctx, &FileRecord{DriveID: "d1", LocalPath: path, State: "dehydrated"}); err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	recent, err := store.ListFilesUpdatedSince(ctx, "d1", cutoff)
	if err != nil {
		t.Fatalf("failed to list recent files: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent files, got %d", len(recent))
	}
	// Oldest change first.
	if recent[0].LocalPath != "b.txt" || recent[1].LocalPath != "a.txt" {
		t.Errorf("unexpected order: %q, %q", recent[0].LocalPath, recent[1].LocalPath)
	}

	all, err := store.ListFilesUpdatedSince(ctx, "d1", time.Time{})
	if err != nil {
		t.Fatalf("failed to list all files: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected all 3 files, got %d", len(all))
	}
}

func TestMemoryStore_Tasks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, rec := range []*TaskRecord{
		{ID: "t1", DriveID: "d1", Status: "pending"},
		{ID: "t2", DriveID: "d1", Status: "completed"},
		{ID: "t3", DriveID: "d2", Status: "running"},
	} {
		if err := store.SaveTask(ctx, rec); err != nil {
			t.Fatalf("failed to save task: %v", err)
		}
	}

	unfinished, err := store.ListUnfinishedTasks(ctx)
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(unfinished) != 2 {
		t.Errorf("expected 2 unfinished tasks, got %d", len(unfinished))
	}

	pruned, err := store.PruneTerminalTasks(ctx)
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned task, got %d", pruned)
	}

	if err := store.DeleteTasksByDrive(ctx, "d2"); err != nil {
		t.Fatalf("failed to delete by drive: %v", err)
	}
	if _, err := store.GetTask(ctx, "t3"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}
