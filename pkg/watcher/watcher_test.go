package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/pkg/mount"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changes map[string]mount.ChangeKind
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{changes: make(map[string]mount.ChangeKind)}
}

func (n *recordingNotifier) NotifyLocalChange(path string, kind mount.ChangeKind) (<-chan error, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes[path] = kind
	done := make(chan error, 1)
	done <- nil
	return done, nil
}

func (n *recordingNotifier) get(path string) (mount.ChangeKind, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	kind, ok := n.changes[path]
	return kind, ok
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.changes)
}

func startWatcher(t *testing.T, root string, ignore []string) (*Watcher, *recordingNotifier) {
	t.Helper()
	notifier := newRecordingNotifier()
	w, err := New(Config{
		Root:     root,
		Debounce: 50 * time.Millisecond,
		Ignore:   ignore,
	}, notifier)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)
	return w, notifier
}

func TestCreateNotifies(t *testing.T) {
	root := t.TempDir()
	_, notifier := startWatcher(t, root, nil)

	require.NoError(t, os.WriteFile(filepath.Join(root, "note.txt"), []byte("hi"), 0o644))

	require.Eventually(t, func() bool {
		_, ok := notifier.get("note.txt")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRapidWritesCoalesce(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "doc.md")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0o644))

	_, notifier := startWatcher(t, root, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("edit"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		kind, ok := notifier.get("doc.md")
		return ok && kind == mount.ChangeModified
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, notifier.count())
}

func TestRemoveNotifiesDelete(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "old.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, notifier := startWatcher(t, root, nil)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		kind, ok := notifier.get("old.bin")
		return ok && kind == mount.ChangeDeleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	_, notifier := startWatcher(t, root, nil)

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give fsnotify a moment to register the new directory watch.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "deep.txt"), []byte("d"), 0o644))

	require.Eventually(t, func() bool {
		_, ok := notifier.get("sub/deep.txt")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIgnoreRules(t *testing.T) {
	root := t.TempDir()
	_, notifier := startWatcher(t, root, []string{"*.tmp", ".git/", "secrets.env"})

	require.NoError(t, os.WriteFile(filepath.Join(root, "scratch.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secrets.env"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kept.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		_, ok := notifier.get("kept.txt")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, tmpSeen := notifier.get("scratch.tmp")
	assert.False(t, tmpSeen)
	_, envSeen := notifier.get("secrets.env")
	assert.False(t, envSeen)
}

func TestStagingFilesAlwaysIgnored(t *testing.T) {
	root := t.TempDir()
	_, notifier := startWatcher(t, root, nil)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".report.pdf.driftsync-partial"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "visible.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		_, ok := notifier.get("visible.txt")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, partialSeen := notifier.get(".report.pdf.driftsync-partial")
	assert.False(t, partialSeen)
}

func TestIgnoredMatching(t *testing.T) {
	w := &Watcher{cfg: Config{Ignore: []string{"*.log", "node_modules/", "Thumbs.db"}}}

	assert.True(t, w.ignored("app/debug.log"))
	assert.True(t, w.ignored("node_modules/pkg/index.js"))
	assert.True(t, w.ignored("photos/Thumbs.db"))
	assert.True(t, w.ignored(".data.bin.driftsync-partial.etag"))
	assert.False(t, w.ignored("app/debug.txt"))
	assert.False(t, w.ignored("report.pdf"))
}

func TestCoalesceDeleteThenCreate(t *testing.T) {
	assert.Equal(t, mount.ChangeModified, coalesce(mount.ChangeDeleted, mount.ChangeCreated))
	assert.Equal(t, mount.ChangeCreated, coalesce(mount.ChangeCreated, mount.ChangeModified))
	assert.Equal(t, mount.ChangeDeleted, coalesce(mount.ChangeModified, mount.ChangeDeleted))
	assert.Equal(t, mount.ChangeCreated, coalesce("", mount.ChangeCreated))
}
