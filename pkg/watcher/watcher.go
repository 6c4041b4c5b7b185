// Package watcher feeds local filesystem changes into a mount.
//
// The drive root is watched recursively with fsnotify. Raw events are
// debounced and coalesced per path, filtered against the drive's ignore
// rules, and forwarded as local-change notifications. Editors that write a
// file several times in quick succession produce a single upload.
package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/mount"
)

// DefaultDebounce is the quiet period before coalesced changes flush.
const DefaultDebounce = 500 * time.Millisecond

// Notifier receives coalesced local changes, drive-relative paths with
// forward slashes.
type Notifier interface {
	NotifyLocalChange(path string, kind mount.ChangeKind) (<-chan error, error)
}

// Config describes one watched drive root.
type Config struct {
	Root     string
	Debounce time.Duration

	// Ignore lists patterns excluded from sync. A leading "*" matches a
	// suffix, a trailing "/" matches a directory subtree, anything else
	// matches a path or base name exactly.
	Ignore []string
}

// Watcher mirrors one drive root's changes into the engine.
type Watcher struct {
	cfg      Config
	notifier Notifier
	fw       *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]mount.ChangeKind
	timer   *time.Timer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a watcher over cfg.Root for the given notifier.
func New(cfg Config, notifier Notifier) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:      cfg,
		notifier: notifier,
		fw:       fw,
		pending:  make(map[string]mount.ChangeKind),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start registers the root and all existing subdirectories, then begins
// forwarding events.
func (w *Watcher) Start() error {
	err := filepath.WalkDir(w.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(w.relative(path)) && path != w.cfg.Root {
			return filepath.SkipDir
		}
		return w.fw.Add(path)
	})
	if err != nil {
		w.fw.Close()
		return err
	}

	w.wg.Add(1)
	go w.loop()

	logger.Info("watcher started",
		logger.KeyMount, w.cfg.Root,
		"debounce", w.cfg.Debounce.String())
	return nil
}

// Stop ends watching. Pending coalesced changes are dropped.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.fw.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher error", logger.KeyError, err.Error())
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel := w.relative(ev.Name)
	if rel == "" || w.ignored(rel) {
		return
	}

	var kind mount.ChangeKind
	switch {
	case ev.Op.Has(fsnotify.Create):
		if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
			// New subtree: watch it, but directories themselves don't sync.
			w.fw.Add(ev.Name)
			return
		}
		kind = mount.ChangeCreated
	case ev.Op.Has(fsnotify.Write):
		kind = mount.ChangeModified
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		// A rename surfaces as remove-here plus create-there.
		kind = mount.ChangeDeleted
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[rel] = coalesce(w.pending[rel], kind)
	if w.timer == nil {
		w.timer = time.AfterFunc(w.cfg.Debounce, w.flush)
	} else {
		w.timer.Reset(w.cfg.Debounce)
	}
}

// coalesce merges a new change into a pending one for the same path.
func coalesce(prev, next mount.ChangeKind) mount.ChangeKind {
	switch {
	case prev == "":
		return next
	case prev == mount.ChangeDeleted && next == mount.ChangeCreated:
		// Removed and re-created within the window: a replace.
		return mount.ChangeModified
	case prev == mount.ChangeCreated && next == mount.ChangeModified:
		return mount.ChangeCreated
	default:
		return next
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]mount.ChangeKind)
	w.timer = nil
	w.mu.Unlock()

	for path, kind := range batch {
		select {
		case <-w.stopCh:
			return
		default:
		}
		if _, err := w.notifier.NotifyLocalChange(path, kind); err != nil {
			logger.Warn("local change not accepted",
				logger.KeyPath, path,
				logger.KeyError, err.Error())
		} else {
			logger.Debug("local change forwarded",
				logger.KeyPath, path,
				"kind", string(kind))
		}
	}
}

// relative converts an absolute event path into its drive-relative,
// slash-separated form. Returns "" for paths outside the root.
func (w *Watcher) relative(abs string) string {
	rel, err := filepath.Rel(w.cfg.Root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}

// ignored applies the drive's ignore rules plus the built-in exclusion of
// transfer staging files.
func (w *Watcher) ignored(rel string) bool {
	base := gopathBase(rel)
	if strings.Contains(base, ".driftsync-partial") {
		return true
	}

	for _, pattern := range w.cfg.Ignore {
		switch {
		case pattern == "":
			continue
		case strings.HasPrefix(pattern, "*"):
			if strings.HasSuffix(rel, pattern[1:]) {
				return true
			}
		case strings.HasSuffix(pattern, "/"):
			if strings.HasPrefix(rel+"/", pattern) || strings.Contains(rel, "/"+pattern) {
				return true
			}
		default:
			if rel == pattern || base == pattern {
				return true
			}
		}
	}
	return false
}

func gopathBase(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[i+1:]
	}
	return rel
}
