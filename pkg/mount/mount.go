// Package mount coordinates one drive's sync surface.
//
// A mount binds 1:1 to an enabled drive. It owns the drive's placeholder
// state table and a command inbox processed by a single goroutine, so all
// commands for the same mount apply in submission order while different
// mounts run fully in parallel. Transfer work is handed to the shared task
// queue; completions re-enter the mount through the same inbox.
package mount

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/events"
	"github.com/driftsync/driftsync/pkg/metadata"
	"github.com/driftsync/driftsync/pkg/placeholder"
	"github.com/driftsync/driftsync/pkg/task"
)

// Errors returned by mount operations.
var (
	// ErrPaused is returned while the mount is not accepting new work.
	ErrPaused = errors.New("mount is paused")

	// ErrStopped is returned after the mount has been torn down.
	ErrStopped = errors.New("mount is stopped")

	// ErrConflict indicates the path is conflicted and needs an external
	// resolution decision before sync work can continue.
	ErrConflict = errors.New("conflict detected, resolution required")

	// ErrNotConflicted is returned when resolving a path that is not in
	// the conflicted state.
	ErrNotConflicted = errors.New("path is not conflicted")
)

// ChangeKind classifies a detected local filesystem change.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// RemoteChange is one entry from the external remote-event feed.
type RemoteChange struct {
	Path     string
	ETag     string
	Size     int64
	IsFolder bool
	Shared   bool
	Deleted  bool

	// Metadata carries provider attributes to mirror into the file record.
	Metadata map[string]string
}

// Decision resolves a conflicted path.
type Decision string

const (
	// DecisionKeepLocal keeps the local edits; an upload overwrites remote.
	DecisionKeepLocal Decision = "keep-local"

	// DecisionKeepRemote discards local edits; the path reverts to a
	// placeholder and re-hydrates on demand.
	DecisionKeepRemote Decision = "keep-remote"

	// DecisionKeepBoth preserves the local edits under a conflict-copy
	// name and keeps the remote version at the original path.
	DecisionKeepBoth Decision = "keep-both"
)

// ConflictPolicyManual disables automatic conflict resolution. Any other
// policy value is applied as a Decision the moment a conflict is detected.
const ConflictPolicyManual = "manual"

// Submitter is the slice of the task queue a mount uses.
type Submitter interface {
	Submit(t *task.Task, done task.CompletionFunc) (string, error)
	Get(id string) (task.Task, error)
}

// Config describes one mount.
type Config struct {
	DriveID   string
	LocalRoot string

	// ConflictPolicy is ConflictPolicyManual or a Decision value.
	ConflictPolicy string

	// InboxSize is the command inbox capacity. 0 uses a default.
	InboxSize int
}

const defaultInboxSize = 256

// hydrationOp tracks one in-flight download for a path. Concurrent
// hydration requests attach as waiters instead of submitting duplicate
// tasks; completion resolves every waiter.
type hydrationOp struct {
	taskID  string
	waiters []chan error
}

// Mount is the runtime object for one enabled drive.
type Mount struct {
	cfg   Config
	tasks Submitter
	store metadata.Store
	feed  *events.Feed
	table *placeholder.Table

	inbox  chan func()
	stopCh chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context

	mu      sync.Mutex
	paused  bool
	stopped bool
	started bool

	// inFlight is touched only by the command loop.
	inFlight map[string]*hydrationOp
}

// New creates a mount. Start must be called before use.
func New(cfg Config, tasks Submitter, store metadata.Store, feed *events.Feed) *Mount {
	size := cfg.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}
	if cfg.ConflictPolicy == "" {
		cfg.ConflictPolicy = ConflictPolicyManual
	}
	return &Mount{
		cfg:      cfg,
		tasks:    tasks,
		store:    store,
		feed:     feed,
		table:    placeholder.NewTable(),
		inbox:    make(chan func(), size),
		stopCh:   make(chan struct{}),
		inFlight: make(map[string]*hydrationOp),
	}
}

// DriveID returns the owning drive's id.
func (m *Mount) DriveID() string { return m.cfg.DriveID }

// LocalRoot returns the mounted local root path.
func (m *Mount) LocalRoot() string { return m.cfg.LocalRoot }

// Start restores persisted placeholder state and begins processing the
// command inbox.
func (m *Mount) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	m.started = true
	m.mu.Unlock()

	m.ctx = ctx
	if err := m.loadState(ctx); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.loop()

	logger.Info("mount started",
		logger.KeyDriveID, m.cfg.DriveID,
		logger.KeyMount, m.cfg.LocalRoot)
	return nil
}

// Stop tears the mount down. Pending commands are dropped and outstanding
// hydration waiters resolve with ErrStopped. Idempotent.
func (m *Mount) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	started := m.started
	m.mu.Unlock()

	close(m.stopCh)
	if started {
		m.wg.Wait()
	}
	logger.Info("mount stopped", logger.KeyDriveID, m.cfg.DriveID)
}

// Pause stops accepting new callback-driven work. In-flight tasks continue.
func (m *Mount) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	logger.Info("mount paused", logger.KeyDriveID, m.cfg.DriveID)
}

// Resume re-enables the mount after Pause.
func (m *Mount) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	logger.Info("mount resumed", logger.KeyDriveID, m.cfg.DriveID)
}

// Paused reports whether the mount is paused.
func (m *Mount) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// State returns the placeholder state of path.
func (m *Mount) State(path string) placeholder.State {
	return m.table.Get(path)
}

// Placeholders returns a snapshot of the full placeholder table.
func (m *Mount) Placeholders() map[string]placeholder.State {
	return m.table.Snapshot()
}

// checkAccepting returns the error barring new work, if any.
func (m *Mount) checkAccepting() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if m.paused {
		return ErrPaused
	}
	return nil
}

// enqueue places a command on the inbox. Commands run sequentially in
// submission order on the mount's loop goroutine.
func (m *Mount) enqueue(fn func()) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	m.mu.Unlock()

	select {
	case m.inbox <- fn:
		return nil
	case <-m.stopCh:
		return ErrStopped
	}
}

func (m *Mount) loop() {
	defer m.wg.Done()
	for {
		select {
		case fn := <-m.inbox:
			fn()
		case <-m.stopCh:
			for path, op := range m.inFlight {
				delete(m.inFlight, path)
				for _, w := range op.waiters {
					w <- ErrStopped
				}
			}
			return
		}
	}
}

// loadState seeds the placeholder table from persisted file records, so
// hydration state survives restarts. A path mid-hydration at crash time is
// demoted to dehydrated; its staged download resumes on next request.
func (m *Mount) loadState(ctx context.Context) error {
	recs, err := m.store.ListFiles(ctx, m.cfg.DriveID)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		state := placeholder.State(rec.State)
		if !state.Valid() || state == placeholder.StateHydrating {
			state = placeholder.StateDehydrated
		}
		m.table.Set(rec.LocalPath, state)
	}
	logger.Debug("placeholder state restored",
		logger.KeyDriveID, m.cfg.DriveID, "paths", len(recs))
	return nil
}

// persistState mirrors the in-memory state of path into its file record.
// Store failures fail the current operation loudly; they are never skipped.
func (m *Mount) persistState(path string) error {
	state := m.table.Get(path)
	err := m.store.SetFileState(m.ctx, m.cfg.DriveID, path, string(state))
	if errors.Is(err, metadata.ErrFileNotFound) {
		// First sight of this path: create the record.
		return m.store.UpsertFile(m.ctx, &metadata.FileRecord{
			DriveID:   m.cfg.DriveID,
			LocalPath: path,
			State:     string(state),
			Props:     propsDoc(state),
		})
	}
	if err != nil {
		logger.Error("placeholder state write failed",
			logger.KeyDriveID, m.cfg.DriveID,
			logger.KeyPath, path,
			logger.KeyError, err.Error())
	}
	return err
}

// propsDoc renders the props JSON document carrying the state mirror.
func propsDoc(state placeholder.State) string {
	doc, _ := json.Marshal(map[string]string{placeholder.PropsKey: string(state)})
	return string(doc)
}

// publishConflict emits a conflict event for path.
func (m *Mount) publishConflict(path string) {
	if m.feed == nil {
		return
	}
	m.feed.Publish(events.Event{
		Type:    events.TypeConflict,
		DriveID: m.cfg.DriveID,
		Path:    path,
		Status:  string(placeholder.StateConflicted),
	})
}
