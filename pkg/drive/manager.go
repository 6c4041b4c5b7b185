package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/bridge"
	"github.com/driftsync/driftsync/pkg/config"
	"github.com/driftsync/driftsync/pkg/events"
	"github.com/driftsync/driftsync/pkg/metadata"
	"github.com/driftsync/driftsync/pkg/metrics"
	"github.com/driftsync/driftsync/pkg/mount"
	"github.com/driftsync/driftsync/pkg/placeholder"
	"github.com/driftsync/driftsync/pkg/task"
	"github.com/driftsync/driftsync/pkg/transfer"
	"github.com/driftsync/driftsync/pkg/watcher"
)

// managedDrive is one registered drive and its runtime state.
type managedDrive struct {
	rec     *metadata.DriveRecord
	backend transfer.Backend
	mnt     *mount.Mount
	watcher *watcher.Watcher

	lastErr     error
	credExpired bool
}

// Manager owns the drive set. All access to drives flows through its
// routing operations; there is no ambient global registry.
type Manager struct {
	store        metadata.Store
	feed         *events.Feed
	transferOpts transfer.Options

	queue *task.Queue
	ctx   context.Context

	mu     sync.RWMutex
	drives map[string]*managedDrive

	customExec task.Executor

	metrics    metrics.SyncMetrics
	feedCancel func()
	watch      WatcherOptions
	skipResume bool
}

// NewManager creates a manager. AttachQueue and Start must be called
// before drives are used.
func NewManager(store metadata.Store, feed *events.Feed, opts transfer.Options) *Manager {
	return &Manager{
		store:        store,
		feed:         feed,
		transferOpts: opts,
		ctx:          context.Background(),
		drives:       make(map[string]*managedDrive),
	}
}

// AttachQueue wires the shared task queue. The queue must have been built
// with this manager's Executors sets.
func (m *Manager) AttachQueue(q *task.Queue) {
	m.queue = q
	q.SetNotifier(m.onTaskEvent)
}

// RegisterCustomExecutor installs the executor backing custom tasks.
func (m *Manager) RegisterCustomExecutor(fn task.Executor) {
	m.customExec = fn
}

// SetMetrics installs the metrics sink. Pass nil to disable collection.
// Must be called before Start.
func (m *Manager) SetMetrics(sm metrics.SyncMetrics) {
	m.metrics = sm
}

// SetResume controls whether unfinished persisted tasks are re-submitted
// during Start. Enabled by default.
func (m *Manager) SetResume(enabled bool) {
	m.skipResume = !enabled
}

// optsFor derives per-drive transfer options so retries are attributed to
// the drive's backend type.
func (m *Manager) optsFor(d *managedDrive) transfer.Options {
	opts := m.transferOpts
	if m.metrics != nil {
		backendType := d.rec.BackendType
		opts.OnRetry = func() { m.metrics.RecordRetry(backendType) }
	}
	return opts
}

// Start restores persisted drives, mounts the enabled ones, and re-submits
// unfinished tasks so interrupted transfers resume.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx = ctx

	recs, err := m.store.ListDrives(ctx)
	if err != nil {
		return fmt.Errorf("loading drive registrations: %w", err)
	}

	for _, rec := range recs {
		d := &managedDrive{rec: rec}
		if err := m.connect(ctx, d); err != nil {
			// The drive stays registered with its failure visible in
			// health; transfers for it fail until the cause clears.
			logger.Error("drive backend unavailable",
				logger.KeyDriveID, rec.ID,
				logger.KeyError, err.Error())
		}
		m.mu.Lock()
		m.drives[rec.ID] = d
		m.mu.Unlock()
	}

	if pruned, err := m.store.PruneTerminalTasks(ctx); err == nil && pruned > 0 {
		logger.Debug("pruned terminal task records", "count", pruned)
	}

	if m.metrics != nil && m.feed != nil {
		ch, cancel := m.feed.Subscribe()
		m.feedCancel = cancel
		go func() {
			for ev := range ch {
				if ev.Type == events.TypeConflict {
					m.metrics.RecordConflict(ev.DriveID)
				}
			}
		}()
	}
	if !m.skipResume {
		if err := m.resumeTasks(ctx); err != nil {
			return err
		}
	}

	logger.Info("drive manager started", "drives", len(recs))
	return nil
}

// connect builds the backend and starts the mount for an enabled drive.
func (m *Manager) connect(ctx context.Context, d *managedDrive) error {
	spec, err := decodeBackendSpec(d.rec.BackendSpec)
	if err != nil {
		d.lastErr = err
		return err
	}

	backend, err := newBackend(ctx, spec)
	if err != nil {
		d.lastErr = err
		d.credExpired = errors.Is(err, ErrInvalidCredential)
		return err
	}
	d.backend = backend

	if d.rec.Enabled {
		return m.startMount(ctx, d)
	}
	return nil
}

func (m *Manager) startMount(ctx context.Context, d *managedDrive) error {
	mnt := mount.New(mount.Config{
		DriveID:        d.rec.ID,
		LocalRoot:      d.rec.LocalPath,
		ConflictPolicy: d.rec.ConflictPolicy,
	}, m.queue, m.store, m.feed)
	if err := mnt.Start(ctx); err != nil {
		d.lastErr = err
		return err
	}
	d.mnt = mnt
	m.startWatcher(d)
	return nil
}

// AddDrive validates and persists a new drive, creates its backend, and
// starts a mount unless the drive is registered disabled. Returns the
// drive id.
func (m *Manager) AddDrive(ctx context.Context, cfg config.DriveConfig) (string, error) {
	if cfg.LocalPath == "" {
		return "", errors.New("local path is required")
	}
	localPath, err := filepath.Abs(cfg.LocalPath)
	if err != nil {
		return "", fmt.Errorf("resolving local path: %w", err)
	}

	m.mu.RLock()
	for _, d := range m.drives {
		if d.rec.LocalPath == localPath {
			m.mu.RUnlock()
			return "", ErrDuplicatePath
		}
	}
	m.mu.RUnlock()

	backend, err := newBackend(ctx, cfg.Backend)
	if err != nil {
		return "", err
	}

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	name := cfg.Name
	if name == "" {
		name = filepath.Base(localPath)
	}
	policy := cfg.ConflictPolicy
	if policy == "" {
		policy = mount.ConflictPolicyManual
	}

	spec, err := encodeBackendSpec(cfg.Backend)
	if err != nil {
		return "", err
	}
	ignore, _ := json.Marshal(cfg.Ignore)

	rec := &metadata.DriveRecord{
		ID:             id,
		Name:           name,
		LocalPath:      localPath,
		BackendType:    string(cfg.Backend.Type),
		BackendSpec:    spec,
		ConflictPolicy: policy,
		IgnoreRules:    string(ignore),
		Enabled:        !cfg.Disabled,
	}
	if err := m.store.SaveDrive(ctx, rec); err != nil {
		if errors.Is(err, metadata.ErrDuplicateLocalPath) {
			return "", ErrDuplicatePath
		}
		return "", fmt.Errorf("persisting drive: %w", err)
	}

	d := &managedDrive{rec: rec, backend: backend}
	if rec.Enabled {
		if err := m.startMount(ctx, d); err != nil {
			m.store.DeleteDrive(ctx, id)
			return "", err
		}
	}

	m.mu.Lock()
	m.drives[id] = d
	m.mu.Unlock()

	m.publishDrive(rec.ID, m.health(d))
	logger.Info("drive added",
		logger.KeyDriveID, id,
		logger.KeyMount, localPath,
		logger.KeyBackend, rec.BackendType)
	return id, nil
}

// RemoveDrive stops the drive's mount, cancels its tasks, and deletes its
// metadata subtree. Removing an unknown drive is a no-op.
func (m *Manager) RemoveDrive(ctx context.Context, id string) error {
	m.mu.Lock()
	d, ok := m.drives[id]
	if ok {
		delete(m.drives, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	m.stopWatcher(d)
	if d.mnt != nil {
		d.mnt.Stop()
	}
	if m.queue != nil {
		m.queue.CancelByDrive(id)
	}

	// Metadata teardown proceeds best-effort; a failing store call leaves
	// orphaned rows that the next removal attempt clears.
	var errs []error
	if err := m.store.DeleteFilesByDrive(ctx, id); err != nil {
		errs = append(errs, err)
	}
	if err := m.store.DeleteTasksByDrive(ctx, id); err != nil {
		errs = append(errs, err)
	}
	if err := m.store.DeleteDrive(ctx, id); err != nil && !errors.Is(err, metadata.ErrDriveNotFound) {
		errs = append(errs, err)
	}

	m.publishDrive(id, "")
	logger.Info("drive removed", logger.KeyDriveID, id)
	return errors.Join(errs...)
}

// SetEnabled pauses or resumes a drive. Pausing stops new callback-driven
// work while keeping metadata; resuming re-enables it.
func (m *Manager) SetEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	d, ok := m.drives[id]
	m.mu.Unlock()
	if !ok {
		return ErrDriveNotFound
	}

	d.rec.Enabled = enabled
	if err := m.store.SaveDrive(ctx, d.rec); err != nil {
		return fmt.Errorf("persisting drive state: %w", err)
	}

	switch {
	case enabled && d.mnt == nil:
		if d.backend == nil {
			if err := m.connect(ctx, d); err != nil {
				return err
			}
		} else if err := m.startMount(ctx, d); err != nil {
			return err
		}
	case enabled:
		d.mnt.Resume()
		if d.watcher == nil {
			m.startWatcher(d)
		}
	case d.mnt != nil:
		m.stopWatcher(d)
		d.mnt.Pause()
	}

	m.publishDrive(id, m.health(d))
	return nil
}

// Mount returns the mount of an addressed drive.
func (m *Manager) Mount(id string) (*mount.Mount, error) {
	m.mu.RLock()
	d, ok := m.drives[id]
	m.mu.RUnlock()
	if !ok || d.mnt == nil {
		return nil, ErrDriveNotFound
	}
	return d.mnt, nil
}

// Dispatch implements bridge.Dispatcher: it forwards an OS callback to the
// addressed drive's mount.
func (m *Manager) Dispatch(cb bridge.Callback) (<-chan error, error) {
	mnt, err := m.Mount(cb.DriveID)
	if err != nil {
		return nil, err
	}
	return mnt.Dispatch(cb)
}

// Drives returns the status of every registered drive.
func (m *Manager) Drives() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.drives))
	for _, d := range m.drives {
		out = append(out, m.statusLocked(d))
	}
	return out
}

// Drive returns the status of one drive.
func (m *Manager) Drive(id string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drives[id]
	if !ok {
		return Status{}, ErrDriveNotFound
	}
	return m.statusLocked(d), nil
}

func (m *Manager) statusLocked(d *managedDrive) Status {
	s := Status{
		ID:        d.rec.ID,
		Name:      d.rec.Name,
		LocalPath: d.rec.LocalPath,
		Backend:   d.rec.BackendType,
		Enabled:   d.rec.Enabled,
		Health:    m.health(d),
	}
	if d.lastErr != nil {
		s.LastError = d.lastErr.Error()
	}
	if d.mnt != nil {
		for _, state := range d.mnt.Placeholders() {
			if state == placeholder.StateConflicted {
				s.Conflicts++
			}
		}
	}
	return s
}

// health derives a drive's condition; the most severe unresolved one wins.
func (m *Manager) health(d *managedDrive) Health {
	switch {
	case d.credExpired:
		return HealthCredentialExpired
	case d.lastErr != nil:
		return HealthError
	case !d.rec.Enabled, d.mnt == nil, d.mnt.Paused():
		return HealthPaused
	case m.busy(d.rec.ID):
		return HealthSyncing
	default:
		return HealthActive
	}
}

// Health aggregates the most severe condition across all drives.
func (m *Manager) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()

	overall := HealthActive
	for _, d := range m.drives {
		overall = MostSevere(overall, m.health(d))
	}
	return overall
}

func (m *Manager) busy(driveID string) bool {
	if m.queue == nil {
		return false
	}
	if len(m.queue.List(task.Filter{DriveID: driveID, Status: task.StatusRunning})) > 0 {
		return true
	}
	return len(m.queue.List(task.Filter{DriveID: driveID, Status: task.StatusPending})) > 0
}

// Shutdown stops every mount. Task queue shutdown is the caller's job so
// in-flight transfers can drain first.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	drives := make([]*managedDrive, 0, len(m.drives))
	for _, d := range m.drives {
		drives = append(drives, d)
	}
	m.mu.Unlock()

	if m.feedCancel != nil {
		m.feedCancel()
	}
	for _, d := range drives {
		m.stopWatcher(d)
		if d.mnt != nil {
			d.mnt.Stop()
		}
	}
	logger.Info("drive manager stopped", "drives", len(drives))
}

// onTaskEvent is the queue notifier: it persists the task record, feeds
// the event stream, and folds failures into drive health.
func (m *Manager) onTaskEvent(t task.Task) {
	m.persistTask(t)

	if m.feed != nil {
		m.feed.Publish(events.Event{
			Type:    events.TypeTask,
			DriveID: t.DriveID,
			TaskID:  t.ID,
			Path:    t.LocalPath,
			Status:  string(t.Status),
			Error:   t.Err,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drives[t.DriveID]
	if !ok {
		return
	}
	switch t.Status {
	case task.StatusFailed:
		d.lastErr = t.Error()
		if isCredentialError(d.lastErr) {
			d.credExpired = true
		}
	case task.StatusCompleted:
		d.lastErr = nil
		d.credExpired = false
	}

	if t.Status.Terminal() {
		metrics.RecordTask(m.metrics, string(t.Type), string(t.Status), t.UpdatedAt.Sub(t.CreatedAt))
		if t.ProcessedBytes > 0 {
			metrics.RecordBytes(m.metrics, d.rec.BackendType, transferDirection(t.Type), t.ProcessedBytes)
		}
		metrics.SetDriveHealth(m.metrics, t.DriveID, severityRank(m.health(d)))
	}
}

// transferDirection maps a task type to its dominant byte flow.
func transferDirection(typ task.Type) string {
	if typ == task.TypeDownload {
		return "download"
	}
	return "upload"
}

// persistTask mirrors a task snapshot into the store so unfinished work
// survives a restart.
func (m *Manager) persistTask(t task.Task) {
	meta, _ := json.Marshal(t.Metadata)
	rec := &metadata.TaskRecord{
		ID:             t.ID,
		DriveID:        t.DriveID,
		Type:           string(t.Type),
		Priority:       int(t.Priority),
		LocalPath:      t.LocalPath,
		TargetPath:     t.TargetPath,
		Status:         string(t.Status),
		Progress:       t.Progress,
		TotalBytes:     t.TotalBytes,
		ProcessedBytes: t.ProcessedBytes,
		SessionToken:   t.Metadata[metaSessionToken],
		Metadata:       string(meta),
		Error:          t.Err,
		CreatedAt:      t.CreatedAt,
	}
	if err := m.store.SaveTask(m.ctx, rec); err != nil {
		logger.Warn("task record write failed",
			logger.KeyTaskID, t.ID,
			logger.KeyError, err.Error())
	}
}

// resumeTasks re-submits persisted pending and running tasks. Their resume
// tokens let transfers continue without re-sending acknowledged chunks.
func (m *Manager) resumeTasks(ctx context.Context) error {
	recs, err := m.store.ListUnfinishedTasks(ctx)
	if err != nil {
		return fmt.Errorf("loading unfinished tasks: %w", err)
	}

	resumed := 0
	for _, rec := range recs {
		m.mu.RLock()
		d, known := m.drives[rec.DriveID]
		m.mu.RUnlock()
		if !known {
			m.store.DeleteTasksByDrive(ctx, rec.DriveID)
			continue
		}

		meta := make(map[string]string)
		if rec.Metadata != "" {
			json.Unmarshal([]byte(rec.Metadata), &meta)
		}
		if rec.SessionToken != "" {
			meta[metaSessionToken] = rec.SessionToken
		}

		t := &task.Task{
			ID:         rec.ID,
			DriveID:    rec.DriveID,
			Type:       task.Type(rec.Type),
			Priority:   task.Priority(rec.Priority),
			LocalPath:  rec.LocalPath,
			TargetPath: rec.TargetPath,
			Status:     task.StatusPending,
			TotalBytes: rec.TotalBytes,
			Metadata:   meta,
			CreatedAt:  rec.CreatedAt,
			UpdatedAt:  rec.UpdatedAt,
		}
		// The owning mount adopts the task so its completion moves the
		// path's placeholder state exactly as an uninterrupted run would.
		var done task.CompletionFunc
		if d.mnt != nil {
			done = d.mnt.AdoptResumedTask(t)
		}
		if _, err := m.queue.Submit(t, done); err != nil {
			logger.Warn("task resume failed",
				logger.KeyTaskID, rec.ID,
				logger.KeyError, err.Error())
			continue
		}
		resumed++
	}

	if resumed > 0 {
		logger.Info("resumed interrupted tasks", "count", resumed)
	}
	return nil
}

func (m *Manager) publishDrive(id string, health Health) {
	if m.feed == nil {
		return
	}
	m.feed.Publish(events.Event{
		Type:    events.TypeDrive,
		DriveID: id,
		Status:  string(health),
	})
}
