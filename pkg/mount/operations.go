package mount

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	gopath "path"
	"path/filepath"
	"strings"
	"time"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/bridge"
	"github.com/driftsync/driftsync/pkg/metadata"
	"github.com/driftsync/driftsync/pkg/placeholder"
	"github.com/driftsync/driftsync/pkg/task"
)

// ErrCancelled is resolved to waiters whose underlying task was cancelled.
var ErrCancelled = errors.New("operation cancelled")

// MetaETag and MetaRemotePath are task metadata keys written by transfer
// executors and read back by the mount on completion.
const (
	MetaETag       = "etag"
	MetaRemotePath = "remote_path"
)

// Dispatch implements bridge.Dispatcher by mapping OS callback kinds onto
// mount operations.
func (m *Mount) Dispatch(cb bridge.Callback) (<-chan error, error) {
	switch cb.Kind {
	case bridge.KindOpen, bridge.KindRange:
		return m.RequestHydration(cb.Path)
	case bridge.KindLocalWrite:
		return m.NotifyLocalChange(cb.Path, ChangeModified)
	case bridge.KindDelete:
		return m.NotifyLocalChange(cb.Path, ChangeDeleted)
	case bridge.KindRename:
		return m.Rename(cb.Path, cb.TargetPath)
	default:
		return nil, fmt.Errorf("unknown callback kind %q", cb.Kind)
	}
}

// RequestHydration materializes path's content. The returned channel
// receives exactly one value: nil once the content is local, or the error
// that prevented it. An already-hydrated path resolves immediately without
// submitting a task; concurrent requests for the same path share one
// download.
func (m *Mount) RequestHydration(path string) (<-chan error, error) {
	if err := m.checkAccepting(); err != nil {
		return nil, err
	}
	result := make(chan error, 1)
	if err := m.enqueue(func() { m.hydrate(path, task.PriorityHigh, "", result) }); err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Mount) hydrate(path string, priority task.Priority, etag string, result chan error) {
	switch m.table.Get(path) {
	case placeholder.StateHydrated, placeholder.StateDirtyLocal:
		// Content is already local.
		result <- nil
	case placeholder.StateConflicted:
		result <- ErrConflict
	case placeholder.StateHydrating:
		op := m.inFlight[path]
		op.waiters = append(op.waiters, result)
	default:
		m.startHydration(path, priority, etag, result)
	}
}

// startHydration transitions path to hydrating and submits the download.
// Runs on the command loop; path is known not to be in flight.
func (m *Mount) startHydration(path string, priority task.Priority, etag string, result chan error) {
	if _, err := m.table.Apply(path, placeholder.EventHydrationRequested); err != nil {
		result <- err
		return
	}

	t := task.New(m.cfg.DriveID, task.TypeDownload, priority, path)
	if etag != "" {
		t.Metadata[MetaETag] = etag
	}

	id, err := m.tasks.Submit(t, func(id string, status task.Status, terr error) {
		qerr := m.enqueue(func() { m.finishHydration(path, id, status, terr) })
		if qerr != nil {
			logger.Debug("hydration completion dropped, mount stopped",
				logger.KeyDriveID, m.cfg.DriveID, logger.KeyPath, path)
		}
	})
	if err != nil {
		m.table.Set(path, placeholder.StateDehydrated)
		result <- err
		return
	}

	m.inFlight[path] = &hydrationOp{taskID: id, waiters: []chan error{result}}
	if perr := m.persistState(path); perr != nil {
		logger.Warn("hydrating state not persisted, download continues",
			logger.KeyDriveID, m.cfg.DriveID,
			logger.KeyPath, path,
			logger.KeyError, perr.Error())
	}
	logger.Debug("hydration started",
		logger.KeyDriveID, m.cfg.DriveID,
		logger.KeyPath, path,
		logger.KeyTaskID, id,
		logger.KeyPriority, priority.String())
}

func (m *Mount) finishHydration(path, taskID string, status task.Status, terr error) {
	op, ok := m.inFlight[path]
	if !ok || op.taskID != taskID {
		return
	}
	delete(m.inFlight, path)

	var result error
	switch status {
	case task.StatusCompleted:
		if _, err := m.table.Apply(path, placeholder.EventDownloadCompleted); err != nil {
			// A local write raced the download; the path stays dirty and
			// the pending upload reconciles it.
			logger.Debug("download completed on dirty path",
				logger.KeyDriveID, m.cfg.DriveID, logger.KeyPath, path)
		}
		m.recordSynced(path, taskID)
	case task.StatusCancelled:
		result = ErrCancelled
		m.table.Apply(path, placeholder.EventDownloadFailed)
		m.persistState(path)
	default:
		result = terr
		if result == nil {
			result = errors.New("download failed")
		}
		m.table.Apply(path, placeholder.EventDownloadFailed)
		m.persistState(path)
	}

	for _, w := range op.waiters {
		w <- result
	}
}

// AdoptResumedTask rebinds a restored task's completion handling to this
// mount, so a transfer resumed after a restart moves placeholder state the
// same way an uninterrupted one would. It returns the completion callback
// the task must be resubmitted with; nil means the task type has no
// placeholder side effects to reconcile.
func (m *Mount) AdoptResumedTask(t *task.Task) task.CompletionFunc {
	path := t.LocalPath
	switch t.Type {
	case task.TypeDownload:
		taskID := t.ID
		if err := m.enqueue(func() { m.adoptHydration(path, taskID) }); err != nil {
			return nil
		}
		return func(id string, status task.Status, terr error) {
			m.enqueue(func() { m.finishHydration(path, id, status, terr) })
		}
	case task.TypeUpload, task.TypeSync:
		return func(id string, status task.Status, terr error) {
			m.enqueue(func() { m.finishUpload(path, id, status, terr, make(chan error, 1)) })
		}
	case task.TypeDelete:
		return func(id string, status task.Status, terr error) {
			m.enqueue(func() { m.finishDelete(path, status, terr, make(chan error, 1)) })
		}
	case task.TypeMove:
		newPath := t.TargetPath
		return func(id string, status task.Status, terr error) {
			m.enqueue(func() {
				m.finishRename(path, newPath, m.table.Get(path), status, terr, make(chan error, 1))
			})
		}
	case task.TypeCopy:
		copyPath := t.TargetPath
		return func(id string, status task.Status, terr error) {
			m.enqueue(func() { m.finishKeepBoth(path, copyPath, status, terr, make(chan error, 1)) })
		}
	default:
		return nil
	}
}

// adoptHydration re-registers a restored download as in flight, so its
// completion and any new hydration requests converge on one operation.
func (m *Mount) adoptHydration(path, taskID string) {
	if _, ok := m.inFlight[path]; ok {
		return
	}
	m.table.Set(path, placeholder.StateHydrating)
	m.inFlight[path] = &hydrationOp{taskID: taskID}
	m.persistState(path)
}

// NotifyLocalChange reacts to a detected local filesystem change: the path
// is marked dirty and an upload (or delete) task is submitted at normal
// priority. The returned channel resolves when that task reaches a
// terminal state.
func (m *Mount) NotifyLocalChange(path string, kind ChangeKind) (<-chan error, error) {
	if err := m.checkAccepting(); err != nil {
		return nil, err
	}
	result := make(chan error, 1)
	if err := m.enqueue(func() { m.localChange(path, kind, result) }); err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Mount) localChange(path string, kind ChangeKind, result chan error) {
	if m.table.Get(path) == placeholder.StateConflicted {
		result <- ErrConflict
		return
	}

	if kind == ChangeDeleted {
		t := task.New(m.cfg.DriveID, task.TypeDelete, task.PriorityNormal, path)
		_, err := m.tasks.Submit(t, func(id string, status task.Status, terr error) {
			m.enqueue(func() { m.finishDelete(path, status, terr, result) })
		})
		if err != nil {
			result <- err
		}
		return
	}

	if _, err := m.table.Apply(path, placeholder.EventLocalWrite); err != nil {
		// Newly created or mid-hydration path: the local write wins.
		m.table.Set(path, placeholder.StateDirtyLocal)
	}
	if err := m.persistState(path); err != nil {
		result <- err
		return
	}

	t := task.New(m.cfg.DriveID, task.TypeUpload, task.PriorityNormal, path)
	_, err := m.tasks.Submit(t, func(id string, status task.Status, terr error) {
		m.enqueue(func() { m.finishUpload(path, id, status, terr, result) })
	})
	if err != nil {
		result <- err
	}
}

func (m *Mount) finishUpload(path, taskID string, status task.Status, terr error, result chan error) {
	switch status {
	case task.StatusCompleted:
		if _, err := m.table.Apply(path, placeholder.EventUploadCompleted); err != nil {
			// Conflicted while uploading; resolution owns the next step.
			result <- nil
			return
		}
		m.recordSynced(path, taskID)
		result <- nil
	case task.StatusCancelled:
		result <- ErrCancelled
	default:
		if terr == nil {
			terr = errors.New("upload failed")
		}
		result <- terr
	}
}

func (m *Mount) finishDelete(path string, status task.Status, terr error, result chan error) {
	switch status {
	case task.StatusCompleted:
		if err := m.store.DeleteFile(m.ctx, m.cfg.DriveID, path); err != nil &&
			!errors.Is(err, metadata.ErrFileNotFound) {
			result <- err
			return
		}
		m.table.Delete(path)
		result <- nil
	case task.StatusCancelled:
		result <- ErrCancelled
	default:
		if terr == nil {
			terr = errors.New("delete failed")
		}
		result <- terr
	}
}

// ApplyRemoteChange reconciles one entry from the remote-event feed. A
// changed entity tag on a clean path schedules a re-sync; on a dirty path
// it marks the path conflicted. The returned channel resolves when the
// reconciliation (including any submitted task) finishes.
func (m *Mount) ApplyRemoteChange(rc RemoteChange) (<-chan error, error) {
	if err := m.checkAccepting(); err != nil {
		return nil, err
	}
	result := make(chan error, 1)
	if err := m.enqueue(func() { m.remoteChange(rc, result) }); err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Mount) remoteChange(rc RemoteChange, result chan error) {
	state := m.table.Get(rc.Path)

	if rc.Deleted {
		m.remoteDelete(rc.Path, state, result)
		return
	}

	rec, err := m.store.GetFile(m.ctx, m.cfg.DriveID, rc.Path)
	if err != nil && !errors.Is(err, metadata.ErrFileNotFound) {
		// Metadata store unavailable: fail this reconciliation loudly; the
		// feed redelivers on its next trigger.
		result <- err
		return
	}
	if rec != nil && rec.ETag == rc.ETag {
		result <- nil
		return
	}

	switch state {
	case placeholder.StateDirtyLocal:
		m.table.Apply(rc.Path, placeholder.EventRemoteChange)
		m.persistState(rc.Path)
		m.publishConflict(rc.Path)
		logger.Warn("conflict detected",
			logger.KeyDriveID, m.cfg.DriveID,
			logger.KeyPath, rc.Path,
			logger.KeyETag, rc.ETag)
		if m.cfg.ConflictPolicy != ConflictPolicyManual {
			m.resolve(rc.Path, Decision(m.cfg.ConflictPolicy), result)
			return
		}
		result <- ErrConflict
	case placeholder.StateConflicted:
		result <- ErrConflict
	case placeholder.StateHydrated:
		// Local content is stale; invalidate and re-sync now.
		m.table.Apply(rc.Path, placeholder.EventRemoteChange)
		m.startHydration(rc.Path, task.PriorityNormal, rc.ETag, result)
	case placeholder.StateHydrating:
		// The in-flight download may carry the previous version; record
		// the new tag so the next reconciliation pass catches up.
		m.upsertRemoteStub(rc)
		logger.Debug("remote change during hydration",
			logger.KeyDriveID, m.cfg.DriveID,
			logger.KeyPath, rc.Path,
			logger.KeyETag, rc.ETag)
		result <- nil
	default: // dehydrated
		if err := m.upsertRemoteStub(rc); err != nil {
			result <- err
			return
		}
		result <- nil
	}
}

func (m *Mount) remoteDelete(path string, state placeholder.State, result chan error) {
	switch state {
	case placeholder.StateDirtyLocal:
		m.table.Apply(path, placeholder.EventRemoteChange)
		m.persistState(path)
		m.publishConflict(path)
		if m.cfg.ConflictPolicy != ConflictPolicyManual {
			m.resolve(path, Decision(m.cfg.ConflictPolicy), result)
			return
		}
		result <- ErrConflict
	case placeholder.StateConflicted:
		result <- ErrConflict
	default:
		if err := m.store.DeleteFile(m.ctx, m.cfg.DriveID, path); err != nil &&
			!errors.Is(err, metadata.ErrFileNotFound) {
			result <- err
			return
		}
		m.table.Delete(path)
		result <- nil
	}
}

// upsertRemoteStub records a remote tag for a path whose content is not
// materialized locally.
func (m *Mount) upsertRemoteStub(rc RemoteChange) error {
	state := m.table.Get(rc.Path)
	rec := &metadata.FileRecord{
		DriveID:   m.cfg.DriveID,
		LocalPath: rc.Path,
		ETag:      rc.ETag,
		Size:      rc.Size,
		IsFolder:  rc.IsFolder,
		Shared:    rc.Shared,
		State:     string(state),
		Props:     propsDoc(state),
	}
	if len(rc.Metadata) > 0 {
		doc, _ := json.Marshal(rc.Metadata)
		rec.Metadata = string(doc)
	}
	return m.store.UpsertFile(m.ctx, rec)
}

// ResolveConflict applies an external resolution decision to a conflicted
// path. The returned channel resolves when the decision (including any
// submitted task) takes effect.
func (m *Mount) ResolveConflict(path string, decision Decision) (<-chan error, error) {
	if err := m.checkAccepting(); err != nil {
		return nil, err
	}
	result := make(chan error, 1)
	if err := m.enqueue(func() { m.resolve(path, decision, result) }); err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Mount) resolve(path string, decision Decision, result chan error) {
	if m.table.Get(path) != placeholder.StateConflicted {
		result <- ErrNotConflicted
		return
	}

	logger.Info("resolving conflict",
		logger.KeyDriveID, m.cfg.DriveID,
		logger.KeyPath, path,
		"decision", string(decision))

	switch decision {
	case DecisionKeepLocal:
		m.table.Apply(path, placeholder.EventResolvedKeepLocal)
		if err := m.persistState(path); err != nil {
			result <- err
			return
		}
		t := task.New(m.cfg.DriveID, task.TypeUpload, task.PriorityNormal, path)
		_, err := m.tasks.Submit(t, func(id string, status task.Status, terr error) {
			m.enqueue(func() { m.finishUpload(path, id, status, terr, result) })
		})
		if err != nil {
			result <- err
		}
	case DecisionKeepRemote:
		m.table.Apply(path, placeholder.EventResolvedKeepRemote)
		if err := m.persistState(path); err != nil {
			result <- err
			return
		}
		// Content re-hydrates on next access.
		result <- nil
	case DecisionKeepBoth:
		// Preserve the local edits under a conflict-copy name, then keep
		// the remote version at the original path.
		copyPath := conflictCopyPath(path)
		t := task.New(m.cfg.DriveID, task.TypeCopy, task.PriorityNormal, path)
		t.TargetPath = copyPath
		_, err := m.tasks.Submit(t, func(id string, status task.Status, terr error) {
			m.enqueue(func() { m.finishKeepBoth(path, copyPath, status, terr, result) })
		})
		if err != nil {
			result <- err
		}
	default:
		result <- fmt.Errorf("unknown conflict decision %q", decision)
	}
}

func (m *Mount) finishKeepBoth(path, copyPath string, status task.Status, terr error, result chan error) {
	if status != task.StatusCompleted {
		if terr == nil {
			terr = ErrCancelled
		}
		result <- terr
		return
	}

	// The copy carries the local edits; upload it like any dirty path.
	m.table.Set(copyPath, placeholder.StateDirtyLocal)
	m.persistState(copyPath)
	t := task.New(m.cfg.DriveID, task.TypeUpload, task.PriorityNormal, copyPath)
	m.tasks.Submit(t, func(id string, status task.Status, terr error) {
		m.enqueue(func() {
			m.finishUpload(copyPath, id, status, terr, make(chan error, 1))
		})
	})

	// The original reverts to the remote version.
	m.table.Apply(path, placeholder.EventResolvedKeepRemote)
	if err := m.persistState(path); err != nil {
		result <- err
		return
	}
	result <- nil
}

// Rename reflects a local rename into the engine: a move task propagates
// the rename remotely and the metadata record follows on completion.
func (m *Mount) Rename(oldPath, newPath string) (<-chan error, error) {
	if err := m.checkAccepting(); err != nil {
		return nil, err
	}
	result := make(chan error, 1)
	err := m.enqueue(func() { m.rename(oldPath, newPath, result) })
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Mount) rename(oldPath, newPath string, result chan error) {
	state := m.table.Get(oldPath)
	if state == placeholder.StateConflicted {
		result <- ErrConflict
		return
	}

	t := task.New(m.cfg.DriveID, task.TypeMove, task.PriorityNormal, oldPath)
	t.TargetPath = newPath
	_, err := m.tasks.Submit(t, func(id string, status task.Status, terr error) {
		m.enqueue(func() { m.finishRename(oldPath, newPath, state, status, terr, result) })
	})
	if err != nil {
		result <- err
	}
}

func (m *Mount) finishRename(oldPath, newPath string, state placeholder.State, status task.Status, terr error, result chan error) {
	if status != task.StatusCompleted {
		if terr == nil {
			terr = ErrCancelled
		}
		result <- terr
		return
	}

	rec, err := m.store.GetFile(m.ctx, m.cfg.DriveID, oldPath)
	if err != nil && !errors.Is(err, metadata.ErrFileNotFound) {
		result <- err
		return
	}
	if rec != nil {
		moved := *rec
		moved.ID = 0
		moved.LocalPath = newPath
		if err := m.store.UpsertFile(m.ctx, &moved); err != nil {
			result <- err
			return
		}
		if err := m.store.DeleteFile(m.ctx, m.cfg.DriveID, oldPath); err != nil &&
			!errors.Is(err, metadata.ErrFileNotFound) {
			result <- err
			return
		}
	}
	m.table.Set(newPath, state)
	m.table.Delete(oldPath)
	result <- nil
}

// recordSynced updates path's record after a successful transfer, copying
// the entity tag and size the executor reported on the task. Attributes
// the transfer does not touch (folder flag, shared flag, metadata map)
// carry over from the existing record.
func (m *Mount) recordSynced(path, taskID string) {
	state := m.table.Get(path)
	rec, err := m.store.GetFile(m.ctx, m.cfg.DriveID, path)
	if err != nil {
		rec = &metadata.FileRecord{DriveID: m.cfg.DriveID, LocalPath: path}
	}
	rec.State = string(state)
	rec.Props = propsDoc(state)
	if snapshot, err := m.tasks.Get(taskID); err == nil {
		rec.ETag = snapshot.Metadata[MetaETag]
		rec.RemotePath = snapshot.Metadata[MetaRemotePath]
		rec.Size = snapshot.TotalBytes
	}
	if st, err := os.Stat(filepath.Join(m.cfg.LocalRoot, path)); err == nil {
		rec.IsFolder = st.IsDir()
		rec.Mode = uint32(st.Mode().Perm())
	}
	now := time.Now()
	rec.SyncedAt = &now
	if err := m.store.UpsertFile(m.ctx, rec); err != nil {
		logger.Error("synced record write failed",
			logger.KeyDriveID, m.cfg.DriveID,
			logger.KeyPath, path,
			logger.KeyError, err.Error())
	}
}

// conflictCopyPath derives the conflict-copy name for path, inserting the
// marker before the extension.
func conflictCopyPath(path string) string {
	ext := gopath.Ext(path)
	return strings.TrimSuffix(path, ext) + " (conflicted copy)" + ext
}
