package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/bufpool"
	"github.com/driftsync/driftsync/pkg/mount"
	"github.com/driftsync/driftsync/pkg/task"
	"github.com/driftsync/driftsync/pkg/transfer"
)

// metaSessionToken carries a transfer session's resume token on the task,
// so an interrupted upload picks up where it left off after a restart.
const metaSessionToken = "session_token"

// metaSHA256 optionally carries the expected content digest for downloads.
const metaSHA256 = "sha256"

// Executors returns the fixed dispatch table for the shared task queue.
// Each executor resolves the task's drive to its backend at run time, so
// one queue serves every mounted drive.
func (m *Manager) Executors() task.ExecutorSet {
	return task.ExecutorSet{
		task.TypeUpload:   m.execUpload,
		task.TypeDownload: m.execDownload,
		task.TypeSync:     m.execSync,
		task.TypeDelete:   m.execDelete,
		task.TypeCopy:     m.execCopy,
		task.TypeMove:     m.execMove,
		task.TypeCustom:   m.execCustom,
	}
}

// managed resolves a drive for a running task.
func (m *Manager) managed(driveID string) (*managedDrive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drives[driveID]
	if !ok {
		return nil, ErrDriveNotFound
	}
	if d.backend == nil {
		return nil, fmt.Errorf("drive %s has no usable backend", driveID)
	}
	return d, nil
}

func (m *Manager) execUpload(ctx context.Context, t task.Task, report task.ProgressFunc) error {
	d, err := m.managed(t.DriveID)
	if err != nil {
		return err
	}

	local := filepath.Join(d.rec.LocalPath, filepath.FromSlash(t.LocalPath))
	var token []byte
	if s := t.Metadata[metaSessionToken]; s != "" {
		token = []byte(s)
	}

	up := transfer.NewUploader(d.backend, m.optsFor(d))
	sink := func(tok []byte) {
		m.queue.SetMetadata(t.ID, metaSessionToken, string(tok))
		m.persistSessionToken(t.ID, tok)
	}

	info, err := up.Upload(ctx, local, t.LocalPath, token, transfer.ProgressFunc(report), sink)
	if err != nil {
		return err
	}

	m.queue.SetMetadata(t.ID, mount.MetaETag, info.ETag)
	m.queue.SetMetadata(t.ID, mount.MetaRemotePath, info.Path)
	return nil
}

func (m *Manager) execDownload(ctx context.Context, t task.Task, report task.ProgressFunc) error {
	d, err := m.managed(t.DriveID)
	if err != nil {
		return err
	}

	local := filepath.Join(d.rec.LocalPath, filepath.FromSlash(t.LocalPath))
	dl := transfer.NewDownloader(d.backend, m.optsFor(d))
	if err := dl.Download(ctx, t.LocalPath, local, t.Metadata[metaSHA256], transfer.ProgressFunc(report)); err != nil {
		return err
	}

	if info, err := d.backend.Stat(ctx, t.LocalPath); err == nil {
		m.queue.SetMetadata(t.ID, mount.MetaETag, info.ETag)
		m.queue.SetMetadata(t.ID, mount.MetaRemotePath, info.Path)
	}
	return nil
}

// execSync reconciles one path in whichever direction has content: a local
// file uploads, a remote-only object downloads.
func (m *Manager) execSync(ctx context.Context, t task.Task, report task.ProgressFunc) error {
	d, err := m.managed(t.DriveID)
	if err != nil {
		return err
	}

	local := filepath.Join(d.rec.LocalPath, filepath.FromSlash(t.LocalPath))
	if _, err := os.Stat(local); err == nil {
		return m.execUpload(ctx, t, report)
	}

	if _, err := d.backend.Stat(ctx, t.LocalPath); err != nil {
		if errors.Is(err, transfer.ErrObjectNotFound) {
			// Nothing on either side; the record is stale.
			return nil
		}
		return err
	}
	return m.execDownload(ctx, t, report)
}

// execDelete propagates a local deletion to the remote. A missing remote
// object means the deletion already converged.
func (m *Manager) execDelete(ctx context.Context, t task.Task, _ task.ProgressFunc) error {
	d, err := m.managed(t.DriveID)
	if err != nil {
		return err
	}
	if err := d.backend.Delete(ctx, t.LocalPath); err != nil && !errors.Is(err, transfer.ErrObjectNotFound) {
		return err
	}
	return nil
}

// execCopy duplicates a path: the local file is copied chunk by chunk (the
// cancellation boundary), then the remote object follows if it exists.
func (m *Manager) execCopy(ctx context.Context, t task.Task, report task.ProgressFunc) error {
	d, err := m.managed(t.DriveID)
	if err != nil {
		return err
	}
	if t.TargetPath == "" {
		return errors.New("copy task has no target path")
	}

	src := filepath.Join(d.rec.LocalPath, filepath.FromSlash(t.LocalPath))
	dst := filepath.Join(d.rec.LocalPath, filepath.FromSlash(t.TargetPath))
	if err := copyFileChunked(ctx, src, dst, m.transferOpts.ChunkSize, report); err != nil {
		if os.IsNotExist(err) {
			logger.Debug("copy source not materialized locally",
				logger.KeyDriveID, t.DriveID, logger.KeyPath, t.LocalPath)
		} else {
			return err
		}
	}

	if err := d.backend.Copy(ctx, t.LocalPath, t.TargetPath); err != nil && !errors.Is(err, transfer.ErrObjectNotFound) {
		return err
	}
	return nil
}

// execMove renames the remote object. The local rename already happened in
// the filesystem; the mount fixes up metadata on completion.
func (m *Manager) execMove(ctx context.Context, t task.Task, _ task.ProgressFunc) error {
	d, err := m.managed(t.DriveID)
	if err != nil {
		return err
	}
	if t.TargetPath == "" {
		return errors.New("move task has no target path")
	}

	err = d.backend.Copy(ctx, t.LocalPath, t.TargetPath)
	if errors.Is(err, transfer.ErrObjectNotFound) {
		// Never uploaded; nothing to move remotely.
		return nil
	}
	if err != nil {
		return err
	}
	if err := d.backend.Delete(ctx, t.LocalPath); err != nil && !errors.Is(err, transfer.ErrObjectNotFound) {
		return err
	}
	return nil
}

func (m *Manager) execCustom(ctx context.Context, t task.Task, report task.ProgressFunc) error {
	if m.customExec == nil {
		return errors.New("no custom executor registered")
	}
	return m.customExec(ctx, t, report)
}

// persistSessionToken writes a resume token through to the task record
// immediately, not just on the next status transition, so a hard crash
// between chunks still finds it.
func (m *Manager) persistSessionToken(taskID string, token []byte) {
	rec, err := m.store.GetTask(m.ctx, taskID)
	if err != nil {
		return
	}
	rec.SessionToken = string(token)
	if err := m.store.SaveTask(m.ctx, rec); err != nil {
		logger.Debug("session token write failed",
			logger.KeyTaskID, taskID,
			logger.KeyError, err.Error())
	}
}

// copyFileChunked copies src to dst checking ctx between chunks.
func copyFileChunked(ctx context.Context, src, dst string, chunkSize int64, report task.ProgressFunc) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	if chunkSize <= 0 {
		chunkSize = 4 << 20
	}
	buf := bufpool.Get(int(chunkSize))
	defer bufpool.Put(buf)

	var copied int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.CopyBuffer(out, io.LimitReader(in, chunkSize), buf)
		copied += n
		if report != nil {
			report(copied, st.Size())
		}
		if err != nil {
			return err
		}
		if n < chunkSize {
			break
		}
	}
	return out.Sync()
}
