package drive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/bridge"
	"github.com/driftsync/driftsync/pkg/mount"
	"github.com/driftsync/driftsync/pkg/watcher"
)

// WatcherOptions enables local filesystem watching for mounted drives.
// Detected changes enter the engine through the callback bridge, the same
// path an OS filesystem driver would use.
type WatcherOptions struct {
	Enabled  bool
	Debounce time.Duration
	Bridge   *bridge.Bridge
}

// EnableWatchers turns on per-drive filesystem watching. Must be called
// before Start so restored drives get watchers too.
func (m *Manager) EnableWatchers(opts WatcherOptions) {
	m.watch = opts
}

// startWatcher begins watching a mounted drive's local root. Failures are
// logged, not fatal: the drive still syncs remote changes and API-driven
// operations without a watcher.
func (m *Manager) startWatcher(d *managedDrive) {
	if !m.watch.Enabled || m.watch.Bridge == nil {
		return
	}

	var ignore []string
	if d.rec.IgnoreRules != "" {
		if err := json.Unmarshal([]byte(d.rec.IgnoreRules), &ignore); err != nil {
			logger.Warn("bad ignore rules, watching everything",
				logger.KeyDriveID, d.rec.ID,
				logger.KeyError, err.Error())
		}
	}

	w, err := watcher.New(watcher.Config{
		Root:     d.rec.LocalPath,
		Debounce: m.watch.Debounce,
		Ignore:   ignore,
	}, &callbackNotifier{bridge: m.watch.Bridge, driveID: d.rec.ID})
	if err == nil {
		err = w.Start()
	}
	if err != nil {
		logger.Warn("drive watcher unavailable",
			logger.KeyDriveID, d.rec.ID,
			logger.KeyError, err.Error())
		return
	}
	d.watcher = w
}

func (m *Manager) stopWatcher(d *managedDrive) {
	if d.watcher != nil {
		d.watcher.Stop()
		d.watcher = nil
	}
}

// callbackNotifier feeds watcher events through the bridge so they take the
// same entry path as filesystem driver callbacks.
type callbackNotifier struct {
	bridge  *bridge.Bridge
	driveID string
}

func (n *callbackNotifier) NotifyLocalChange(path string, kind mount.ChangeKind) (<-chan error, error) {
	cb := bridge.Callback{
		DriveID: n.driveID,
		Path:    path,
		Kind:    bridge.KindLocalWrite,
	}
	if kind == mount.ChangeDeleted {
		cb.Kind = bridge.KindDelete
	}

	done := make(chan error, 1)
	go func() {
		done <- n.bridge.Invoke(context.Background(), cb)
	}()
	return done, nil
}
