// Package bridge converts synchronous OS callback invocations into requests
// against the async engine.
//
// Filesystem callbacks (open, range request, rename, delete, local write)
// arrive on OS threads that expect a bounded, synchronous answer. The bridge
// dispatches each callback to the addressed mount and blocks the calling
// goroutine until the operation resolves or the callback deadline elapses.
// This is the only component allowed to block a caller on engine results;
// everything else communicates over channels.
package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/driftsync/driftsync/internal/logger"
)

// ErrTimeout is returned when the callback deadline elapses before the
// operation resolves. The underlying task keeps running; its result updates
// placeholder state for the next access. The OS layer is expected to retry.
var ErrTimeout = errors.New("callback deadline exceeded")

// DefaultDeadline bounds callbacks that carry no explicit deadline.
const DefaultDeadline = 30 * time.Second

// Kind identifies the filesystem event that produced a callback.
type Kind string

const (
	// KindOpen is a file-open that requires hydrated content.
	KindOpen Kind = "open"

	// KindRange is a byte-range request against a placeholder.
	KindRange Kind = "range"

	// KindLocalWrite is a detected write to local content.
	KindLocalWrite Kind = "local_write"

	// KindRename is a local rename/move.
	KindRename Kind = "rename"

	// KindDelete is a local deletion.
	KindDelete Kind = "delete"
)

// Callback is one inbound OS event.
type Callback struct {
	DriveID string
	Path    string
	Kind    Kind

	// TargetPath is the rename destination, empty otherwise.
	TargetPath string

	// Deadline overrides the bridge default when positive.
	Deadline time.Duration
}

// Dispatcher routes a callback to its mount and returns a result channel
// that receives exactly one value when the operation reaches a terminal
// state. Routing failures (unknown drive, paused mount) are returned
// synchronously.
type Dispatcher interface {
	Dispatch(cb Callback) (<-chan error, error)
}

// Bridge blocks OS callers on engine results, bounded by a deadline.
type Bridge struct {
	dispatcher Dispatcher
	clock      clockwork.Clock
	deadline   time.Duration
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithClock substitutes the wall clock, used by tests.
func WithClock(c clockwork.Clock) Option {
	return func(b *Bridge) { b.clock = c }
}

// WithDeadline sets the default callback deadline.
func WithDeadline(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.deadline = d
		}
	}
}

// New creates a bridge over the given dispatcher.
func New(d Dispatcher, opts ...Option) *Bridge {
	b := &Bridge{
		dispatcher: d,
		clock:      clockwork.NewRealClock(),
		deadline:   DefaultDeadline,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Invoke dispatches cb and blocks until the operation resolves, the
// deadline elapses, or ctx is cancelled. On expiry it returns ErrTimeout
// and abandons the result channel; the operation continues in the engine.
func (b *Bridge) Invoke(ctx context.Context, cb Callback) error {
	deadline := cb.Deadline
	if deadline <= 0 {
		deadline = b.deadline
	}

	start := time.Now()
	result, err := b.dispatcher.Dispatch(cb)
	if err != nil {
		return err
	}

	timer := b.clock.NewTimer(deadline)
	defer timer.Stop()

	select {
	case err := <-result:
		logger.Debug("callback resolved",
			logger.KeyDriveID, cb.DriveID,
			logger.KeyPath, cb.Path,
			"kind", string(cb.Kind),
			logger.KeyDurationMs, logger.Duration(start))
		return err
	case <-timer.Chan():
		logger.Warn("callback deadline exceeded, operation continues",
			logger.KeyDriveID, cb.DriveID,
			logger.KeyPath, cb.Path,
			"kind", string(cb.Kind),
			logger.KeyDeadline, deadline.String())
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
