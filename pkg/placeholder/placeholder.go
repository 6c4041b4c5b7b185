// Package placeholder tracks per-path hydration state for a mounted drive.
//
// A placeholder is a locally visible file entry whose content may not be
// materialized on disk. Each path moves through a small state machine driven
// by hydration requests, task completions, local writes, and remote change
// notifications. The mount owns its state table; other components observe
// state only through mount commands.
package placeholder

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when an event is not legal in the
// current state.
var ErrInvalidTransition = errors.New("invalid placeholder transition")

// PropsKey is the key under which the current state is mirrored into the
// file record's props document, so state survives restarts.
const PropsKey = "placeholder_state"

// State is the hydration state of one synced path.
type State string

const (
	// StateDehydrated means the entry exists but its content is not on disk.
	StateDehydrated State = "dehydrated"

	// StateHydrating means a download task is materializing the content.
	StateHydrating State = "hydrating"

	// StateHydrated means local content matches the last synced remote tag.
	StateHydrated State = "hydrated"

	// StateDirtyLocal means local content changed and an upload is owed.
	StateDirtyLocal State = "dirty-local"

	// StateConflicted means local and remote diverged with no common
	// ancestor tag. Never resolved automatically.
	StateConflicted State = "conflicted"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateDehydrated, StateHydrating, StateHydrated, StateDirtyLocal, StateConflicted:
		return true
	default:
		return false
	}
}

// Event drives state transitions.
type Event string

const (
	// EventHydrationRequested fires when content is requested for a path.
	EventHydrationRequested Event = "hydration_requested"

	// EventDownloadCompleted fires when the download task finishes OK.
	EventDownloadCompleted Event = "download_completed"

	// EventDownloadFailed fires when the download task fails or is cancelled.
	EventDownloadFailed Event = "download_failed"

	// EventLocalWrite fires when a local write to the path is detected.
	EventLocalWrite Event = "local_write"

	// EventUploadCompleted fires when the upload task finishes OK.
	EventUploadCompleted Event = "upload_completed"

	// EventRemoteChange fires when the remote feed reports a new entity tag.
	EventRemoteChange Event = "remote_change"

	// EventResolvedKeepLocal resolves a conflict in favor of local content.
	EventResolvedKeepLocal Event = "resolved_keep_local"

	// EventResolvedKeepRemote resolves a conflict in favor of remote content.
	EventResolvedKeepRemote Event = "resolved_keep_remote"
)

type transitionKey struct {
	from  State
	event Event
}

// transitions is the fixed state machine. Anything absent is invalid.
var transitions = map[transitionKey]State{
	{StateDehydrated, EventHydrationRequested}: StateHydrating,

	{StateHydrating, EventDownloadCompleted}: StateHydrated,
	{StateHydrating, EventDownloadFailed}:    StateDehydrated,

	// Requesting hydration of a hydrated path is a no-op: callers resolve
	// immediately without submitting a task.
	{StateHydrated, EventHydrationRequested}: StateHydrated,
	{StateHydrated, EventLocalWrite}:         StateDirtyLocal,

	// A remote change invalidates hydrated content; the path reverts to
	// placeholder form until re-hydrated.
	{StateHydrated, EventRemoteChange}:   StateDehydrated,
	{StateDehydrated, EventRemoteChange}: StateDehydrated,

	{StateDirtyLocal, EventUploadCompleted}: StateHydrated,
	{StateDirtyLocal, EventLocalWrite}:      StateDirtyLocal,

	// Concurrent divergence: a remote change while local edits are
	// unsynced has no common ancestor tag.
	{StateDirtyLocal, EventRemoteChange}: StateConflicted,

	{StateConflicted, EventResolvedKeepLocal}:  StateDirtyLocal,
	{StateConflicted, EventResolvedKeepRemote}: StateDehydrated,
}

// Next returns the state after applying event to from.
// Returns ErrInvalidTransition when the event is not legal in from.
func Next(from State, event Event) (State, error) {
	to, ok := transitions[transitionKey{from, event}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, from)
	}
	return to, nil
}
