// Package events is the push-style status feed consumed by the command
// surface. Task and drive status changes are published here; subscribers
// receive them over buffered channels.
//
// Ordering is guaranteed per task: events for the same task arrive in
// status-transition order. Ordering across distinct event types is not
// guaranteed. A subscriber that falls behind loses the newest events rather
// than blocking publishers.
package events

import (
	"sync"
	"time"

	"github.com/driftsync/driftsync/internal/logger"
)

// Type classifies an event.
type Type string

const (
	// TypeTask is a task status transition.
	TypeTask Type = "task"

	// TypeDrive is a drive health or lifecycle change.
	TypeDrive Type = "drive"

	// TypeConflict is a path entering the conflicted state.
	TypeConflict Type = "conflict"
)

// Event is one feed entry. Zero-valued fields are absent.
type Event struct {
	Type    Type      `json:"type"`
	Time    time.Time `json:"time"`
	DriveID string    `json:"drive_id,omitempty"`
	TaskID  string    `json:"task_id,omitempty"`
	Path    string    `json:"path,omitempty"`

	// Status carries the task status or drive health, depending on Type.
	Status string `json:"status,omitempty"`

	Error string `json:"error,omitempty"`
}

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Feed fan-outs published events to all current subscribers.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

// NewFeed creates a feed with per-subscriber buffer capacity. A capacity
// of 0 uses DefaultBuffer.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Feed{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Event, f.buffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber. Delivery never blocks: when a
// subscriber's buffer is full the event is dropped for that subscriber.
func (f *Feed) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for id, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			logger.Warn("event dropped for slow subscriber",
				"subscriber", id,
				"event_type", string(ev.Type),
				logger.KeyTaskID, ev.TaskID)
		}
	}
}

// Close shuts the feed down and closes all subscriber channels.
// Publish after Close is a no-op.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
