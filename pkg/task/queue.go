package task

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/driftsync/driftsync/internal/logger"
)

// DefaultWorkers is the default number of concurrent workers.
const DefaultWorkers = 4

// DefaultCompletedBuffer is the default capacity of the terminal-task buffer.
const DefaultCompletedBuffer = 100

// DefaultStopGrace is the default grace period for StopAll.
const DefaultStopGrace = 10 * time.Second

// Config holds queue configuration.
type Config struct {
	// Workers is the maximum number of concurrently running tasks.
	Workers int

	// CompletedBuffer is the capacity of the completed-task buffer.
	// The oldest terminal record is evicted first on overflow.
	CompletedBuffer int

	// StopGrace is how long StopAll waits for running tasks to finish
	// before abandoning them.
	StopGrace time.Duration
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		Workers:         DefaultWorkers,
		CompletedBuffer: DefaultCompletedBuffer,
		StopGrace:       DefaultStopGrace,
	}
}

// Notifier receives a snapshot of a task on every status transition.
// Used to push task events to the status feed. Must not block.
type Notifier func(t Task)

// Stats is a point-in-time view of queue state, computed on demand from the
// pending heap, running set, and completed buffer.
type Stats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	Workers        int `json:"workers"`
	BufferCapacity int `json:"buffer_capacity"`
}

// pendingItem is a heap entry. The insertion sequence number is part of the
// ordering key so equal-priority tasks dequeue in strict submission order.
type pendingItem struct {
	task  *Task
	seq   uint64
	index int
	done  CompletionFunc
}

type pendingHeap []*pendingItem

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pendingHeap) Push(x any) {
	item := x.(*pendingItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// runningTask tracks a claimed task and its cancellation signal.
type runningTask struct {
	task   *Task
	cancel context.CancelFunc
	done   CompletionFunc
}

// Queue is the shared priority task queue. All mounts submit work here; a
// bounded worker pool claims tasks in (priority, submission order).
type Queue struct {
	mu        sync.Mutex
	cfg       Config
	executors ExecutorSet
	notifier  Notifier

	pending   pendingHeap
	byID      map[string]*pendingItem
	running   map[string]*runningTask
	completed []*Task
	seq       uint64

	wake    chan struct{}
	stopCh  chan struct{}
	closed  bool
	started bool

	dispatcherWG sync.WaitGroup
	runWG        sync.WaitGroup
}

// NewQueue creates a queue with the given executor table.
func NewQueue(executors ExecutorSet, cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.CompletedBuffer <= 0 {
		cfg.CompletedBuffer = DefaultCompletedBuffer
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}

	return &Queue{
		cfg:       cfg,
		executors: executors,
		byID:      make(map[string]*pendingItem),
		running:   make(map[string]*runningTask),
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// SetNotifier installs the status-transition notifier.
// Must be called before Start.
func (q *Queue) SetNotifier(n Notifier) {
	q.mu.Lock()
	q.notifier = n
	q.mu.Unlock()
}

// Start launches the dispatcher. Safe to call once.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.started || q.closed {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	logger.Info("task queue started", "workers", q.cfg.Workers, "buffer", q.cfg.CompletedBuffer)

	q.dispatcherWG.Add(1)
	go q.dispatch()
}

// Submit enqueues a task. The optional done callback fires exactly once when
// the task reaches a terminal state. Returns the task id.
func (q *Queue) Submit(t *Task, done CompletionFunc) (string, error) {
	if _, ok := q.executors[t.Type]; !ok {
		return "", ErrUnknownType
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}

	t.Status = StatusPending
	t.UpdatedAt = time.Now()

	q.seq++
	item := &pendingItem{task: t, seq: q.seq, done: done}
	heap.Push(&q.pending, item)
	q.byID[t.ID] = item
	snapshot := t.Clone()
	q.mu.Unlock()

	logger.Debug("task submitted",
		logger.KeyTaskID, t.ID,
		logger.KeyTaskType, string(t.Type),
		logger.KeyPriority, t.Priority.String(),
		logger.KeyPath, t.LocalPath)

	q.notify(snapshot)
	q.wakeDispatcher()
	return t.ID, nil
}

// Cancel cancels a task. A pending task is removed without execution and
// marked cancelled. A running task receives a cooperative cancellation
// signal; the worker observes it within one chunk interval.
// Returns ErrTaskNotFound for unknown or already-terminal tasks.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()

	if item, ok := q.byID[id]; ok {
		heap.Remove(&q.pending, item.index)
		delete(q.byID, id)
		q.finalizeLocked(item.task, StatusCancelled, nil, item.done)
		q.mu.Unlock()
		return nil
	}

	if rt, ok := q.running[id]; ok {
		rt.cancel()
		q.mu.Unlock()
		return nil
	}

	q.mu.Unlock()
	return ErrTaskNotFound
}

// CancelByDrive cancels every pending and running task belonging to a drive.
// Returns the number of tasks that were signalled or removed.
func (q *Queue) CancelByDrive(driveID string) int {
	q.mu.Lock()

	var pendingIDs []string
	for id, item := range q.byID {
		if item.task.DriveID == driveID {
			pendingIDs = append(pendingIDs, id)
		}
	}
	for _, id := range pendingIDs {
		item := q.byID[id]
		heap.Remove(&q.pending, item.index)
		delete(q.byID, id)
		q.finalizeLocked(item.task, StatusCancelled, nil, item.done)
	}

	count := len(pendingIDs)
	for _, rt := range q.running {
		if rt.task.DriveID == driveID {
			rt.cancel()
			count++
		}
	}
	q.mu.Unlock()

	if count > 0 {
		logger.Info("cancelled drive tasks", logger.KeyDriveID, driveID, "count", count)
	}
	return count
}

// StopAll cancels every pending task and signals cancellation to every
// running task, then waits until all tasks reach a terminal state or the
// grace period elapses. Workers still running after the grace deadline are
// abandoned; their resources are reclaimed on process restart.
func (q *Queue) StopAll() {
	q.mu.Lock()
	for len(q.pending) > 0 {
		item := heap.Pop(&q.pending).(*pendingItem)
		delete(q.byID, item.task.ID)
		q.finalizeLocked(item.task, StatusCancelled, nil, item.done)
	}
	for _, rt := range q.running {
		rt.cancel()
	}
	grace := q.cfg.StopGrace
	q.mu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		q.runWG.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(grace):
		logger.Warn("grace period elapsed, abandoning workers", "running", q.Stats().Running)
	}
}

// Close stops accepting tasks, cancels all work, and stops the dispatcher.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	started := q.started
	q.mu.Unlock()

	q.StopAll()
	close(q.stopCh)
	if started {
		q.dispatcherWG.Wait()
	}
	logger.Info("task queue stopped")
}

// Reconfigure updates the worker limit and completed-buffer capacity.
// Changes apply to subsequently scheduled tasks only: shrinking the worker
// count never preempts running tasks, it just reduces future claims.
func (q *Queue) Reconfigure(workers, bufferCap int) {
	q.mu.Lock()
	if workers > 0 {
		q.cfg.Workers = workers
	}
	if bufferCap > 0 {
		q.cfg.CompletedBuffer = bufferCap
		q.evictLocked()
	}
	q.mu.Unlock()

	logger.Info("task queue reconfigured", "workers", workers, "buffer", bufferCap)
	q.wakeDispatcher()
}

// SetMetadata records a metadata key on a pending or running task. Transfer
// executors use it to attach results (entity tag, session token) that later
// snapshots and completion handlers read back.
func (q *Queue) SetMetadata(id, key, value string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var t *Task
	if item, ok := q.byID[id]; ok {
		t = item.task
	} else if rt, ok := q.running[id]; ok {
		t = rt.task
	} else {
		return ErrTaskNotFound
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
	t.UpdatedAt = time.Now()
	return nil
}

// Get returns a snapshot of the task with the given id.
func (q *Queue) Get(id string) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item, ok := q.byID[id]; ok {
		return item.task.Clone(), nil
	}
	if rt, ok := q.running[id]; ok {
		return rt.task.Clone(), nil
	}
	for _, t := range q.completed {
		if t.ID == id {
			return t.Clone(), nil
		}
	}
	return Task{}, ErrTaskNotFound
}

// Filter selects tasks for List. Zero values match everything.
type Filter struct {
	DriveID string
	Status  Status
	Type    Type
}

func (f Filter) matches(t *Task) bool {
	if f.DriveID != "" && t.DriveID != f.DriveID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	return true
}

// List returns snapshots of all known tasks matching the filter, ordered by
// creation time.
func (q *Queue) List(f Filter) []Task {
	q.mu.Lock()
	out := make([]Task, 0, len(q.byID)+len(q.running)+len(q.completed))
	for _, item := range q.byID {
		if f.matches(item.task) {
			out = append(out, item.task.Clone())
		}
	}
	for _, rt := range q.running {
		if f.matches(rt.task) {
			out = append(out, rt.task.Clone())
		}
	}
	for _, t := range q.completed {
		if f.matches(t) {
			out = append(out, t.Clone())
		}
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Stats computes queue statistics from current contents. There are no
// separately maintained counters that could drift.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Pending:        len(q.pending),
		Running:        len(q.running),
		Workers:        q.cfg.Workers,
		BufferCapacity: q.cfg.CompletedBuffer,
	}
	for _, t := range q.completed {
		switch t.Status {
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// finalizeLocked moves a task to a terminal state and into the completed
// buffer. Caller holds q.mu. The completion callback and notifier run on a
// separate goroutine so they never deadlock against the queue lock.
func (q *Queue) finalizeLocked(t *Task, status Status, err error, done CompletionFunc) {
	t.Status = status
	t.UpdatedAt = time.Now()
	if err != nil {
		t.Err = err.Error()
	}
	if status == StatusCompleted {
		t.Progress = 1
	}

	q.completed = append(q.completed, t)
	q.evictLocked()

	snapshot := t.Clone()
	go q.deliverCompletion(snapshot, err, done)
}

// evictLocked drops the oldest terminal records once the buffer is full.
func (q *Queue) evictLocked() {
	for len(q.completed) > q.cfg.CompletedBuffer {
		q.completed = q.completed[1:]
	}
}

// deliverCompletion invokes the notifier and completion callback for a
// terminal task. Callback failures are logged and do not alter task state.
func (q *Queue) deliverCompletion(snapshot Task, err error, done CompletionFunc) {
	q.notify(snapshot)
	if done == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task completion callback panicked",
				logger.KeyTaskID, snapshot.ID, "panic", r)
		}
	}()
	done(snapshot.ID, snapshot.Status, err)
}

func (q *Queue) notify(snapshot Task) {
	q.mu.Lock()
	n := q.notifier
	q.mu.Unlock()
	if n != nil {
		n(snapshot)
	}
}

func (q *Queue) wakeDispatcher() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
