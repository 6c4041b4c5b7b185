package task

import (
	"container/heap"
	"context"
	"errors"
	"time"

	"github.com/driftsync/driftsync/internal/logger"
)

// dispatch is the scheduler loop. It claims the highest-priority pending
// task for each free worker slot; claiming is O(log n) against the heap.
func (q *Queue) dispatch() {
	defer q.dispatcherWG.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case <-q.wake:
		}

		for q.claimNext() {
		}
	}
}

// claimNext atomically claims one ready task if a worker slot is free.
// Returns false when nothing more can be claimed right now.
func (q *Queue) claimNext() bool {
	q.mu.Lock()
	if q.closed || len(q.pending) == 0 || len(q.running) >= q.cfg.Workers {
		q.mu.Unlock()
		return false
	}

	item := heap.Pop(&q.pending).(*pendingItem)
	delete(q.byID, item.task.ID)

	t := item.task
	t.Status = StatusRunning
	t.UpdatedAt = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	rt := &runningTask{task: t, cancel: cancel, done: item.done}
	q.running[t.ID] = rt
	executor := q.executors[t.Type]
	snapshot := t.Clone()
	q.runWG.Add(1)
	q.mu.Unlock()

	q.notify(snapshot)
	go q.run(ctx, rt, executor)
	return true
}

// run executes one claimed task to its terminal state.
func (q *Queue) run(ctx context.Context, rt *runningTask, exec Executor) {
	defer q.runWG.Done()
	defer rt.cancel()

	t := rt.task
	logger.Debug("task claimed",
		logger.KeyTaskID, t.ID,
		logger.KeyTaskType, string(t.Type),
		logger.KeyPriority, t.Priority.String())

	start := time.Now()
	err := q.safeExecute(ctx, exec, t.Clone(), q.progressFunc(t.ID))

	status := StatusCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = StatusCancelled
		err = nil
	default:
		status = StatusFailed
	}

	q.mu.Lock()
	delete(q.running, t.ID)
	q.finalizeLocked(t, status, err, rt.done)
	q.mu.Unlock()

	if err != nil {
		logger.Error("task failed",
			logger.KeyTaskID, t.ID,
			logger.KeyTaskType, string(t.Type),
			logger.KeyError, err.Error(),
			logger.KeyDurationMs, logger.Duration(start))
	} else {
		logger.Debug("task finished",
			logger.KeyTaskID, t.ID,
			logger.KeyStatus, string(status),
			logger.KeyDurationMs, logger.Duration(start))
	}

	// A slot freed up; let the dispatcher claim the next task.
	q.wakeDispatcher()
}

// safeExecute shields the queue from panicking executors.
func (q *Queue) safeExecute(ctx context.Context, exec Executor, t Task, report ProgressFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task executor panicked", logger.KeyTaskID, t.ID, "panic", r)
			err = errors.New("task executor panicked")
		}
	}()
	return exec(ctx, t, report)
}

// progressFunc returns the progress reporter for a running task. Progress is
// clamped so ProcessedBytes and Progress never decrease, and only fully
// committed chunks should be reported by executors.
func (q *Queue) progressFunc(id string) ProgressFunc {
	return func(processed, total int64) {
		q.mu.Lock()
		rt, ok := q.running[id]
		if !ok {
			q.mu.Unlock()
			return
		}

		t := rt.task
		if total > 0 {
			t.TotalBytes = total
		}
		if processed > t.ProcessedBytes {
			t.ProcessedBytes = processed
		}
		if t.TotalBytes > 0 {
			if p := float64(t.ProcessedBytes) / float64(t.TotalBytes); p > t.Progress {
				if p > 1 {
					p = 1
				}
				t.Progress = p
			}
		}
		t.UpdatedAt = time.Now()
		q.mu.Unlock()
	}
}
