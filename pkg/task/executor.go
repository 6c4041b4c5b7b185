package task

import "context"

// ProgressFunc reports transfer progress for a running task. Workers call it
// at chunk boundaries; the queue clamps progress so it never decreases.
type ProgressFunc func(processedBytes, totalBytes int64)

// Executor performs the work for one task type. Implementations must check
// ctx at each chunk boundary and return ctx.Err() promptly once cancelled.
//
// Executors receive a copy of the task; mutating it has no effect on queue
// state. Progress flows back through report.
type Executor func(ctx context.Context, t Task, report ProgressFunc) error

// ExecutorSet is the fixed dispatch table mapping task types to executors.
// The set is immutable once handed to the queue; heterogeneous work stays
// behind this uniform table instead of open-ended dynamic dispatch.
type ExecutorSet map[Type]Executor

// CompletionFunc is invoked once when a task reaches a terminal state.
// Errors or panics inside the callback are logged and never alter task state.
type CompletionFunc func(id string, status Status, err error)
