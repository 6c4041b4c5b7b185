package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectExecutor records execution order and optionally blocks until
// released, simulating long-running transfers.
type collectExecutor struct {
	mu    sync.Mutex
	order []string

	blockCh chan struct{} // when non-nil, tasks wait here before finishing
	started chan string   // receives task ids as they begin
}

func (c *collectExecutor) exec(ctx context.Context, t Task, report ProgressFunc) error {
	if c.started != nil {
		c.started <- t.ID
	}
	if c.blockCh != nil {
		select {
		case <-c.blockCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	c.order = append(c.order, t.ID)
	c.mu.Unlock()
	return nil
}

func (c *collectExecutor) executionOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

func executorSetFor(fn Executor) ExecutorSet {
	return ExecutorSet{
		TypeUpload:   fn,
		TypeDownload: fn,
		TypeSync:     fn,
		TypeDelete:   fn,
		TypeCustom:   fn,
	}
}

// waitTerminal submits and waits for a batch of tasks to finish.
func waitTerminal(t *testing.T, q *Queue, tasks ...*Task) {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for _, tk := range tasks {
		_, err := q.Submit(tk, func(string, Status, error) { wg.Done() })
		require.NoError(t, err)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not reach a terminal state in time")
	}
}

func TestPriorityOrdering(t *testing.T) {
	exec := &collectExecutor{}
	q := NewQueue(executorSetFor(exec.exec), Config{Workers: 1})
	defer q.Close()

	a := New("d1", TypeSync, PriorityNormal, "a")
	b := New("d1", TypeSync, PriorityCritical, "b")
	c := New("d1", TypeSync, PriorityNormal, "c")

	// Submit before starting the dispatcher so ordering is decided purely
	// by the heap, then let a single worker drain the queue.
	var wg sync.WaitGroup
	for _, tk := range []*Task{a, b, c} {
		wg.Add(1)
		_, err := q.Submit(tk, func(string, Status, error) { wg.Done() })
		require.NoError(t, err)
	}
	q.Start()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not drain")
	}

	assert.Equal(t, []string{b.ID, a.ID, c.ID}, exec.executionOrder())
}

func TestFIFOAmongEqualPriority(t *testing.T) {
	exec := &collectExecutor{}
	q := NewQueue(executorSetFor(exec.exec), Config{Workers: 1})
	defer q.Close()

	tasks := make([]*Task, 6)
	want := make([]string, 6)
	var wg sync.WaitGroup
	for i := range tasks {
		tasks[i] = New("d1", TypeUpload, PriorityNormal, "p")
		want[i] = tasks[i].ID
		wg.Add(1)
		_, err := q.Submit(tasks[i], func(string, Status, error) { wg.Done() })
		require.NoError(t, err)
	}
	q.Start()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not drain")
	}

	assert.Equal(t, want, exec.executionOrder())
}

func TestCancelPendingNeverRuns(t *testing.T) {
	exec := &collectExecutor{blockCh: make(chan struct{}), started: make(chan string, 8)}
	q := NewQueue(executorSetFor(exec.exec), Config{Workers: 1})
	q.Start()
	defer q.Close()

	blocker := New("d1", TypeUpload, PriorityNormal, "blocker")
	victim := New("d1", TypeUpload, PriorityNormal, "victim")

	_, err := q.Submit(blocker, nil)
	require.NoError(t, err)
	<-exec.started // blocker is running and holding the only worker

	var victimStatus atomic.Value
	_, err = q.Submit(victim, func(_ string, st Status, _ error) { victimStatus.Store(st) })
	require.NoError(t, err)

	require.NoError(t, q.Cancel(victim.ID))

	// Release the blocker and let the queue settle.
	close(exec.blockCh)
	require.Eventually(t, func() bool {
		return victimStatus.Load() == StatusCancelled
	}, 2*time.Second, 10*time.Millisecond)

	got, err := q.Get(victim.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.NotContains(t, exec.executionOrder(), victim.ID)
}

func TestCancelRunningIsCooperative(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 1)

	// Executor commits two chunks, then waits for cancellation.
	exec := func(ctx context.Context, tk Task, report ProgressFunc) error {
		started <- tk.ID
		report(2*1024, 10*1024) // two committed chunks
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return nil
		}
	}

	q := NewQueue(executorSetFor(exec), Config{Workers: 1})
	q.Start()
	defer q.Close()

	tk := New("d1", TypeDownload, PriorityHigh, "file.bin")
	statusCh := make(chan Status, 1)
	_, err := q.Submit(tk, func(_ string, st Status, _ error) { statusCh <- st })
	require.NoError(t, err)

	<-started
	require.NoError(t, q.Cancel(tk.ID))

	select {
	case st := <-statusCh:
		assert.Equal(t, StatusCancelled, st)
	case <-time.After(2 * time.Second):
		t.Fatal("running task did not observe cancellation")
	}

	got, err := q.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2*1024), got.ProcessedBytes)
}

func TestCompletedBufferEviction(t *testing.T) {
	exec := &collectExecutor{}
	q := NewQueue(executorSetFor(exec.exec), Config{Workers: 1, CompletedBuffer: 3})
	q.Start()
	defer q.Close()

	first := New("d1", TypeSync, PriorityNormal, "first")
	waitTerminal(t, q, first)

	rest := make([]*Task, 3)
	for i := range rest {
		rest[i] = New("d1", TypeSync, PriorityNormal, "later")
	}
	waitTerminal(t, q, rest...)

	stats := q.Stats()
	assert.Equal(t, 3, stats.Completed, "buffer must not exceed capacity")

	// The oldest record was evicted first.
	_, err := q.Get(first.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestReconfigureShrinkIsNonPreemptive(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 3)

	exec := func(ctx context.Context, tk Task, report ProgressFunc) error {
		started <- tk.ID
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return nil
		}
	}

	q := NewQueue(executorSetFor(exec), Config{Workers: 4})
	q.Start()
	defer q.Close()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		_, err := q.Submit(New("d1", TypeUpload, PriorityNormal, "big"), func(string, Status, error) { wg.Done() })
		require.NoError(t, err)
	}

	// All three claim slots.
	for i := 0; i < 3; i++ {
		<-started
	}

	q.Reconfigure(1, 0)

	// A fourth task must not start while the three claimed before the
	// shrink still run.
	extra := New("d1", TypeUpload, PriorityNormal, "extra")
	wg.Add(1)
	_, err := q.Submit(extra, func(string, Status, error) { wg.Done() })
	require.NoError(t, err)

	select {
	case id := <-started:
		t.Fatalf("task %s started despite shrunk pool", id)
	case <-time.After(100 * time.Millisecond):
	}

	assert.Equal(t, 3, q.Stats().Running)

	// Releasing the runners lets the extra task through, one at a time.
	close(release)
	<-started

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not finish after release")
	}
}

func TestStopAllCancelsEverything(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 1)
	exec := func(ctx context.Context, tk Task, report ProgressFunc) error {
		started <- tk.ID
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return nil
		}
	}

	q := NewQueue(executorSetFor(exec), Config{Workers: 1, StopGrace: time.Second})
	q.Start()
	defer q.Close()

	running := New("d1", TypeUpload, PriorityNormal, "running")
	queued := New("d1", TypeUpload, PriorityNormal, "queued")
	_, err := q.Submit(running, nil)
	require.NoError(t, err)
	<-started
	_, err = q.Submit(queued, nil)
	require.NoError(t, err)

	q.StopAll()

	stats := q.Stats()
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Running)
	assert.Equal(t, 2, stats.Cancelled)
}

func TestSubmitUnknownType(t *testing.T) {
	q := NewQueue(ExecutorSet{TypeUpload: func(context.Context, Task, ProgressFunc) error { return nil }}, DefaultConfig())
	defer q.Close()

	_, err := q.Submit(New("d1", TypeCustom, PriorityNormal, "x"), nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestSubmitAfterClose(t *testing.T) {
	q := NewQueue(executorSetFor(func(context.Context, Task, ProgressFunc) error { return nil }), DefaultConfig())
	q.Start()
	q.Close()

	_, err := q.Submit(New("d1", TypeSync, PriorityNormal, "x"), nil)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestCancelByDrive(t *testing.T) {
	exec := &collectExecutor{blockCh: make(chan struct{}), started: make(chan string, 4)}
	q := NewQueue(executorSetFor(exec.exec), Config{Workers: 1})
	q.Start()
	defer q.Close()

	d1running := New("d1", TypeUpload, PriorityNormal, "r")
	d1pending := New("d1", TypeUpload, PriorityNormal, "p")
	d2pending := New("d2", TypeUpload, PriorityNormal, "other")

	_, err := q.Submit(d1running, nil)
	require.NoError(t, err)
	<-exec.started
	_, err = q.Submit(d1pending, nil)
	require.NoError(t, err)
	_, err = q.Submit(d2pending, nil)
	require.NoError(t, err)

	count := q.CancelByDrive("d1")
	assert.Equal(t, 2, count)

	// The other drive's task survives and runs once the worker frees up.
	close(exec.blockCh)
	require.Eventually(t, func() bool {
		got, err := q.Get(d2pending.ID)
		return err == nil && got.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProgressIsMonotonic(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})

	exec := func(ctx context.Context, tk Task, report ProgressFunc) error {
		report(500, 1000)
		report(300, 1000) // stale report must not regress progress
		close(started)
		<-proceed
		report(1000, 1000)
		return nil
	}

	q := NewQueue(executorSetFor(exec), Config{Workers: 1})
	q.Start()
	defer q.Close()

	tk := New("d1", TypeDownload, PriorityNormal, "f")
	statusCh := make(chan Status, 1)
	_, err := q.Submit(tk, func(_ string, st Status, _ error) { statusCh <- st })
	require.NoError(t, err)

	<-started
	mid, err := q.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), mid.ProcessedBytes)
	assert.InDelta(t, 0.5, mid.Progress, 0.001)

	close(proceed)
	<-statusCh

	final, err := q.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), final.ProcessedBytes)
	assert.Equal(t, 1.0, final.Progress)
}

func TestStatsOnDemand(t *testing.T) {
	fail := func(ctx context.Context, tk Task, report ProgressFunc) error {
		if tk.LocalPath == "bad" {
			return assert.AnError
		}
		return nil
	}

	q := NewQueue(executorSetFor(fail), Config{Workers: 2})
	q.Start()
	defer q.Close()

	waitTerminal(t, q,
		New("d1", TypeSync, PriorityNormal, "ok"),
		New("d1", TypeSync, PriorityNormal, "bad"),
		New("d1", TypeSync, PriorityNormal, "ok"))

	stats := q.Stats()
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Running)
}
