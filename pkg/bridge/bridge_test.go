package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDispatcher hands out a controllable result channel per callback.
type fakeDispatcher struct {
	result   chan error
	routeErr error
	last     Callback
}

func (d *fakeDispatcher) Dispatch(cb Callback) (<-chan error, error) {
	d.last = cb
	if d.routeErr != nil {
		return nil, d.routeErr
	}
	return d.result, nil
}

func TestInvokeResolvesBeforeDeadline(t *testing.T) {
	disp := &fakeDispatcher{result: make(chan error, 1)}
	br := New(disp, WithClock(clockwork.NewFakeClock()))

	disp.result <- nil
	err := br.Invoke(context.Background(), Callback{DriveID: "d1", Path: "a.txt", Kind: KindOpen})
	require.NoError(t, err)
	assert.Equal(t, "a.txt", disp.last.Path)
}

func TestInvokePropagatesOperationError(t *testing.T) {
	opErr := errors.New("download failed")
	disp := &fakeDispatcher{result: make(chan error, 1)}
	br := New(disp, WithClock(clockwork.NewFakeClock()))

	disp.result <- opErr
	err := br.Invoke(context.Background(), Callback{DriveID: "d1", Path: "a.txt", Kind: KindRange})
	assert.ErrorIs(t, err, opErr)
}

func TestInvokeTimesOutWhileOperationContinues(t *testing.T) {
	fc := clockwork.NewFakeClock()
	disp := &fakeDispatcher{result: make(chan error, 1)}
	br := New(disp, WithClock(fc), WithDeadline(time.Second))

	errCh := make(chan error, 1)
	go func() {
		errCh <- br.Invoke(context.Background(), Callback{DriveID: "d1", Path: "a.txt", Kind: KindOpen})
	}()

	// Wait until Invoke is parked on its deadline timer, then expire it.
	fc.BlockUntil(1)
	fc.Advance(time.Second)

	err := <-errCh
	assert.ErrorIs(t, err, ErrTimeout)

	// The engine-side operation is unaffected: its result channel is
	// buffered, so a late completion never blocks the worker.
	disp.result <- nil
}

func TestInvokeRoutingErrorIsSynchronous(t *testing.T) {
	routeErr := errors.New("drive not found")
	disp := &fakeDispatcher{routeErr: routeErr}
	br := New(disp, WithClock(clockwork.NewFakeClock()))

	err := br.Invoke(context.Background(), Callback{DriveID: "missing", Path: "a.txt", Kind: KindOpen})
	assert.ErrorIs(t, err, routeErr)
}

func TestInvokeHonorsContextCancellation(t *testing.T) {
	fc := clockwork.NewFakeClock()
	disp := &fakeDispatcher{result: make(chan error, 1)}
	br := New(disp, WithClock(fc))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- br.Invoke(ctx, Callback{DriveID: "d1", Path: "a.txt", Kind: KindOpen})
	}()

	fc.BlockUntil(1)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestInvokePerCallbackDeadlineOverride(t *testing.T) {
	fc := clockwork.NewFakeClock()
	disp := &fakeDispatcher{result: make(chan error, 1)}
	br := New(disp, WithClock(fc), WithDeadline(time.Hour))

	errCh := make(chan error, 1)
	go func() {
		errCh <- br.Invoke(context.Background(), Callback{
			DriveID:  "d1",
			Path:     "a.txt",
			Kind:     KindRange,
			Deadline: 50 * time.Millisecond,
		})
	}()

	fc.BlockUntil(1)
	fc.Advance(50 * time.Millisecond)
	assert.ErrorIs(t, <-errCh, ErrTimeout)
}
