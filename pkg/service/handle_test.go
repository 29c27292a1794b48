package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var errTest = errors.New("configured failure")

type workerErr struct{ cause error }

func (e *workerErr) Error() string { return "worker: " + e.cause.Error() }
func (e *workerErr) Unwrap() error { return e.cause }

func wrapWorker(err error) error { return &workerErr{cause: err} }

func echo(_ context.Context, req int) (int, error) { return req * 2, nil }

func TestUnimplemented_FailsEveryCall(t *testing.T) {
	var built int64
	h := Unimplemented[int, int](func() error {
		atomic.AddInt64(&built, 1)
		return errTest
	})

	for i := 0; i < 10; i++ {
		resp, err := h.Call(context.Background(), i)
		require.ErrorIs(t, err, errTest)
		assert.Equal(t, 0, resp)
	}
	assert.Equal(t, int64(10), atomic.LoadInt64(&built))
	assert.False(t, h.Implemented())
}

func TestZeroHandle_IsUnimplemented(t *testing.T) {
	var h Handle[string, string]
	_, err := h.Call(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnimplemented)
	assert.False(t, h.Implemented())
}

func TestFromHandler_BasicCall(t *testing.T) {
	h := FromHandler(echo, 2)
	resp, err := h.Call(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, 42, resp)
	assert.True(t, h.Implemented())
}

func TestFromHandler_HandlerErrorPassesThrough(t *testing.T) {
	h := FromHandler(func(context.Context, int) (int, error) {
		return 0, errTest
	}, 1, WithWorkerError(wrapWorker))

	_, err := h.Call(context.Background(), 1)
	assert.Same(t, errTest, err)
}

func TestFromHandler_ConcurrencyLimit(t *testing.T) {
	const size = 3
	var current, maxSeen int64
	var mu sync.Mutex

	h := FromHandler(func(ctx context.Context, req int) (int, error) {
		c := atomic.AddInt64(&current, 1)
		mu.Lock()
		if c > maxSeen {
			maxSeen = c
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return req, nil
	}, size)

	var g errgroup.Group
	for i := 0; i < 12; i++ {
		clone := h
		g.Go(func() error {
			_, err := clone.Call(context.Background(), i)
			return err
		})
	}
	require.NoError(t, g.Wait())

	if maxSeen > size {
		t.Errorf("max concurrent %d exceeded bound %d", maxSeen, size)
	}
	if maxSeen == 0 {
		t.Error("no execution detected")
	}
}

func TestFromHandler_ClonesShareBudget(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	var firstDone atomic.Bool

	h := FromHandler(func(ctx context.Context, req int) (int, error) {
		if req == 1 {
			close(started)
			<-block
			firstDone.Store(true)
		}
		return req, nil
	}, 1)
	a, b := h, h

	go func() { _, _ = a.Call(context.Background(), 1) }()
	<-started

	admitted := make(chan bool, 1)
	go func() {
		r, err := b.Ready(context.Background())
		if err != nil {
			admitted <- false
			return
		}
		admitted <- firstDone.Load()
		_, _ = r.Call(context.Background(), 2)
	}()

	select {
	case <-admitted:
		t.Fatal("second clone should wait for the shared slot")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)

	select {
	case sawFirst := <-admitted:
		assert.True(t, sawFirst, "second caller must observe the first call's completion")
	case <-time.After(time.Second):
		t.Fatal("second clone was never admitted")
	}
}

func TestReady_CancelWhileWaiting(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	h := FromHandler(func(ctx context.Context, req int) (int, error) {
		<-block
		return req, nil
	}, 1, WithWorkerError(wrapWorker))

	r, err := h.Ready(context.Background())
	require.NoError(t, err)
	go func() { _, _ = r.Call(context.Background(), 1) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.Ready(ctx)

	var we *workerErr
	require.ErrorAs(t, err, &we)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReady_CallTwice(t *testing.T) {
	h := FromHandler(echo, 1)
	r, err := h.Ready(context.Background())
	require.NoError(t, err)

	_, err = r.Call(context.Background(), 1)
	require.NoError(t, err)
	_, err = r.Call(context.Background(), 1)
	assert.ErrorIs(t, err, ErrReadyUsed)
}

func TestReady_ReleaseFreesSlot(t *testing.T) {
	h := FromHandler(echo, 1)
	r, err := h.Ready(context.Background())
	require.NoError(t, err)
	r.Release()
	r.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := h.Call(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 10, resp)
}

func TestCall_AbandonedCallKeepsSlot(t *testing.T) {
	block := make(chan struct{})
	h := FromHandler(func(ctx context.Context, req int) (int, error) {
		<-block
		return req, nil
	}, 1, WithWorkerError(wrapWorker))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := h.Call(ctx, 1)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)

	// The abandoned handler still runs, so the slot is still taken.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer waitCancel()
	_, err = h.Ready(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	okCtx, okCancel := context.WithTimeout(context.Background(), time.Second)
	defer okCancel()
	_, err = h.Call(okCtx, 2)
	assert.NoError(t, err)
}

func TestFromHandler_PanicRecovery(t *testing.T) {
	h := FromHandler(func(ctx context.Context, req int) (int, error) {
		if req == 0 {
			panic("boom")
		}
		return req, nil
	}, 1, WithWorkerError(wrapWorker))

	_, err := h.Call(context.Background(), 0)
	var we *workerErr
	require.ErrorAs(t, err, &we)
	assert.ErrorIs(t, err, ErrHandlerPanic)

	// Handle still usable after a panic.
	resp, err := h.Call(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, resp)
}

func TestFromHandler_SizeZeroMeansOne(t *testing.T) {
	var current, maxSeen int64
	h := FromHandler(func(ctx context.Context, req int) (int, error) {
		c := atomic.AddInt64(&current, 1)
		for {
			m := atomic.LoadInt64(&maxSeen)
			if c <= m || atomic.CompareAndSwapInt64(&maxSeen, m, c) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return req, nil
	}, 0)

	var g errgroup.Group
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			_, err := h.Call(context.Background(), i)
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(1), atomic.LoadInt64(&maxSeen))
}

func TestMetrics_RecordOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	h := FromHandler(func(ctx context.Context, req int) (int, error) {
		if req < 0 {
			return 0, errTest
		}
		return req, nil
	}, 2, WithName("echo"), WithMetrics(m))

	_, _ = h.Call(context.Background(), 1)
	_, _ = h.Call(context.Background(), 2)
	_, _ = h.Call(context.Background(), -1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.calls.WithLabelValues("echo", outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("echo", outcomeError)))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.inFlight.WithLabelValues("echo")) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.admitted("x", time.Millisecond)
	m.released("x")
	m.observe("x", outcomeOK)
}

func TestMetrics_AbandonedCallCountedOnce(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	block := make(chan struct{})
	finished := make(chan struct{})
	h := FromHandler(func(ctx context.Context, req int) (int, error) {
		defer close(finished)
		<-block
		return req, nil
	}, 1, WithName("slow"), WithMetrics(m))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Call(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	<-finished
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.inFlight.WithLabelValues("slow")) == 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("slow", outcomeAbandoned)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.calls.WithLabelValues("slow", outcomeOK)))
}

var errExpired = errors.New("expired")

func TestRequestTimeout_HandlerIgnoringContext(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	release := make(chan struct{})
	h := FromHandler(func(_ context.Context, req time.Duration) (int, error) {
		<-release
		return 1, nil
	}, 1, WithName("wallet"), WithMetrics(m),
		WithRequestTimeout(func(d time.Duration) time.Duration { return d }, func() error { return errExpired }))

	start := time.Now()
	_, err := h.Call(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, errExpired)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("wallet", outcomeTimeout)))

	// The handler still holds the only slot.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer waitCancel()
	_, err = h.Ready(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	resp, err := h.Call(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, resp)
}

func TestRequestTimeout_ZeroIsUnbounded(t *testing.T) {
	h := FromHandler(func(ctx context.Context, req time.Duration) (int, error) {
		_, ok := ctx.Deadline()
		assert.False(t, ok)
		return 2, nil
	}, 1, WithRequestTimeout(func(d time.Duration) time.Duration { return d }, func() error { return errExpired }))

	resp, err := h.Call(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, resp)
}
