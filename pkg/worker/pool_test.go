package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gii/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
}

func process(ctx context.Context, w testWork) error {
	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if w.fail {
		return errors.New("work failed")
	}
	return nil
}

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(5, 100, process)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool = NewPool(0, 0, process)
	assert.Equal(t, 10, pool.workers)
	assert.Equal(t, 1000, pool.queueSize)

	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[testWork](1, 1, nil)
	})
}

func TestPool_Lifecycle(t *testing.T) {
	pool := NewPool(2, 10, process)

	assert.ErrorIs(t, pool.Submit(testWork{id: 1}), ErrPoolNotStarted)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrPoolAlreadyStarted)

	require.NoError(t, pool.Stop(time.Second))
	assert.ErrorIs(t, pool.Submit(testWork{id: 2}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second))
}

func TestPool_ProcessesAndCounts(t *testing.T) {
	var errs atomic.Int32
	pool := NewPool(3, 50, process, WithErrorHandler(func(_ testWork, _ error) {
		errs.Add(1)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))

	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(testWork{id: i, fail: i%5 == 0}))
	}

	require.Eventually(t, func() bool {
		return pool.Stats().Processed == 20
	}, 2*time.Second, 5*time.Millisecond)

	stats := pool.Stats()
	assert.Equal(t, int64(20), stats.Submitted)
	assert.Equal(t, int64(4), stats.Failed)
	assert.Equal(t, int32(4), errs.Load())
	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_QueueFull(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))

	require.NoError(t, pool.Submit(1))
	require.Eventually(t, func() bool { return pool.Busy() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(2))
	assert.ErrorIs(t, pool.Submit(3), ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Dropped)

	close(block)
	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_StopTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(1))
	require.Eventually(t, func() bool { return pool.Busy() == 1 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, pool.Stop(20*time.Millisecond), ErrStopTimeout)
}

func TestPool_ContextCancelStopsLongItems(t *testing.T) {
	pool := NewPool(2, 4, process)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))

	require.NoError(t, pool.Submit(testWork{delay: time.Hour}))
	require.NoError(t, pool.Submit(testWork{delay: time.Hour}))
	require.Eventually(t, func() bool { return pool.Busy() == 2 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int64(2), pool.Stats().Failed)
}

func TestPool_RecoversPanics(t *testing.T) {
	var mu sync.Mutex
	var got error
	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		panic("boom")
	}, WithErrorHandler(func(_ int, err error) {
		mu.Lock()
		got = err
		mu.Unlock()
	}))

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(1))
	require.Eventually(t, func() bool { return pool.Stats().Processed == 1 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.ErrorIs(t, got, ErrPanicked)
}

func TestPool_Metrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	pool := NewPool(1, 4, process, WithMetricsRegistry[testWork](reg, "conn"))
	require.NotNil(t, pool.metrics)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{}))
	require.Eventually(t, func() bool { return pool.Stats().Processed == 1 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, 1.0, testutil.ToFloat64(pool.metrics.submitted))
}
