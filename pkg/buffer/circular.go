package buffer

import (
	"context"
	"sync"

	"github.com/c360/gii/errors"
)

type circularBuffer[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write
	tail     int // next read
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *bufferOptions[T]
	notFull  *sync.Cond
	closed   bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	cb := &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}
	cb.notFull = sync.NewCond(&cb.mu)
	return cb, nil
}

func (cb *circularBuffer[T]) Write(item T) error {
	return cb.WriteContext(context.Background(), item)
}

// WriteContext is Write with cancellation of a Block wait.
func (cb *circularBuffer[T]) WriteContext(ctx context.Context, item T) error {
	var dropped []T
	defer func() {
		for _, d := range dropped {
			cb.opts.dropCallback(d)
		}
	}()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Buffer", "Write", "buffer closed")
	}

	if cb.size == cb.capacity {
		switch cb.opts.overflowPolicy {
		case DropOldest:
			old := cb.pop()
			cb.recordDrop()
			if cb.opts.dropCallback != nil {
				dropped = append(dropped, old)
			}
		case DropNewest:
			cb.recordDrop()
			if cb.opts.dropCallback != nil {
				dropped = append(dropped, item)
			}
			return nil
		case Block:
			if err := cb.waitForSpace(ctx); err != nil {
				return err
			}
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.write()
	cb.stats.setSize(cb.size)
	if cb.metrics != nil {
		cb.metrics.writes.Inc()
		cb.metrics.size.Set(float64(cb.size))
	}
	return nil
}

// waitForSpace blocks on notFull with cb.mu held until there is room, the buffer closes
// or ctx is done.
func (cb *circularBuffer[T]) waitForSpace(ctx context.Context) error {
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			cb.mu.Lock()
			cb.notFull.Broadcast()
			cb.mu.Unlock()
		})
		defer stop()
	}

	for cb.size == cb.capacity && !cb.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		cb.notFull.Wait()
	}
	if cb.closed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Buffer", "Write", "buffer closed during blocking wait")
	}
	return nil
}

func (cb *circularBuffer[T]) recordDrop() {
	cb.stats.drop()
	if cb.metrics != nil {
		cb.metrics.drops.Inc()
	}
}

// pop removes the tail item; cb.mu must be held and size > 0.
func (cb *circularBuffer[T]) pop() T {
	var zero T
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--
	return item
}

func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}
	item := cb.pop()
	cb.afterRead(1)
	return item, true
}

func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	n := min(max, cb.size)
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	for i := range out {
		out[i] = cb.pop()
	}
	cb.afterRead(n)
	return out
}

func (cb *circularBuffer[T]) afterRead(n int) {
	for i := 0; i < n; i++ {
		cb.stats.read()
	}
	cb.stats.setSize(cb.size)
	if cb.metrics != nil {
		cb.metrics.size.Set(float64(cb.size))
	}
	cb.notFull.Broadcast()
}

func (cb *circularBuffer[T]) Peek() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}
	return cb.items[cb.tail], true
}

func (cb *circularBuffer[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

func (cb *circularBuffer[T]) IsEmpty() bool {
	return cb.Size() == 0
}

func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	var dropped []T
	for cb.size > 0 {
		item := cb.pop()
		if cb.opts.dropCallback != nil {
			dropped = append(dropped, item)
		}
	}
	cb.head, cb.tail = 0, 0
	cb.stats.setSize(0)
	if cb.metrics != nil {
		cb.metrics.size.Set(0)
	}
	cb.notFull.Broadcast()
	cb.mu.Unlock()

	for _, item := range dropped {
		cb.opts.dropCallback(item)
	}
}

func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.closed = true
	cb.notFull.Broadcast()
	return nil
}
