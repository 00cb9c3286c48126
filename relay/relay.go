// Package relay runs closures from connection workers on the coordinator goroutine.
//
// A worker hands a closure to Call and blocks until the coordinator has executed
// it in Drain. Entities are only ever touched by the coordinator, yet the worker
// sees a plain synchronous call.
package relay

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/gii/metric"
)

var (
	// ErrClosed is returned by calls made after Close
	ErrClosed = stderrors.New("relay closed")
	// ErrPanicked is returned when the closure panicked on the coordinator
	ErrPanicked = stderrors.New("relay call panicked")
)

type task struct {
	fn   func()
	done chan error
}

// Relay is a FIFO of closures waiting for the coordinator
type Relay struct {
	mu      sync.Mutex
	queue   []task
	closed  bool
	notify  chan<- struct{}
	metrics *metric.Metrics
	logger  *slog.Logger
}

// Option configures a Relay
type Option func(*Relay)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records calls, waits and drains
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithNotify makes every call post to ch without blocking, so the coordinator
// can drain before its next tick
func WithNotify(ch chan<- struct{}) Option {
	return func(r *Relay) { r.notify = ch }
}

// New creates an open relay
func New(opts ...Option) *Relay {
	r := &Relay{logger: slog.Default().With("component", "relay")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Call queues fn and waits until the coordinator ran it. It must not be called
// from the coordinator goroutine.
func (r *Relay) Call(fn func()) error {
	done := make(chan error, 1)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.queue = append(r.queue, task{fn: fn, done: done})
	r.mu.Unlock()

	if r.notify != nil {
		select {
		case r.notify <- struct{}{}:
		default:
		}
	}

	start := time.Now()
	err := <-done
	if r.metrics != nil {
		r.metrics.RecordRelayWait(time.Since(start))
	}
	return err
}

// CallValue runs fn on the coordinator and returns its result
func CallValue[T any](r *Relay, fn func() T) (T, error) {
	var v T
	err := r.Call(func() { v = fn() })
	return v, err
}

// Drain runs every queued closure in order on the calling goroutine and returns
// how many ran. Closures queued while draining wait for the next Drain.
func (r *Relay) Drain() int {
	r.mu.Lock()
	tasks := r.queue
	r.queue = nil
	r.mu.Unlock()

	for _, t := range tasks {
		t.done <- r.run(t.fn)
	}
	if r.metrics != nil && len(tasks) > 0 {
		r.metrics.RelayDrained.Add(float64(len(tasks)))
	}
	return len(tasks)
}

func (r *Relay) run(fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Relay call panicked", "panic", p)
			err = fmt.Errorf("%w: %v", ErrPanicked, p)
		}
	}()
	fn()
	return nil
}

// Close rejects later calls. Queued calls still run on the next Drain.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// IsClosed reports whether Close was called
func (r *Relay) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Pending returns the number of queued calls
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
