// Package server runs GII connections: a coordinator goroutine that owns every
// entity, a TCP server that hands accepted connections to a worker pool and the
// client side that dials a server and mirrors what it exports.
package server

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/gii/metric"
	"github.com/c360/gii/relay"
)

// DefaultTick is the coordinator drain period when no relay notifies earlier
const DefaultTick = time.Second

// Coordinator owns the coordinating goroutine. Entities, collectors and the
// information server are only touched from Run; other goroutines reach them
// through relays.
type Coordinator struct {
	tick    time.Duration
	notify  chan struct{}
	own     *relay.Relay
	metrics *metric.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	relays  map[*relay.Relay]struct{}
	tickFns []func()
	stopped bool

	// late serializes cleanup running after Run returned
	late sync.Mutex
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the logger
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCoordinatorMetrics records relay activity
func WithCoordinatorMetrics(m *metric.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a coordinator draining at least every tick, DefaultTick when tick is 0
func NewCoordinator(tick time.Duration, opts ...CoordinatorOption) *Coordinator {
	if tick <= 0 {
		tick = DefaultTick
	}
	c := &Coordinator{
		tick:   tick,
		notify: make(chan struct{}, 1),
		relays: make(map[*relay.Relay]struct{}),
		logger: slog.Default().With("component", "coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.own = c.NewRelay()
	return c
}

// NewRelay creates a relay that wakes the coordinator and registers it
func (c *Coordinator) NewRelay() *relay.Relay {
	r := relay.New(relay.WithNotify(c.notify), relay.WithMetrics(c.metrics), relay.WithLogger(c.logger))
	c.Register(r)
	return r
}

// Register adds r to the relays drained by Run. After Run returned r is closed instead.
func (c *Coordinator) Register(r *relay.Relay) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		r.Close()
		return
	}
	c.relays[r] = struct{}{}
}

// Unregister removes r. Calls still queued on r run on a later drain of their own.
func (c *Coordinator) Unregister(r *relay.Relay) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.relays, r)
}

// Relays returns the number of registered relays, its own included
func (c *Coordinator) Relays() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.relays)
}

// OnTick adds fn to the functions Run calls on the coordinator at every tick
func (c *Coordinator) OnTick(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickFns = append(c.tickFns, fn)
}

// Do runs fn on the coordinator and waits for it. It must not be called from
// the coordinator itself.
func (c *Coordinator) Do(fn func()) error {
	return c.own.Call(fn)
}

// Cleanup runs fn on the coordinator through r. When the coordinator has stopped
// fn runs on the calling goroutine, after the final drain and one late call at a time.
func (c *Coordinator) Cleanup(r *relay.Relay, fn func()) error {
	err := r.Call(fn)
	if !stderrors.Is(err, relay.ErrClosed) {
		return err
	}
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if !stopped {
		return err
	}
	c.late.Lock()
	defer c.late.Unlock()
	fn()
	return nil
}

// Drain runs the queued calls of every registered relay on the calling goroutine
func (c *Coordinator) Drain() int {
	c.mu.Lock()
	relays := make([]*relay.Relay, 0, len(c.relays))
	for r := range c.relays {
		relays = append(relays, r)
	}
	c.mu.Unlock()

	n := 0
	for _, r := range relays {
		n += r.Drain()
	}
	return n
}

// Run drains the relays until ctx ends. On the way out every relay is closed and
// drained once more so no caller stays parked.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	c.logger.Debug("Coordinator running", "tick", c.tick)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case <-c.notify:
			c.Drain()
		case <-ticker.C:
			c.Drain()
			c.mu.Lock()
			fns := c.tickFns
			c.mu.Unlock()
			for _, fn := range fns {
				fn()
			}
		}
	}
}

func (c *Coordinator) shutdown() {
	c.late.Lock()
	defer c.late.Unlock()
	c.mu.Lock()
	c.stopped = true
	for r := range c.relays {
		r.Close()
	}
	c.mu.Unlock()
	if n := c.Drain(); n > 0 {
		c.logger.Debug("Drained calls on shutdown", "calls", n)
	}
}
