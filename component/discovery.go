// Package component defines the lifecycle and health contracts shared by GII services
package component

import (
	"sync"
	"time"
)

// Discoverable is implemented by long-running GII services so the daemon can report on them
type Discoverable interface {
	// Meta returns basic component information
	Meta() Metadata

	// Health returns current health status
	Health() HealthStatus
}

// Metadata describes what a component is
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "server", "store", "transport", "infoserver"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus describes the current health state of a component
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
	State      string        `json:"state"`
}

// HealthTracker accumulates the data behind a HealthStatus. It is safe for concurrent use.
type HealthTracker struct {
	mu         sync.Mutex
	started    time.Time
	state      State
	running    bool
	errorCount int
	lastError  string
}

// MarkInitialized moves a created component to StateInitialized
func (h *HealthTracker) MarkInitialized() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateCreated {
		h.state = StateInitialized
	}
}

// MarkStarted records the start time and marks the component running
func (h *HealthTracker) MarkStarted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = time.Now()
	h.running = true
	h.state = StateStarted
}

// MarkStopped marks the component not running
func (h *HealthTracker) MarkStopped() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	if h.state != StateFailed {
		h.state = StateStopped
	}
}

// MarkFailed records err and moves the component to StateFailed
func (h *HealthTracker) MarkFailed(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	h.state = StateFailed
	if err != nil {
		h.errorCount++
		h.lastError = err.Error()
	}
}

// State returns the lifecycle state
func (h *HealthTracker) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// RecordError counts err and remembers its message
func (h *HealthTracker) RecordError(err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorCount++
	h.lastError = err.Error()
}

// Status snapshots the tracker. A component is healthy while it runs.
func (h *HealthTracker) Status() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := HealthStatus{
		Healthy:    h.running,
		LastCheck:  time.Now(),
		ErrorCount: h.errorCount,
		LastError:  h.lastError,
		State:      h.state.String(),
	}
	if h.running {
		st.Uptime = time.Since(h.started)
	}
	return st
}
