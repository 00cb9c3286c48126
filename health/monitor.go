package health

import (
	"sort"
	"sync"

	"github.com/c360/gii/component"
)

// Monitor polls registered components and aggregates their health
type Monitor struct {
	mu         sync.RWMutex
	components map[string]component.Discoverable
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{components: make(map[string]component.Discoverable)}
}

// Register adds a component under its metadata name
func (m *Monitor) Register(c component.Discoverable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[c.Meta().Name] = c
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.components, name)
}

// Get returns the current status of one component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	c, ok := m.components[name]
	m.mu.RUnlock()
	if !ok {
		return Status{}, false
	}
	return FromComponentHealth(name, c.Health()), true
}

// AggregateHealth returns the system status with one sub-status per component, sorted by name
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	subs := make([]Status, 0, len(names))
	for _, name := range names {
		if st, ok := m.Get(name); ok {
			subs = append(subs, st)
		}
	}
	return Aggregate(systemName, subs)
}

// Check adapts the monitor to the metrics server's health callback
func (m *Monitor) Check(systemName string) func() (bool, string) {
	return func() (bool, string) {
		st := m.AggregateHealth(systemName)
		return !st.IsUnhealthy(), st.Message
	}
}
