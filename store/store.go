// Package store defines the sectioned key/value store GII keeps its configuration
// tables in: unit conversion systems, follower entries and daemon settings.
//
// Values are opaque strings addressed by section and key. Backends:
//   - Memory: in-process map, also the cache behind the other backends
//   - yamlstore: a YAML file, reloaded on change
//   - natskv: a NATS JetStream key/value bucket shared between processes
//   - badgerstore: an embedded badger database
//
// All implementations are safe for concurrent use.
package store

import (
	"sort"
	"sync"

	"github.com/c360/gii/errors"
)

// Store is a sectioned key/value store
type Store interface {
	// Get returns the value of key in section
	Get(section, key string) (string, bool)
	// Set writes the value of key in section, creating the section when needed
	Set(section, key, value string) error
	// Delete removes key from section. Removing a missing key is not an error.
	Delete(section, key string) error
	// Keys returns the keys of section in lexicographic order
	Keys(section string) []string
	// Sections returns the non empty sections in lexicographic order
	Sections() []string
}

// Data is a plain copy of a store's content
type Data map[string]map[string]string

// Memory is a Store kept in a map
type Memory struct {
	mu   sync.RWMutex
	data Data
}

// NewMemory creates an empty memory store
func NewMemory() *Memory {
	return &Memory{data: make(Data)}
}

// Get returns the value of key in section
func (m *Memory) Get(section, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[section][key]
	return v, ok
}

// Set writes the value of key in section
func (m *Memory) Set(section, key, value string) error {
	if section == "" || key == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Memory", "Set", "validate section and key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sec, ok := m.data[section]
	if !ok {
		sec = make(map[string]string)
		m.data[section] = sec
	}
	sec[key] = value
	return nil
}

// Delete removes key from section, dropping the section once empty
func (m *Memory) Delete(section, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sec, ok := m.data[section]; ok {
		delete(sec, key)
		if len(sec) == 0 {
			delete(m.data, section)
		}
	}
	return nil
}

// Keys returns the keys of section in lexicographic order
func (m *Memory) Keys(section string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.data[section])
}

// Sections returns the sections in lexicographic order
func (m *Memory) Sections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.data)
}

// Snapshot returns a deep copy of the content
func (m *Memory) Snapshot() Data {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.clone()
}

// Replace swaps the content for a copy of d and reports whether anything changed
func (m *Memory) Replace(d Data) bool {
	next := d.clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := !next.equal(m.data)
	m.data = next
	return changed
}

// Copy writes every value of src into dst
func Copy(dst, src Store) error {
	for _, section := range src.Sections() {
		for _, key := range src.Keys(section) {
			v, ok := src.Get(section, key)
			if !ok {
				continue
			}
			if err := dst.Set(section, key, v); err != nil {
				return errors.Wrap(err, "Store", "Copy", "set "+section+"/"+key)
			}
		}
	}
	return nil
}

func (d Data) clone() Data {
	out := make(Data, len(d))
	for section, keys := range d {
		if len(keys) == 0 {
			continue
		}
		sec := make(map[string]string, len(keys))
		for k, v := range keys {
			sec[k] = v
		}
		out[section] = sec
	}
	return out
}

func (d Data) equal(o Data) bool {
	if len(d) != len(o) {
		return false
	}
	for section, keys := range d {
		other, ok := o[section]
		if !ok || len(other) != len(keys) {
			return false
		}
		for k, v := range keys {
			if ov, ok := other[k]; !ok || ov != v {
				return false
			}
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
