package rangeset

// Result of a range request
type Result int

const (
	// OutOfRange means the request lies outside the managed range
	OutOfRange Result = iota - 1
	// Inaccessible means the request is pending until the owner commits it
	Inaccessible
	// Accessible means the request can be read right away
	Accessible
)

func (r Result) String() string {
	switch r {
	case OutOfRange:
		return "out-of-range"
	case Inaccessible:
		return "inaccessible"
	case Accessible:
		return "accessible"
	default:
		return "unknown"
	}
}

// Manager tracks which blocks of a managed range are accessible and which
// requests are still waiting for them.
//
// Requests keeps every outstanding request with its requester id. Actual requests
// are the blocks not yet accessible nor already asked for, the work the owner still has to do.
type Manager struct {
	autoManaged bool
	managed     Range
	accessible  Set
	requests    []Range
	actual      Set
}

// NewManager creates a manager. With autoManaged the managed range grows with
// every range made accessible.
func NewManager(autoManaged bool) *Manager {
	return &Manager{autoManaged: autoManaged}
}

// SetAutoManaged switches auto management and returns the previous setting
func (m *Manager) SetAutoManaged(flag bool) bool {
	prev := m.autoManaged
	m.autoManaged = flag
	return prev
}

// Managed returns the managed range
func (m *Manager) Managed() Range { return m.managed }

// SetManaged replaces the managed range
func (m *Manager) SetManaged(r Range) { m.managed = r }

// Accessible returns the accessible ranges
func (m *Manager) Accessible() Set { return Set{ranges: m.accessible.Ranges()} }

// Requests returns the outstanding requests
func (m *Manager) Requests() []Range {
	out := make([]Range, len(m.requests))
	copy(out, m.requests)
	return out
}

// ActualRequests returns the blocks the owner has been asked for and not yet delivered
func (m *Manager) ActualRequests() []Range { return m.actual.Ranges() }

// IsAccessible reports whether r is within the managed range and fully accessible
func (m *Manager) IsAccessible(r Range) bool {
	return m.managed.Contains(r) && m.accessible.Covers(r)
}

// Check classifies r like Request without registering it
func (m *Manager) Check(r Range) Result {
	if m.managed.Empty() || !m.managed.Contains(r) {
		return OutOfRange
	}
	if m.accessible.Covers(r) {
		return Accessible
	}
	missing := NewSet(r)
	missing.Exclude(m.accessible.ranges...)
	if missing.Empty() {
		return Accessible
	}
	return Inaccessible
}

// Request registers r. For an Inaccessible result the returned ranges are the
// new actual requests the owner has to satisfy, possibly none when other
// requests already cover them.
func (m *Manager) Request(r Range) (Result, []Range) {
	if m.managed.Empty() || !m.managed.Contains(r) {
		return OutOfRange, nil
	}
	if m.accessible.Covers(r) {
		return Accessible, nil
	}

	missing := NewSet(r)
	missing.Exclude(m.accessible.ranges...)
	if missing.Empty() {
		return Accessible, nil
	}
	m.requests = append(m.requests, r)

	missing.Exclude(m.actual.ranges...)
	if missing.Empty() {
		return Inaccessible, nil
	}
	m.actual.Merge(missing)
	return Inaccessible, missing.Ranges()
}

// SetAccessible makes rs accessible and returns the requests that became satisfied.
// Satisfied requests are removed from the request list.
func (m *Manager) SetAccessible(rs ...Range) []Range {
	if m.autoManaged {
		for _, r := range rs {
			m.managed = m.managed.Hull(r)
		}
	}
	m.actual.Exclude(rs...)
	m.accessible.Add(rs...)

	var satisfied []Range
	remaining := m.requests[:0]
	for _, req := range m.requests {
		if m.accessible.Covers(req) {
			satisfied = append(satisfied, req)
			continue
		}
		remaining = append(remaining, req)
	}
	m.requests = remaining
	return satisfied
}

// FlushRequests drops the outstanding requests tagged with id
func (m *Manager) FlushRequests(id uint64) {
	remaining := m.requests[:0]
	for _, req := range m.requests {
		if req.ID != id {
			remaining = append(remaining, req)
		}
	}
	m.requests = remaining
}

// IsFlushable reports whether Flush would change anything
func (m *Manager) IsFlushable() bool {
	return !m.managed.Empty() || !m.accessible.Empty() || len(m.requests) > 0 || !m.actual.Empty()
}

// Flush resets the manager to empty
func (m *Manager) Flush() bool {
	if !m.IsFlushable() {
		return false
	}
	m.managed = Range{}
	m.accessible.Clear()
	m.requests = nil
	m.actual.Clear()
	return true
}
