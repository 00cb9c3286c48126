// Package buffer provides a generic, thread-safe circular buffer with overflow policies.
// Connections use it as their outbox: the coordinator writes packets, the connection
// worker reads them.
package buffer

// Buffer is a bounded FIFO of items of type T
type Buffer[T any] interface {
	// Write adds an item. What happens when the buffer is full depends on the overflow policy.
	Write(item T) error

	// Read removes and returns the oldest item.
	Read() (T, bool)

	// ReadBatch removes up to max items, oldest first.
	ReadBatch(max int) []T

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	Size() int
	Capacity() int
	IsEmpty() bool

	// Clear removes all items, reporting each one to the drop callback.
	Clear()

	Stats() *Statistics

	// Close wakes blocked writers; further writes fail.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest

	// Block causes Write operations to block until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback receives every item discarded by the overflow policy or Clear.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a circular buffer holding at most capacity items.
// It fails only when metric registration was requested and failed.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	return newCircularBuffer(capacity, applyOptions(options...))
}
