package buffer

import (
	"sync/atomic"
)

// Statistics counts buffer operations. It is always collected.
type Statistics struct {
	writes  atomic.Int64
	reads   atomic.Int64
	drops   atomic.Int64
	size    atomic.Int64
	maxSize atomic.Int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) write() { s.writes.Add(1) }
func (s *Statistics) read()  { s.reads.Add(1) }
func (s *Statistics) drop()  { s.drops.Add(1) }

func (s *Statistics) setSize(size int) {
	s.size.Store(int64(size))
	for {
		cur := s.maxSize.Load()
		if int64(size) <= cur || s.maxSize.CompareAndSwap(cur, int64(size)) {
			return
		}
	}
}

// Writes returns the number of accepted writes
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the number of items read
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops returns the number of items discarded by the overflow policy
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// CurrentSize returns the size after the last operation
func (s *Statistics) CurrentSize() int64 { return s.size.Load() }

// MaxSize returns the high-water mark
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }

// Summary returns the counters as a map, for status endpoints
func (s *Statistics) Summary() map[string]int64 {
	return map[string]int64{
		"writes":   s.Writes(),
		"reads":    s.Reads(),
		"drops":    s.Drops(),
		"size":     s.CurrentSize(),
		"max_size": s.MaxSize(),
	}
}
