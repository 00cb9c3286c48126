package resultdata

// RecycleSize is the number of segments a recycling storage keeps before it
// starts reusing them
const RecycleSize = 10

// MaxSegmentBytes caps the byte size of one segment
const MaxSegmentBytes = 10 * 1024 * 1024

// Storage keeps blocks in fixed size segments. The segment list only grows.
// With a recycle count set, segments past that count alias earlier ones, so
// block i and block i+recycle*segmentSize share memory.
type Storage struct {
	segmentSize int64
	blockBytes  int64
	recycle     int
	segments    [][]byte
	physical    int
}

// NewStorage creates a storage of segments holding segmentSize blocks of blockBytes bytes
func NewStorage(segmentSize, blockBytes int64, recycle int) *Storage {
	if blockBytes <= 0 {
		blockBytes = 1
	}
	if segmentSize > MaxSegmentBytes/blockBytes {
		segmentSize = MaxSegmentBytes / blockBytes
	}
	if recycle < 0 {
		recycle = 0
	}
	return &Storage{segmentSize: segmentSize, blockBytes: blockBytes, recycle: recycle}
}

// SegmentSize returns the blocks per segment
func (s *Storage) SegmentSize() int64 { return s.segmentSize }

// BlockBytes returns the bytes per block
func (s *Storage) BlockBytes() int64 { return s.blockBytes }

// RecycleCount returns the number of distinct segments when recycling, 0 otherwise
func (s *Storage) RecycleCount() int { return s.recycle }

// SegmentCount returns the number of logical segments
func (s *Storage) SegmentCount() int { return len(s.segments) }

// BlockCount returns the number of reserved blocks
func (s *Storage) BlockCount() int64 { return int64(len(s.segments)) * s.segmentSize }

// Size returns the bytes actually allocated
func (s *Storage) Size() int64 { return int64(s.physical) * s.segmentSize * s.blockBytes }

// SetRecycleCount changes the recycle count. It fails once a segment exists.
func (s *Storage) SetRecycleCount(n int) bool {
	if len(s.segments) > 0 || n < 0 {
		return false
	}
	s.recycle = n
	return true
}

// Reserve grows the storage to hold at least blocks blocks, rounded up to whole segments.
// Asking for fewer blocks than reserved changes nothing.
func (s *Storage) Reserve(blocks int64) bool {
	if s.segmentSize <= 0 {
		return false
	}
	if blocks <= s.BlockCount() {
		return true
	}
	want := int((blocks + s.segmentSize - 1) / s.segmentSize)
	for len(s.segments) < want {
		n := len(s.segments)
		if s.recycle > 0 && n >= s.recycle {
			s.segments = append(s.segments, s.segments[n%s.recycle])
			continue
		}
		s.segments = append(s.segments, make([]byte, s.segmentSize*s.blockBytes))
		s.physical++
	}
	return true
}

// Write copies n blocks from src to block offset ofs
func (s *Storage) Write(ofs, n int64, src []byte) bool {
	return s.transfer(false, ofs, n, src)
}

// Read copies n blocks at block offset ofs to dst
func (s *Storage) Read(ofs, n int64, dst []byte) bool {
	return s.transfer(true, ofs, n, dst)
}

func (s *Storage) transfer(read bool, ofs, n int64, buf []byte) bool {
	if ofs < 0 || n < 0 || ofs+n > s.BlockCount() || int64(len(buf)) < n*s.blockBytes {
		return false
	}
	seg := ofs / s.segmentSize
	off := ofs % s.segmentSize
	for n > 0 {
		blocks := s.segmentSize - off
		if blocks > n {
			blocks = n
		}
		mem := s.segments[seg][off*s.blockBytes : (off+blocks)*s.blockBytes]
		if read {
			copy(buf, mem)
		} else {
			copy(mem, buf)
		}
		buf = buf[blocks*s.blockBytes:]
		n -= blocks
		off = 0
		seg++
	}
	return true
}

// Flush releases every segment
func (s *Storage) Flush() {
	s.segments = nil
	s.physical = 0
}
