package protocol

// DefaultChunkSize is the largest piece written or read in one step
const DefaultChunkSize = 4096

// BufferChopper walks a buffer in chunks of at most a fixed size, so writing a
// large packet takes a bounded time per step.
type BufferChopper struct {
	buf   []byte
	chunk int
	pos   int
}

// NewBufferChopper returns a chopper over buf. A chunk size below 1 uses DefaultChunkSize.
func NewBufferChopper(buf []byte, chunk int) *BufferChopper {
	if chunk < 1 {
		chunk = DefaultChunkSize
	}
	return &BufferChopper{buf: buf, chunk: chunk}
}

// Assign restarts the chopper on buf
func (c *BufferChopper) Assign(buf []byte) {
	c.buf = buf
	c.pos = 0
}

// Chunk returns the current chunk, nil when done
func (c *BufferChopper) Chunk() []byte {
	if c.Done() {
		return nil
	}
	return c.buf[c.pos:min(c.pos+c.chunk, len(c.buf))]
}

// Advance consumes n bytes of the current chunk and reports whether more remain
func (c *BufferChopper) Advance(n int) bool {
	c.pos = min(c.pos+max(n, 0), len(c.buf))
	return !c.Done()
}

// MoveNext moves to the next chunk and reports whether there is one
func (c *BufferChopper) MoveNext() bool {
	return c.Advance(c.chunk)
}

// Done reports whether every byte was passed
func (c *BufferChopper) Done() bool { return c.pos >= len(c.buf) }

// Remaining returns the number of bytes not passed yet
func (c *BufferChopper) Remaining() int { return len(c.buf) - c.pos }

// Reset goes back to the first chunk
func (c *BufferChopper) Reset() { c.pos = 0 }

// BufferStitcher fills a buffer from pieces of at most a fixed size
type BufferStitcher struct {
	dst   []byte
	chunk int
	pos   int
}

// NewBufferStitcher returns a stitcher filling dst. A chunk size below 1 uses DefaultChunkSize.
func NewBufferStitcher(dst []byte, chunk int) *BufferStitcher {
	if chunk < 1 {
		chunk = DefaultChunkSize
	}
	return &BufferStitcher{dst: dst, chunk: chunk}
}

// Assign restarts the stitcher on dst
func (s *BufferStitcher) Assign(dst []byte) {
	s.dst = dst
	s.pos = 0
}

// Chunk returns the writable window, nil when done
func (s *BufferStitcher) Chunk() []byte {
	if s.Done() {
		return nil
	}
	return s.dst[s.pos:min(s.pos+s.chunk, len(s.dst))]
}

// Advance marks n bytes of the window as written and reports whether the buffer is full
func (s *BufferStitcher) Advance(n int) bool {
	s.pos = min(s.pos+max(n, 0), len(s.dst))
	return s.Done()
}

// MoveNext marks the whole window as written and reports whether there is another one
func (s *BufferStitcher) MoveNext() bool {
	return !s.Advance(s.chunk)
}

// Done reports whether the buffer is full
func (s *BufferStitcher) Done() bool { return s.pos >= len(s.dst) }

// Filled returns the written part of the buffer
func (s *BufferStitcher) Filled() []byte { return s.dst[:s.pos] }

// Bytes returns the whole buffer
func (s *BufferStitcher) Bytes() []byte { return s.dst }
