package voice

// FrameBuffer accumulates arbitrary-sized PCM chunks and slices them into
// fixed-size frames. Between calls it holds fewer bytes than one frame.
//
// FrameBuffer is not safe for concurrent use; a session's ingest loop is its
// only caller.
type FrameBuffer struct {
	size int
	buf  []byte
}

// NewFrameBuffer returns a buffer emitting frames of size bytes. It panics if
// size is not positive.
func NewFrameBuffer(size int) *FrameBuffer {
	if size <= 0 {
		panic("voice: frame size must be positive")
	}
	return &FrameBuffer{size: size, buf: make([]byte, 0, 2*size)}
}

// Size returns the frame length in bytes.
func (b *FrameBuffer) Size() int { return b.size }

// Push appends chunk and returns every complete frame now available, in
// arrival order. The returned frames do not alias the buffer or chunk.
func (b *FrameBuffer) Push(chunk []byte) [][]byte {
	b.buf = append(b.buf, chunk...)
	n := len(b.buf) / b.size
	if n == 0 {
		return nil
	}

	backing := make([]byte, n*b.size)
	copy(backing, b.buf)
	frames := make([][]byte, n)
	for i := range n {
		frames[i] = backing[i*b.size : (i+1)*b.size : (i+1)*b.size]
	}

	rest := copy(b.buf, b.buf[n*b.size:])
	b.buf = b.buf[:rest]
	return frames
}

// Buffered returns the number of bytes waiting for a full frame.
func (b *FrameBuffer) Buffered() int { return len(b.buf) }
