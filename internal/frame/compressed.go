// Package frame holds the two fixed image buffers the pipeline cycles
// through: the compressed payload read from the camera FIFO and the
// decoded RGB565 pixel frame pushed to the panel.
//
// Both buffers are allocated once at startup and only their contents are
// replaced afterwards - there is no allocation on the capture path.
package frame

import (
	"errors"
	"sync"
)

// Errors returned by Commit when a capture does not satisfy the
// compressed-frame invariant.
var (
	ErrBadLength     = errors.New("frame: compressed length out of range")
	ErrMagicMismatch = errors.New("frame: payload does not start with format magic")
)

// Compressed is the single shared compressed-frame buffer.
//
// The capture engine is its only writer. Readers in the hardware context
// (assembler, storage) use Payload() without copying; the network context
// must use Snapshot(), which copies under a short mutex so it never
// observes a half-written capture.
type Compressed struct {
	mu    sync.Mutex
	buf   []byte
	n     int
	magic [2]byte
}

// NewCompressed creates a compressed buffer with the given capacity and
// format magic. Length starts at zero (no valid frame).
func NewCompressed(capacity int, magic [2]byte) *Compressed {
	return &Compressed{
		buf:   make([]byte, capacity),
		magic: magic,
	}
}

// Capacity returns the fixed buffer capacity in bytes.
func (c *Compressed) Capacity() int {
	return len(c.buf)
}

// Buffer exposes the raw backing array for the capture engine to burst
// into. The frame stays invalid until Commit succeeds.
func (c *Compressed) Buffer() []byte {
	return c.buf
}

// Invalidate marks the buffer as holding no frame. Called at the start of
// every capture so a failed cycle cannot leave a stale length behind.
func (c *Compressed) Invalidate() {
	c.mu.Lock()
	c.n = 0
	c.mu.Unlock()
}

// Commit publishes n bytes of payload. It enforces the invariant that a
// nonzero length implies 2 <= n <= capacity and buf[0:2] == magic; on
// violation the frame stays invalid.
func (c *Compressed) Commit(n int) error {
	if n < 2 || n > len(c.buf) {
		return ErrBadLength
	}
	if c.buf[0] != c.magic[0] || c.buf[1] != c.magic[1] {
		return ErrMagicMismatch
	}
	c.mu.Lock()
	c.n = n
	c.mu.Unlock()
	return nil
}

// Len returns the committed payload length, zero meaning no valid frame.
func (c *Compressed) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Payload returns a view of the committed payload. Hardware-context only;
// the view is valid until the next capture overwrites the buffer.
func (c *Compressed) Payload() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == 0 {
		return nil
	}
	return c.buf[:c.n]
}

// Snapshot copies the committed payload for use outside the hardware
// context. Returns nil when no valid frame is held.
func (c *Compressed) Snapshot() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == 0 {
		return nil
	}
	out := make([]byte, c.n)
	copy(out, c.buf[:c.n])
	return out
}
