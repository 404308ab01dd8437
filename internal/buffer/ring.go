package buffer

import (
	"sync"
	"sync/atomic"
)

// Ring is a byte FIFO between one producer goroutine that may block and one
// consumer that never does. Socket readers fill it from the network; the
// tick loop drains it with Available and Read.
type Ring struct {
	owner string
	data  []byte
	size  int

	mu       sync.Mutex
	notFull  *sync.Cond
	readPos  int
	writePos int
	buffered int
	closed   atomic.Bool

	written atomic.Int64
	read    atomic.Int64
}

// NewRing creates a ring of the given capacity.
func NewRing(owner string, size int) *Ring {
	r := &Ring{owner: owner, data: make([]byte, size), size: size}
	r.notFull = sync.NewCond(&r.mu)
	return r
}

// Write copies all of p into the ring, waiting for the consumer to make room
// when the ring is full. It returns ErrBufferClosed if the ring is closed
// before p is fully written.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	written := 0
	for written < len(p) {
		for r.buffered == r.size && !r.closed.Load() {
			r.notFull.Wait()
		}
		if r.closed.Load() {
			return written, ErrBufferClosed
		}

		free := r.size - r.buffered
		chunk := min(len(p)-written, free, r.size-r.writePos)
		copy(r.data[r.writePos:r.writePos+chunk], p[written:written+chunk])
		r.writePos = (r.writePos + chunk) % r.size
		r.buffered += chunk
		written += chunk
	}

	r.written.Add(int64(written))
	ringBufferedBytes.Add(float64(written))
	return written, nil
}

// Available returns the number of buffered bytes.
func (r *Ring) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffered
}

// Read copies up to len(p) buffered bytes without waiting. An empty ring
// returns ErrWouldBlock, or ErrBufferClosed once closed.
func (r *Ring) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buffered == 0 {
		if r.closed.Load() {
			return 0, ErrBufferClosed
		}
		return 0, ErrWouldBlock
	}

	n := 0
	want := min(len(p), r.buffered)
	for n < want {
		chunk := min(want-n, r.size-r.readPos)
		copy(p[n:n+chunk], r.data[r.readPos:r.readPos+chunk])
		r.readPos = (r.readPos + chunk) % r.size
		n += chunk
	}
	r.buffered -= n
	r.notFull.Signal()

	r.read.Add(int64(n))
	ringBufferedBytes.Sub(float64(n))
	return n, nil
}

// Close wakes a blocked writer. Buffered bytes stay readable until drained.
func (r *Ring) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.mu.Lock()
	r.notFull.Broadcast()
	r.mu.Unlock()
	return nil
}

// Discard drops whatever is buffered. Used when a connection is torn down
// with a partial message pending.
func (r *Ring) Discard() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.buffered
	r.readPos, r.writePos, r.buffered = 0, 0, 0
	r.notFull.Broadcast()
	ringBufferedBytes.Sub(float64(n))
	return n
}

// Stats returns ring statistics
func (r *Ring) Stats() RingStats {
	return RingStats{
		Owner:     r.owner,
		Size:      r.size,
		Available: r.Available(),
		Written:   r.written.Load(),
		Read:      r.read.Load(),
		Closed:    r.closed.Load(),
	}
}

// RingStats holds ring statistics
type RingStats struct {
	Owner     string
	Size      int
	Available int
	Written   int64
	Read      int64
	Closed    bool
}
