package buffer

import (
	"sync/atomic"
)

// Pool recycles payload slices of a fixed capacity. Requests larger than the
// slot size are served by a plain allocation and not taken back.
type Pool struct {
	slotSize int
	freeList chan []byte

	hits        atomic.Int64
	misses      atomic.Int64
	outstanding atomic.Int64
}

// NewPool creates a pool of slots of slotSize bytes, keeping at most
// poolSize of them idle. Half of the slots are allocated up front.
func NewPool(slotSize, poolSize int) *Pool {
	p := &Pool{
		slotSize: slotSize,
		freeList: make(chan []byte, poolSize),
	}
	for i := 0; i < poolSize/2; i++ {
		p.freeList <- make([]byte, slotSize)
	}
	return p
}

// Get returns a slice of length n. Its contents are undefined.
func (p *Pool) Get(n int) []byte {
	if n > p.slotSize {
		p.misses.Add(1)
		return make([]byte, n)
	}

	p.outstanding.Add(1)
	select {
	case b := <-p.freeList:
		p.hits.Add(1)
		return b[:n]
	default:
		p.misses.Add(1)
		return make([]byte, n, p.slotSize)
	}
}

// Copy returns a pooled copy of src.
func (p *Pool) Copy(src []byte) []byte {
	b := p.Get(len(src))
	copy(b, src)
	return b
}

// Put hands b back. Slices that did not come from Get with a slot-sized
// backing array are ignored.
func (p *Pool) Put(b []byte) {
	if cap(b) != p.slotSize {
		return
	}
	p.outstanding.Add(-1)
	select {
	case p.freeList <- b[:p.slotSize]:
	default:
		// Pool is full, let GC handle it
	}
}

// Stats returns pool statistics
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		SlotSize:    p.slotSize,
		Free:        len(p.freeList),
		Outstanding: p.outstanding.Load(),
		Hits:        p.hits.Load(),
		Misses:      p.misses.Load(),
	}
}

// PoolStats holds pool statistics
type PoolStats struct {
	SlotSize    int   `json:"slot_size"`
	Free        int   `json:"free"`
	Outstanding int64 `json:"outstanding"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
}
