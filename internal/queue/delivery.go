package queue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zsiec/netsync/internal/buffer"
)

var (
	// ErrQueueClosed indicates the queue is closed
	ErrQueueClosed = errors.New("queue closed")

	// ErrQueueFull indicates the delivery class reached its capacity
	ErrQueueFull = errors.New("queue full")
)

// Mode is a delivery class.
type Mode uint8

const (
	Reliable Mode = iota
	Unreliable

	numModes = 2
)

func (m Mode) String() string {
	switch m {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Valid reports whether m is a known delivery class.
func (m Mode) Valid() bool { return m < numModes }

// Item is one queued payload. An empty Target means broadcast.
type Item struct {
	Mode    Mode
	Target  string
	Payload []byte
}

// Delivery holds two independent FIFOs, one per Mode. Producers may enqueue
// from any goroutine; a single consumer drains both once per tick, Reliable
// first. Items enqueued while a drain is running wait for the next drain.
type Delivery struct {
	mu       sync.Mutex
	classes  [numModes][]Item
	spare    [numModes][]Item
	capacity int
	pool     *buffer.Pool

	depth  [numModes]atomic.Int64
	closed atomic.Bool
}

// NewDelivery creates delivery queues. capacity bounds each class, 0 means
// unbounded. Payloads are copied into slots taken from pool.
func NewDelivery(capacity int, pool *buffer.Pool) *Delivery {
	return &Delivery{capacity: capacity, pool: pool}
}

// Enqueue copies payload onto the tail of the mode's FIFO.
func (q *Delivery) Enqueue(mode Mode, target string, payload []byte) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown delivery mode %d", mode)
	}
	if q.closed.Load() {
		return ErrQueueClosed
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.classes[mode]) >= q.capacity {
		return ErrQueueFull
	}

	q.classes[mode] = append(q.classes[mode], Item{Mode: mode, Target: target, Payload: q.pool.Copy(payload)})
	q.depth[mode].Add(1)
	return nil
}

// Drain hands every queued item to fn, all Reliable items in enqueue order
// followed by all Unreliable items, and returns how many were handed out.
// Payloads go back to the pool when fn returns, so fn must not retain them.
// Nothing is re-queued regardless of what fn does with an item.
func (q *Delivery) Drain(fn func(Item)) int {
	q.mu.Lock()
	batch := q.classes
	q.classes = q.spare
	q.spare = [numModes][]Item{}
	for m := range batch {
		q.depth[m].Add(-int64(len(batch[m])))
	}
	q.mu.Unlock()

	n := 0
	for m := range batch {
		for i := range batch[m] {
			fn(batch[m][i])
			q.pool.Put(batch[m][i].Payload)
			batch[m][i] = Item{}
			n++
		}
		batch[m] = batch[m][:0]
	}

	q.mu.Lock()
	q.spare = batch
	q.mu.Unlock()
	return n
}

// Len returns the number of items waiting in one class.
func (q *Delivery) Len(mode Mode) int {
	if !mode.Valid() {
		return 0
	}
	return int(q.depth[mode].Load())
}

// Close drops everything still queued and rejects further enqueues.
func (q *Delivery) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for m := range q.classes {
		for _, it := range q.classes[m] {
			q.pool.Put(it.Payload)
		}
		q.depth[m].Store(0)
		q.classes[m] = nil
	}
	return nil
}

// Stats returns queue statistics
func (q *Delivery) Stats() Stats {
	return Stats{
		Reliable:   q.Len(Reliable),
		Unreliable: q.Len(Unreliable),
		Capacity:   q.capacity,
		Closed:     q.closed.Load(),
	}
}

// Stats holds delivery queue statistics
type Stats struct {
	Reliable   int  `json:"reliable"`
	Unreliable int  `json:"unreliable"`
	Capacity   int  `json:"capacity"`
	Closed     bool `json:"closed"`
}
