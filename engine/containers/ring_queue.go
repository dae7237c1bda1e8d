package containers

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

var (
	ErrQueueFull  = errors.New("queue is full")
	ErrQueueEmpty = errors.New("queue is empty")
)

type ringCell[T any] struct {
	seq   atomic.Uint64
	value T
}

// RingQueue is a bounded multi-producer multi-consumer FIFO. Every cell
// carries a sequence number that tells producers and consumers whose turn it
// is, so Enqueue and Dequeue never take a lock.
type RingQueue[T any] struct {
	cells []ringCell[T]
	mask  uint64
	size  int

	_          [56]byte
	writeIndex atomic.Uint64
	_          [56]byte
	readIndex  atomic.Uint64
}

// Create a new RingQueue holding at least size elements. The backing ring is
// rounded up to a power of two.
func NewRingQueue[T any](size int) *RingQueue[T] {
	if size < 1 {
		size = 1
	}
	n := 1
	for n < size {
		n <<= 1
	}
	rq := &RingQueue[T]{
		cells: make([]ringCell[T], n),
		mask:  uint64(n - 1),
		size:  n,
	}
	for i := range rq.cells {
		rq.cells[i].seq.Store(uint64(i))
	}
	return rq
}

// Enqueue adds an element to the queue
func (rq *RingQueue[T]) Enqueue(value T) error {
	pos := rq.writeIndex.Load()
	for {
		cell := &rq.cells[pos&rq.mask]
		seq := cell.seq.Load()
		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if rq.writeIndex.CompareAndSwap(pos, pos+1) {
				cell.value = value
				cell.seq.Store(pos + 1)
				return nil
			}
			pos = rq.writeIndex.Load()
		case diff < 0:
			return ErrQueueFull
		default:
			pos = rq.writeIndex.Load()
		}
	}
}

// Dequeue removes and returns the front element in the queue
func (rq *RingQueue[T]) Dequeue() (T, error) {
	pos := rq.readIndex.Load()
	for {
		cell := &rq.cells[pos&rq.mask]
		seq := cell.seq.Load()
		switch diff := int64(seq) - int64(pos+1); {
		case diff == 0:
			if rq.readIndex.CompareAndSwap(pos, pos+1) {
				var zero T
				value := cell.value
				cell.value = zero
				cell.seq.Store(pos + rq.mask + 1)
				return value, nil
			}
			pos = rq.readIndex.Load()
		case diff < 0:
			var zero T
			return zero, ErrQueueEmpty
		default:
			pos = rq.readIndex.Load()
		}
	}
}

// Len is the number of queued elements. Under concurrent use it is a snapshot.
func (rq *RingQueue[T]) Len() int {
	w := rq.writeIndex.Load()
	r := rq.readIndex.Load()
	if w < r {
		return 0
	}
	return int(w - r)
}

// Cap returns the ring capacity.
func (rq *RingQueue[T]) Cap() int {
	return rq.size
}

// IsEmpty checks if the queue is empty
func (rq *RingQueue[T]) IsEmpty() bool {
	return rq.Len() == 0
}

// IsFull checks if the queue is full
func (rq *RingQueue[T]) IsFull() bool {
	return rq.Len() >= rq.size
}
