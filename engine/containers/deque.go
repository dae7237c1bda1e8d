package containers

// Deque is a growable FIFO backed by a ring buffer. It is not safe for
// concurrent use.
type Deque[T any] struct {
	data  []T
	head  int
	count int
}

func NewDeque[T any](capacityHint int) *Deque[T] {
	if capacityHint < 1 {
		capacityHint = 16
	}
	return &Deque[T]{data: make([]T, capacityHint)}
}

// PushBack appends v at the back, growing the ring if needed.
func (d *Deque[T]) PushBack(v T) {
	if d.count == len(d.data) {
		d.grow()
	}
	d.data[(d.head+d.count)%len(d.data)] = v
	d.count++
}

// Front returns the front element without removing it.
func (d *Deque[T]) Front() (T, bool) {
	if d.count == 0 {
		var zero T
		return zero, false
	}
	return d.data[d.head], true
}

// PopFront removes and returns the front element.
func (d *Deque[T]) PopFront() (T, bool) {
	var zero T
	if d.count == 0 {
		return zero, false
	}
	v := d.data[d.head]
	d.data[d.head] = zero
	d.head = (d.head + 1) % len(d.data)
	d.count--
	return v, true
}

func (d *Deque[T]) Len() int {
	return d.count
}

func (d *Deque[T]) IsEmpty() bool {
	return d.count == 0
}

func (d *Deque[T]) grow() {
	n := len(d.data) * 2
	if n == 0 {
		n = 16
	}
	data := make([]T, n)
	for i := 0; i < d.count; i++ {
		data[i] = d.data[(d.head+i)%len(d.data)]
	}
	d.data = data
	d.head = 0
}
