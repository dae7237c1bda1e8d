package core

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// HandleTable hands out small integer identifiers for owned objects. Ids
// start at 1 so that 0 can be used as the invalid handle. Released ids are
// recycled.
//
// HandleTable is safe for concurrent use.
type HandleTable[T any] struct {
	mu     sync.RWMutex
	owners []T
	used   []bool
	free   []uint64
	live   int
}

func NewHandleTable[T any](capacityHint int) *HandleTable[T] {
	if capacityHint <= 0 {
		capacityHint = 100
	}
	return &HandleTable[T]{
		owners: make([]T, 0, capacityHint),
		used:   make([]bool, 0, capacityHint),
	}
}

// Acquire stores owner and returns its new id.
func (t *HandleTable[T]) Acquire(owner T) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.live++
	// Existing free spot. Take it.
	if n := len(t.free); n > 0 {
		id := t.free[n-1]
		t.free = t.free[:n-1]
		t.owners[id-1] = owner
		t.used[id-1] = true
		return id
	}

	// No free slots, push a new one. The id is the new length.
	t.owners = append(t.owners, owner)
	t.used = append(t.used, true)
	return uint64(len(t.owners))
}

// Get returns the owner registered under id.
func (t *HandleTable[T]) Get(id uint64) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var zero T
	if id == 0 || id > uint64(len(t.owners)) || !t.used[id-1] {
		return zero, false
	}
	return t.owners[id-1], true
}

// Release frees id for reuse and returns the owner it held.
func (t *HandleTable[T]) Release(id uint64) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	length := uint64(len(t.owners))
	if id == 0 || id > length {
		return zero, errors.Wrapf(ErrInvalidHandle, "id '%d' out of range (max=%d)", id, length)
	}
	if !t.used[id-1] {
		return zero, errors.Wrapf(ErrInvalidHandle, "id '%d' is not in use", id)
	}

	// Just zero out the entry, making it available for use.
	owner := t.owners[id-1]
	t.owners[id-1] = zero
	t.used[id-1] = false
	t.free = append(t.free, id)
	t.live--
	return owner, nil
}

// Len returns the number of ids currently in use.
func (t *HandleTable[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// Each calls fn for every live id. fn must not call back into the table.
func (t *HandleTable[T]) Each(fn func(id uint64, owner T)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.owners {
		if t.used[i] {
			fn(uint64(i+1), t.owners[i])
		}
	}
}
