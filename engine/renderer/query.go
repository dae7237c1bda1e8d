package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/inflight/engine/containers"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

// QueryPool hands out query slots of one kind. Slots are never destroyed:
// when a destroy request for a slot is reclaimed the slot goes back to the
// free list.
type QueryPool struct {
	kind  metadata.ObjectKind
	count uint32
	free  *containers.RingQueue[uint32]
}

func NewQueryPool(kind metadata.ObjectKind, count uint32) (*QueryPool, error) {
	if !kind.IsQuery() {
		return nil, errors.Wrapf(core.ErrUnsupportedKind, "%s is not a query kind", kind)
	}
	qp := &QueryPool{
		kind:  kind,
		count: count,
		free:  containers.NewRingQueue[uint32](int(count)),
	}
	for i := uint32(0); i < count; i++ {
		if err := qp.free.Enqueue(i); err != nil {
			return nil, err
		}
	}
	return qp, nil
}

// Acquire returns a free slot. Safe for concurrent use.
func (qp *QueryPool) Acquire() (metadata.Handle, error) {
	index, err := qp.free.Dequeue()
	if err != nil {
		return metadata.InvalidHandle, errors.Wrapf(core.ErrQueryPoolExhausted, "%s pool of %d", qp.kind, qp.count)
	}
	return metadata.Handle(index) + 1, nil
}

// Release puts a slot back on the free list. It is the release strategy the
// reclaim queue uses for query kinds.
func (qp *QueryPool) Release(h metadata.Handle) error {
	if !h.IsValid() || uint64(h) > uint64(qp.count) {
		return errors.Wrapf(core.ErrInvalidHandle, "%s slot %d", qp.kind, h)
	}
	return qp.free.Enqueue(uint32(h - 1))
}

// Index is the slot's position in the backend query heap.
func (qp *QueryPool) Index(h metadata.Handle) uint32 {
	return uint32(h - 1)
}

// Available returns the number of free slots.
func (qp *QueryPool) Available() int {
	return qp.free.Len()
}

func (qp *QueryPool) Count() uint32 {
	return qp.count
}
