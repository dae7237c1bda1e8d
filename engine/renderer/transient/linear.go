package transient

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/math"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

// Allocation is a region of a frame's upload buffer.
type Allocation struct {
	// Data is the mapped memory of the region. Its capacity is clipped to
	// the region size.
	Data []byte
	// Offset is the byte offset of Data inside Buffer, for GPU addressing.
	Offset uint64
	Buffer metadata.Handle
}

// LinearAllocator is a bump allocator over one command list's upload buffer
// in one ring slot. Regions handed out in a frame stay valid until the slot
// is reused, which happens only after its fence signaled.
//
// A LinearAllocator is owned by a single command list and is not safe for
// concurrent use.
type LinearAllocator struct {
	buffer metadata.Handle
	data   []byte
	cursor uint64
	resets uint64
}

func NewLinearAllocator(buf metadata.UploadBuffer) *LinearAllocator {
	return &LinearAllocator{
		buffer: buf.Handle(),
		data:   buf.Bytes(),
	}
}

// Allocate reserves size bytes aligned to alignment. Running out of space is
// a sizing error: the buffer never grows.
func (a *LinearAllocator) Allocate(size, alignment uint64) (Allocation, error) {
	if alignment == 0 {
		alignment = 1
	}
	if !math.IsPowerOfTwo(alignment) {
		return Allocation{}, errors.Wrapf(core.ErrInvalidAlignment, "alignment %d", alignment)
	}

	offset := math.AlignUp(a.cursor, alignment)
	capacity := uint64(len(a.data))
	if offset > capacity || size > capacity-offset {
		return Allocation{}, errors.Wrapf(core.ErrLinearAllocatorOverflow,
			"requested %d bytes at offset %d, capacity %d", size, offset, capacity)
	}

	a.cursor = offset + size
	end := offset + size
	return Allocation{
		Data:   a.data[offset:end:end],
		Offset: offset,
		Buffer: a.buffer,
	}, nil
}

// Reset rewinds the cursor. Only call once the slot's previous GPU work is
// known complete.
func (a *LinearAllocator) Reset() {
	a.cursor = 0
	a.resets++
}

// Used returns the bytes consumed this frame, alignment padding included.
func (a *LinearAllocator) Used() uint64 {
	return a.cursor
}

func (a *LinearAllocator) Capacity() uint64 {
	return uint64(len(a.data))
}

// Resets returns how many times the allocator was rewound.
func (a *LinearAllocator) Resets() uint64 {
	return a.resets
}
