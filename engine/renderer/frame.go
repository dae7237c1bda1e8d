package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/inflight/engine/renderer/descriptor"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
	"github.com/spaghettifunk/inflight/engine/renderer/transient"
)

// FrameResources is one slot of the frame ring. Per command list state is
// created the first time a command list is recorded in this slot.
//
// Each command list entry is only touched by the goroutine that acquired it,
// and by the frame goroutine between frames.
type FrameResources struct {
	slot    int
	backend metadata.FrameBackend
	nulls   metadata.NullResources

	buffers   []metadata.CommandBuffer
	recording []bool
	tables    []*descriptor.TableAllocator
	linear    []*transient.LinearAllocator
}

func newFrameResources(slot int, backend metadata.FrameBackend, nulls metadata.NullResources, commandLists int) *FrameResources {
	return &FrameResources{
		slot:      slot,
		backend:   backend,
		nulls:     nulls,
		buffers:   make([]metadata.CommandBuffer, commandLists),
		recording: make([]bool, commandLists),
		tables:    make([]*descriptor.TableAllocator, commandLists),
		linear:    make([]*transient.LinearAllocator, commandLists),
	}
}

func (f *FrameResources) Slot() int {
	return f.slot
}

func (f *FrameResources) Fence() metadata.Fence {
	return f.backend.Fence()
}

// begin starts recording cmd in this slot.
func (f *FrameResources) begin(cmd metadata.CommandList) error {
	cb := f.buffers[cmd]
	if cb == nil {
		var err error
		if cb, err = f.backend.CommandBuffer(cmd); err != nil {
			return errors.Wrapf(err, "command buffer %d of slot %d", cmd, f.slot)
		}
		f.buffers[cmd] = cb
	}
	if err := cb.Begin(); err != nil {
		return err
	}
	f.recording[cmd] = true

	if f.tables[cmd] == nil {
		f.tables[cmd] = descriptor.NewTableAllocator(f.backend.DescriptorPool(), f.nulls)
	} else {
		f.tables[cmd].Reset()
	}
	return nil
}

func (f *FrameResources) commandBuffer(cmd metadata.CommandList) metadata.CommandBuffer {
	return f.buffers[cmd]
}

func (f *FrameResources) table(cmd metadata.CommandList) *descriptor.TableAllocator {
	return f.tables[cmd]
}

func (f *FrameResources) allocator(cmd metadata.CommandList) (*transient.LinearAllocator, error) {
	if a := f.linear[cmd]; a != nil {
		return a, nil
	}
	buf, err := f.backend.UploadBuffer(cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "upload buffer %d of slot %d", cmd, f.slot)
	}
	a := transient.NewLinearAllocator(buf)
	f.linear[cmd] = a
	return a, nil
}

// finish ends every command buffer recording in this slot, in the order of
// cmds, and returns them ready for submission.
func (f *FrameResources) finish(cmds []metadata.CommandList, out []metadata.CommandBuffer) ([]metadata.CommandBuffer, error) {
	for _, cmd := range cmds {
		if !f.recording[cmd] {
			continue
		}
		f.recording[cmd] = false
		cb := f.buffers[cmd]
		if err := cb.End(); err != nil {
			return out, errors.Wrapf(err, "end command list %d", cmd)
		}
		out = append(out, cb)
	}
	return out, nil
}

// reset recycles the slot. Only valid once its fence signaled.
func (f *FrameResources) reset() error {
	if err := f.backend.DescriptorPool().Reset(); err != nil {
		return errors.Wrapf(err, "reset descriptor pool of slot %d", f.slot)
	}
	if err := f.backend.ResetCommandBuffers(); err != nil {
		return errors.Wrapf(err, "reset command buffers of slot %d", f.slot)
	}
	for _, a := range f.linear {
		if a != nil {
			a.Reset()
		}
	}
	return nil
}

// Used returns the transient bytes consumed by cmd in this slot.
func (f *FrameResources) Used(cmd metadata.CommandList) uint64 {
	if int(cmd) >= len(f.linear) || f.linear[cmd] == nil {
		return 0
	}
	return f.linear[cmd].Used()
}

// TotalUsed returns the transient bytes consumed by all command lists.
func (f *FrameResources) TotalUsed() uint64 {
	var n uint64
	for _, a := range f.linear {
		if a != nil {
			n += a.Used()
		}
	}
	return n
}

// Resets returns how many times cmd's linear allocator was rewound.
func (f *FrameResources) Resets(cmd metadata.CommandList) uint64 {
	if int(cmd) >= len(f.linear) || f.linear[cmd] == nil {
		return 0
	}
	return f.linear[cmd].Resets()
}

func (f *FrameResources) destroy() {
	f.backend.Destroy()
}
