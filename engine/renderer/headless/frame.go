package headless

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

var setIDs atomic.Uint64

// Frame holds the simulated objects of one ring slot.
type Frame struct {
	backend *Backend
	slot    int
	config  metadata.FrameConfig
	fence   *Fence
	buffers []*CommandBuffer
	uploads []*UploadBuffer
	pool    *DescriptorPool
}

func (f *Frame) Fence() metadata.Fence {
	return f.fence
}

func (f *Frame) CommandBuffer(cmd metadata.CommandList) (metadata.CommandBuffer, error) {
	if int(cmd) >= len(f.buffers) {
		return nil, errors.Wrapf(core.ErrInvalidHandle, "command list %d of %d", cmd, len(f.buffers))
	}
	if f.buffers[cmd] == nil {
		f.buffers[cmd] = &CommandBuffer{list: cmd}
	}
	return f.buffers[cmd], nil
}

func (f *Frame) UploadBuffer(cmd metadata.CommandList) (metadata.UploadBuffer, error) {
	if int(cmd) >= len(f.uploads) {
		return nil, errors.Wrapf(core.ErrInvalidHandle, "command list %d of %d", cmd, len(f.uploads))
	}
	if f.uploads[cmd] == nil {
		f.uploads[cmd] = &UploadBuffer{
			handle: f.backend.create(metadata.ObjectKindBuffer, f.config.LinearAllocatorSize),
			data:   make([]byte, f.config.LinearAllocatorSize),
		}
	}
	return f.uploads[cmd], nil
}

func (f *Frame) DescriptorPool() metadata.DescriptorPool {
	return f.pool
}

// Pool returns the concrete descriptor pool, for inspection in tests.
func (f *Frame) Pool() *DescriptorPool {
	return f.pool
}

func (f *Frame) ResetCommandBuffers() error {
	for _, cb := range f.buffers {
		if cb == nil {
			continue
		}
		if err := cb.reset(); err != nil {
			return err
		}
	}
	return nil
}

func (f *Frame) Submit(cmds []metadata.CommandBuffer) error {
	lists := make([]metadata.CommandList, 0, len(cmds))
	for _, c := range cmds {
		cb, ok := c.(*CommandBuffer)
		if !ok {
			return errors.Newf("foreign command buffer %T", c)
		}
		if cb.recording {
			return errors.Newf("command list %d submitted while recording", cb.list)
		}
		cb.submits++
		lists = append(lists, cb.list)
	}
	return f.backend.enqueue(f.slot, f.fence, lists)
}

func (f *Frame) Destroy() {
	for i, u := range f.uploads {
		if u == nil {
			continue
		}
		if _, err := f.backend.objects.Release(uint64(u.handle)); err != nil {
			core.LogError(err.Error())
		}
		f.uploads[i] = nil
	}
}

// Fence is signaled by the simulated GPU when a submission retires. Fences
// start out signaled.
type Fence struct {
	backend  *Backend
	mu       sync.Mutex
	signaled bool
	ch       chan struct{}
}

func newFence(b *Backend) *Fence {
	ch := make(chan struct{})
	close(ch)
	return &Fence{backend: b, signaled: true, ch: ch}
}

func (fe *Fence) Wait(ctx context.Context) error {
	if fe.backend.lost.Load() {
		return core.ErrDeviceLost
	}
	fe.mu.Lock()
	ch := fe.ch
	fe.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}
	if fe.backend.lost.Load() {
		return core.ErrDeviceLost
	}
	return nil
}

func (fe *Fence) Reset() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if fe.signaled {
		fe.ch = make(chan struct{})
		fe.signaled = false
	}
	return nil
}

func (fe *Fence) signal() {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if !fe.signaled {
		close(fe.ch)
		fe.signaled = true
	}
}

// IsSignaled reports the fence state without blocking.
func (fe *Fence) IsSignaled() bool {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.signaled
}

// SetBinding is one descriptor set bound on a command buffer.
type SetBinding struct {
	Graphics bool
	Set      metadata.Handle
}

// CommandBuffer records what was bound on it between Begin and End.
type CommandBuffer struct {
	list      metadata.CommandList
	recording bool
	begins    int
	submits   int
	bindings  []SetBinding
}

func (cb *CommandBuffer) List() metadata.CommandList {
	return cb.list
}

func (cb *CommandBuffer) Begin() error {
	if cb.recording {
		return errors.Newf("command list %d is already recording", cb.list)
	}
	cb.recording = true
	cb.begins++
	cb.bindings = cb.bindings[:0]
	return nil
}

func (cb *CommandBuffer) End() error {
	if !cb.recording {
		return errors.Newf("command list %d is not recording", cb.list)
	}
	cb.recording = false
	return nil
}

func (cb *CommandBuffer) BindDescriptorSet(graphics bool, set metadata.Handle) error {
	if !cb.recording {
		return errors.Newf("command list %d is not recording", cb.list)
	}
	cb.bindings = append(cb.bindings, SetBinding{Graphics: graphics, Set: set})
	return nil
}

func (cb *CommandBuffer) reset() error {
	if cb.recording {
		return errors.Newf("command list %d reset while recording", cb.list)
	}
	cb.bindings = cb.bindings[:0]
	return nil
}

// Bindings returns the sets bound since the last Begin.
func (cb *CommandBuffer) Bindings() []SetBinding {
	return cb.bindings
}

func (cb *CommandBuffer) Begins() int  { return cb.begins }
func (cb *CommandBuffer) Submits() int { return cb.submits }

// UploadBuffer is plain host memory standing in for a mapped GPU buffer.
type UploadBuffer struct {
	handle metadata.Handle
	data   []byte
}

func (u *UploadBuffer) Handle() metadata.Handle {
	return u.handle
}

func (u *UploadBuffer) Bytes() []byte {
	return u.data
}

// DescriptorPool keeps a copy of every set it handed out until reset.
type DescriptorPool struct {
	backend  *Backend
	capacity uint32

	mu           sync.Mutex
	sets         map[metadata.Handle][]metadata.DescriptorWrite
	allocations  uint64
	writes       uint64
	placeholders uint64
	resets       uint64
}

func (p *DescriptorPool) Allocate(graphics bool, writes []metadata.DescriptorWrite) (metadata.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if uint32(len(p.sets)) >= p.capacity {
		return metadata.InvalidHandle, errors.Wrapf(core.ErrDescriptorPoolExhausted, "%d sets", p.capacity)
	}
	if p.sets == nil {
		p.sets = make(map[metadata.Handle][]metadata.DescriptorWrite)
	}
	h := metadata.Handle(setIDs.Add(1))
	set := make([]metadata.DescriptorWrite, len(writes))
	copy(set, writes)
	p.sets[h] = set

	p.allocations++
	p.writes += uint64(len(writes))
	for _, w := range writes {
		if w.Placeholder {
			p.placeholders++
		}
	}
	return h, nil
}

func (p *DescriptorPool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.sets)
	p.resets++
	return nil
}

// Set returns the writes of a set allocated since the last reset.
func (p *DescriptorPool) Set(h metadata.Handle) ([]metadata.DescriptorWrite, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.sets[h]
	return set, ok
}

// PoolStats counts pool activity since creation.
type PoolStats struct {
	Live         int
	Allocations  uint64
	Writes       uint64
	Placeholders uint64
	Resets       uint64
}

func (p *DescriptorPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Live:         len(p.sets),
		Allocations:  p.allocations,
		Writes:       p.writes,
		Placeholders: p.placeholders,
		Resets:       p.resets,
	}
}
