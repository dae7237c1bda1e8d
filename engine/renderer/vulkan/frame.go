package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

// VulkanFrame owns the objects of one ring slot.
type VulkanFrame struct {
	context *VulkanContext
	slot    int
	config  metadata.FrameConfig

	fence   *VulkanFence
	buffers []*VulkanCommandBuffer
	// transition runs the layout changes of new images ahead of the
	// command lists of a submission.
	transition *VulkanCommandBuffer
	images     []vk.Image
	uploads []metadata.Handle
	pool    *VulkanDescriptorPool
}

func newVulkanFrame(context *VulkanContext, slot int, cfg metadata.FrameConfig) (*VulkanFrame, error) {
	// Created signaled so the first wait on a fresh slot returns at once.
	fence, err := NewFence(context, true)
	if err != nil {
		return nil, err
	}
	pool, err := NewVulkanDescriptorPool(context, cfg.DescriptorPoolSize)
	if err != nil {
		fence.Destroy()
		return nil, err
	}
	return &VulkanFrame{
		context: context,
		slot:    slot,
		config:  cfg,
		fence:   fence,
		buffers: make([]*VulkanCommandBuffer, cfg.CommandListCount),
		uploads: make([]metadata.Handle, cfg.CommandListCount),
		pool:    pool,
	}, nil
}

func (f *VulkanFrame) Fence() metadata.Fence {
	return f.fence
}

func (f *VulkanFrame) CommandBuffer(cmd metadata.CommandList) (metadata.CommandBuffer, error) {
	if int(cmd) >= len(f.buffers) {
		return nil, errors.Wrapf(core.ErrInvalidHandle, "command list %d of %d", cmd, len(f.buffers))
	}
	if f.buffers[cmd] == nil {
		cb, err := NewVulkanCommandBuffer(f.context, cmd)
		if err != nil {
			return nil, err
		}
		f.buffers[cmd] = cb
	}
	return f.buffers[cmd], nil
}

type uploadBuffer struct {
	handle metadata.Handle
	data   []byte
}

func (u uploadBuffer) Handle() metadata.Handle { return u.handle }
func (u uploadBuffer) Bytes() []byte           { return u.data }

func (f *VulkanFrame) UploadBuffer(cmd metadata.CommandList) (metadata.UploadBuffer, error) {
	if int(cmd) >= len(f.uploads) {
		return nil, errors.Wrapf(core.ErrInvalidHandle, "command list %d of %d", cmd, len(f.uploads))
	}
	if h := f.uploads[cmd]; h.IsValid() {
		obj, _ := f.context.lookup(h)
		return uploadBuffer{handle: h, data: obj.Mapped}, nil
	}

	usage := vk.BufferUsageTransferSrcBit | vk.BufferUsageUniformBufferBit | vk.BufferUsageStorageBufferBit |
		vk.BufferUsageVertexBufferBit | vk.BufferUsageIndexBufferBit
	obj, err := createBuffer(f.context, f.config.LinearAllocatorSize, usage, true)
	if err != nil {
		return nil, errors.Wrapf(err, "upload buffer of command list %d", cmd)
	}
	h := f.context.register(obj)
	f.uploads[cmd] = h
	return uploadBuffer{handle: h, data: obj.Mapped}, nil
}

func (f *VulkanFrame) DescriptorPool() metadata.DescriptorPool {
	return f.pool
}

func (f *VulkanFrame) ResetCommandBuffers() error {
	if f.transition != nil {
		if err := f.transition.Reset(); err != nil {
			return err
		}
	}
	for _, cb := range f.buffers {
		if cb == nil {
			continue
		}
		if err := cb.Reset(); err != nil {
			return err
		}
	}
	return nil
}

// recordTransitions fills the transition command buffer with every image
// created since the previous submission. It reports false when there is
// nothing to transition.
func (f *VulkanFrame) recordTransitions() (bool, error) {
	f.images = f.context.Transitions.take(f.images[:0])
	if len(f.images) == 0 {
		return false, nil
	}
	if f.transition == nil {
		cb, err := NewVulkanCommandBuffer(f.context, metadata.InvalidCommandList)
		if err != nil {
			return false, err
		}
		f.transition = cb
	}
	if err := f.transition.Begin(); err != nil {
		return false, err
	}
	recordTransitions(f.transition.Handle, f.images)
	if err := f.transition.End(); err != nil {
		return false, err
	}
	return true, nil
}

func (f *VulkanFrame) Submit(cmds []metadata.CommandBuffer) error {
	handles := make([]vk.CommandBuffer, 0, len(cmds)+1)
	transitioned, err := f.recordTransitions()
	if err != nil {
		return errors.Wrapf(err, "image transitions of slot %d", f.slot)
	}
	if transitioned {
		handles = append(handles, f.transition.Handle)
	}
	for _, c := range cmds {
		cb, ok := c.(*VulkanCommandBuffer)
		if !ok {
			return errors.Newf("foreign command buffer %T", c)
		}
		handles = append(handles, cb.Handle)
	}

	// An empty submit still signals the fence.
	var submits []vk.SubmitInfo
	if len(handles) > 0 {
		submits = []vk.SubmitInfo{{
			SType:              vk.StructureTypeSubmitInfo,
			CommandBufferCount: uint32(len(handles)),
			PCommandBuffers:    handles,
		}}
	}

	err = f.context.Locks.SafeCall(QueueManagement, func() error {
		return check(vk.QueueSubmit(f.context.Device.Queue, uint32(len(submits)), submits, f.fence.Handle), "queue submit")
	})
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	if transitioned {
		f.transition.UpdateSubmitted()
	}
	for _, c := range cmds {
		c.(*VulkanCommandBuffer).UpdateSubmitted()
	}
	return nil
}

func (f *VulkanFrame) Destroy() {
	if f.transition != nil {
		f.transition.Free()
		f.transition = nil
	}
	for i, cb := range f.buffers {
		if cb != nil {
			cb.Free()
			f.buffers[i] = nil
		}
	}
	for i, h := range f.uploads {
		if !h.IsValid() {
			continue
		}
		if obj, err := f.context.Objects.Release(uint64(h)); err == nil {
			destroyBuffer(f.context, obj)
		}
		f.uploads[i] = metadata.InvalidHandle
	}
	f.pool.Destroy()
	f.fence.Destroy()
}
