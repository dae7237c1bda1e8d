package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// VulkanCommandBuffer is the primary command buffer of one command list in
// one ring slot. It owns its command pool so command lists can be recorded
// from different goroutines.
type VulkanCommandBuffer struct {
	context *VulkanContext
	list    metadata.CommandList
	Pool    vk.CommandPool
	Handle  vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState
}

func NewVulkanCommandBuffer(context *VulkanContext, list metadata.CommandList) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		context: context,
		list:    list,
		State:   COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(context.Device.QueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	var pool vk.CommandPool
	if err := check(vk.CreateCommandPool(context.Device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool), "create command pool"); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	vCommandBuffer.Pool = pool

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := check(vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles), "allocate command buffer"); err != nil {
		vk.DestroyCommandPool(context.Device.LogicalDevice, pool, context.Allocator)
		core.LogError(err.Error())
		return nil, err
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY

	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) List() metadata.CommandList {
	return v.list
}

// Free releases the command buffer together with its pool.
func (v *VulkanCommandBuffer) Free() {
	if v.Pool == nil {
		return
	}
	vk.FreeCommandBuffers(v.context.Device.LogicalDevice, v.Pool, 1, []vk.CommandBuffer{v.Handle})
	vk.DestroyCommandPool(v.context.Device.LogicalDevice, v.Pool, v.context.Allocator)
	v.Handle = nil
	v.Pool = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin() error {
	if v.State != COMMAND_BUFFER_STATE_READY {
		return errors.Newf("command list %d is not ready to record (state %d)", v.list, v.State)
	}
	vBeginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := check(vk.BeginCommandBuffer(v.Handle, vBeginInfo), "begin command buffer"); err != nil {
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if err := check(vk.EndCommandBuffer(v.Handle), "end command buffer"); err != nil {
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) BindDescriptorSet(graphics bool, set metadata.Handle) error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		return errors.Newf("command list %d is not recording", v.list)
	}
	obj, ok := v.context.lookup(set)
	if !ok || obj.Kind != kindDescriptorSet {
		return errors.Wrapf(core.ErrInvalidHandle, "descriptor set %d", set)
	}
	bindPoint := vk.PipelineBindPointCompute
	layout := v.context.ComputePipelineLayout
	if graphics {
		bindPoint = vk.PipelineBindPointGraphics
		layout = v.context.GraphicsPipelineLayout
	}
	vk.CmdBindDescriptorSets(v.Handle, bindPoint, layout, 0, 1, []vk.DescriptorSet{obj.DescriptorSet}, 0, nil)
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

// Reset recycles the pool. Only valid once the submission retired.
func (v *VulkanCommandBuffer) Reset() error {
	if v.State == COMMAND_BUFFER_STATE_RECORDING {
		return errors.Newf("command list %d reset while recording", v.list)
	}
	if err := check(vk.ResetCommandPool(v.context.Device.LogicalDevice, v.Pool, 0), "reset command pool"); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}
