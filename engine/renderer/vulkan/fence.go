package vulkan

import (
	"context"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/inflight/engine/core"
)

// fenceWaitSlice bounds one vkWaitForFences call so cancellation of the
// context is noticed.
const fenceWaitSlice = 10 * time.Millisecond

type VulkanFence struct {
	context    *VulkanContext
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{
		context: context,
		// Make sure to signal the fence if required.
		IsSignaled: createSignaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if err := check(vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &pFence), "create fence"); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) Destroy() {
	if vf.Handle != nil {
		vk.DestroyFence(vf.context.Device.LogicalDevice, vf.Handle, vf.context.Allocator)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}

// Wait blocks until the fence signals, ctx is done or the device is lost.
func (vf *VulkanFence) Wait(ctx context.Context) error {
	if vf.IsSignaled {
		// If already signaled, do not wait.
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		slice := fenceWaitSlice
		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left < slice {
				slice = max(left, 0)
			}
		}

		result := vk.WaitForFences(vf.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, uint64(slice.Nanoseconds()))
		switch result {
		case vk.Success:
			vf.IsSignaled = true
			return nil
		case vk.Timeout:
			continue
		case vk.ErrorDeviceLost:
			core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
			return check(result, "wait fence")
		default:
			return core.WithStatus(check(result, "wait fence"), core.ErrDeviceLost)
		}
	}
}

func (vf *VulkanFence) Reset() error {
	if vf.IsSignaled {
		if err := check(vk.ResetFences(vf.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}), "reset fence"); err != nil {
			core.LogError(err.Error())
			return err
		}
		vf.IsSignaled = false
	}
	return nil
}
