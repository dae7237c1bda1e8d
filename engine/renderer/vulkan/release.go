package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

// destroyers holds the vkDestroy* call of every kind the backend can free.
// Acceleration structures need an extension the device does not enable, so
// they have no entry and cannot be queued.
var destroyers = map[metadata.ObjectKind]func(*VulkanContext, NativeObject){
	metadata.ObjectKindBuffer: destroyBuffer,
	metadata.ObjectKindBufferView: func(c *VulkanContext, o NativeObject) {
		vk.DestroyBufferView(c.Device.LogicalDevice, o.BufferView, c.Allocator)
	},
	metadata.ObjectKindImage: destroyImage,
	metadata.ObjectKindImageView: func(c *VulkanContext, o NativeObject) {
		vk.DestroyImageView(c.Device.LogicalDevice, o.ImageView, c.Allocator)
	},
	metadata.ObjectKindSampler: func(c *VulkanContext, o NativeObject) {
		vk.DestroySampler(c.Device.LogicalDevice, o.Sampler, c.Allocator)
	},
	metadata.ObjectKindPipeline: func(c *VulkanContext, o NativeObject) {
		vk.DestroyPipeline(c.Device.LogicalDevice, o.Pipeline, c.Allocator)
	},
	metadata.ObjectKindPipelineLayout: func(c *VulkanContext, o NativeObject) {
		vk.DestroyPipelineLayout(c.Device.LogicalDevice, o.PipelineLayout, c.Allocator)
	},
	metadata.ObjectKindDescriptorPool: func(c *VulkanContext, o NativeObject) {
		vk.DestroyDescriptorPool(c.Device.LogicalDevice, o.DescriptorPool, c.Allocator)
	},
	metadata.ObjectKindDescriptorSetLayout: func(c *VulkanContext, o NativeObject) {
		vk.DestroyDescriptorSetLayout(c.Device.LogicalDevice, o.DescriptorSetLayout, c.Allocator)
	},
	metadata.ObjectKindShaderModule: func(c *VulkanContext, o NativeObject) {
		vk.DestroyShaderModule(c.Device.LogicalDevice, o.ShaderModule, c.Allocator)
	},
	metadata.ObjectKindRenderPass: func(c *VulkanContext, o NativeObject) {
		vk.DestroyRenderPass(c.Device.LogicalDevice, o.RenderPass, c.Allocator)
	},
	metadata.ObjectKindFramebuffer: func(c *VulkanContext, o NativeObject) {
		vk.DestroyFramebuffer(c.Device.LogicalDevice, o.Framebuffer, c.Allocator)
	},
}

func releaser(context *VulkanContext, kind metadata.ObjectKind, destroy func(*VulkanContext, NativeObject)) metadata.ReleaseFunc {
	return func(h metadata.Handle) error {
		obj, ok := context.lookup(h)
		if !ok {
			return errors.Wrapf(core.ErrInvalidHandle, "%s %d", kind, h)
		}
		if obj.Kind != kind {
			return errors.Wrapf(core.ErrInvalidHandle, "handle %d is a %s, not a %s", h, obj.Kind, kind)
		}
		if _, err := context.Objects.Release(uint64(h)); err != nil {
			return err
		}
		destroy(context, obj)
		return nil
	}
}

func releaseTable(context *VulkanContext) metadata.ReleaseTable {
	var table metadata.ReleaseTable
	for kind, destroy := range destroyers {
		table[kind] = releaser(context, kind, destroy)
	}
	return table
}

// destroyLeaked frees whatever is still registered when the device goes away.
// Descriptor sets have no destroyer and only leave the registry.
func destroyLeaked(c *VulkanContext) {
	var leaked []uint64
	c.Objects.Each(func(id uint64, _ NativeObject) {
		leaked = append(leaked, id)
	})
	if len(leaked) == 0 {
		return
	}
	core.LogWarn("destroying Vulkan device with %d live objects", len(leaked))
	for _, id := range leaked {
		obj, err := c.Objects.Release(id)
		if err != nil {
			continue
		}
		if destroy, ok := destroyers[obj.Kind]; ok {
			destroy(c, obj)
		}
	}
}
