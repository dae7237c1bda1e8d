package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

// NativeObject is the Vulkan object a Handle stands for. Only the fields of
// its kind are set.
type NativeObject struct {
	Kind   metadata.ObjectKind
	Buffer vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64
	// Mapped is the host view of Memory for host visible buffers.
	Mapped              []byte
	BufferView          vk.BufferView
	Image               vk.Image
	ImageView           vk.ImageView
	Sampler             vk.Sampler
	Pipeline            vk.Pipeline
	PipelineLayout      vk.PipelineLayout
	DescriptorPool      vk.DescriptorPool
	DescriptorSetLayout vk.DescriptorSetLayout
	DescriptorSet       vk.DescriptorSet
	ShaderModule        vk.ShaderModule
	RenderPass          vk.RenderPass
	Framebuffer         vk.Framebuffer
}

type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks

	debugMessenger vk.DebugReportCallback
	debugEnabled   bool

	Device *VulkanDevice

	// Objects maps engine handles to native objects.
	Objects *core.HandleTable[NativeObject]
	Locks   *VulkanLockPool

	// Transitions holds new images waiting for their first layout change.
	Transitions layoutTransitions

	// Descriptor set layouts shared by every frame.
	GraphicsSetLayout      vk.DescriptorSetLayout
	ComputeSetLayout       vk.DescriptorSetLayout
	GraphicsPipelineLayout vk.PipelineLayout
	ComputePipelineLayout  vk.PipelineLayout
}

func (vc *VulkanContext) register(obj NativeObject) metadata.Handle {
	return metadata.Handle(vc.Objects.Acquire(obj))
}

func (vc *VulkanContext) lookup(h metadata.Handle) (NativeObject, bool) {
	return vc.Objects.Get(uint64(h))
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vc.Device.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}
