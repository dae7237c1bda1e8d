package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

func allocateMemory(context *VulkanContext, reqs vk.MemoryRequirements, flags vk.MemoryPropertyFlagBits) (vk.DeviceMemory, error) {
	reqs.Deref()
	index := context.FindMemoryIndex(reqs.MemoryTypeBits, uint32(flags))
	if index < 0 {
		return nil, errors.Newf("no memory type for flags %#x", uint32(flags))
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if err := check(vk.AllocateMemory(context.Device.LogicalDevice, &info, context.Allocator, &memory), "allocate memory"); err != nil {
		return nil, err
	}
	return memory, nil
}

// createBuffer makes a buffer with dedicated memory. Host visible buffers
// stay mapped for their whole life.
func createBuffer(context *VulkanContext, size uint64, usage vk.BufferUsageFlagBits, hostVisible bool) (NativeObject, error) {
	device := context.Device.LogicalDevice
	obj := NativeObject{Kind: metadata.ObjectKindBuffer, Size: size}

	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	if err := check(vk.CreateBuffer(device, &info, context.Allocator, &obj.Buffer), "create buffer"); err != nil {
		return obj, err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, obj.Buffer, &reqs)
	flags := vk.MemoryPropertyDeviceLocalBit
	if hostVisible {
		flags = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	memory, err := allocateMemory(context, reqs, flags)
	if err != nil {
		vk.DestroyBuffer(device, obj.Buffer, context.Allocator)
		return obj, err
	}
	obj.Memory = memory
	if err := check(vk.BindBufferMemory(device, obj.Buffer, obj.Memory, 0), "bind buffer memory"); err != nil {
		destroyBuffer(context, obj)
		return obj, err
	}

	if hostVisible {
		var data unsafe.Pointer
		if err := check(vk.MapMemory(device, obj.Memory, 0, vk.DeviceSize(size), 0, &data), "map buffer memory"); err != nil {
			destroyBuffer(context, obj)
			return obj, err
		}
		obj.Mapped = unsafe.Slice((*byte)(data), size)
	}
	return obj, nil
}

func destroyBuffer(context *VulkanContext, obj NativeObject) {
	device := context.Device.LogicalDevice
	if obj.Mapped != nil {
		vk.UnmapMemory(device, obj.Memory)
	}
	if obj.Buffer != nil {
		vk.DestroyBuffer(device, obj.Buffer, context.Allocator)
	}
	if obj.Memory != nil {
		vk.FreeMemory(device, obj.Memory, context.Allocator)
	}
}

// createImage makes a 2D RGBA8 image with a default view over all of it.
func createImage(context *VulkanContext, width, height uint32) (NativeObject, error) {
	device := context.Device.LogicalDevice
	obj := NativeObject{Kind: metadata.ObjectKindImage}

	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vk.FormatR8g8b8a8Unorm,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageSampledBit | vk.ImageUsageStorageBit | vk.ImageUsageTransferDstBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if err := check(vk.CreateImage(device, &info, context.Allocator, &obj.Image), "create image"); err != nil {
		return obj, err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, obj.Image, &reqs)
	memory, err := allocateMemory(context, reqs, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vk.DestroyImage(device, obj.Image, context.Allocator)
		return obj, err
	}
	obj.Memory = memory
	if err := check(vk.BindImageMemory(device, obj.Image, obj.Memory, 0), "bind image memory"); err != nil {
		destroyImage(context, obj)
		return obj, err
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    obj.Image,
		ViewType: vk.ImageViewType2d,
		Format:   vk.FormatR8g8b8a8Unorm,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	if err := check(vk.CreateImageView(device, &viewInfo, context.Allocator, &obj.ImageView), "create image view"); err != nil {
		destroyImage(context, obj)
		return obj, err
	}
	context.Transitions.add(obj.Image)
	return obj, nil
}

func destroyImage(context *VulkanContext, obj NativeObject) {
	device := context.Device.LogicalDevice
	if obj.ImageView != nil {
		vk.DestroyImageView(device, obj.ImageView, context.Allocator)
	}
	if obj.Image != nil {
		context.Transitions.remove(obj.Image)
		vk.DestroyImage(device, obj.Image, context.Allocator)
	}
	if obj.Memory != nil {
		vk.FreeMemory(device, obj.Memory, context.Allocator)
	}
}

func createSampler(context *VulkanContext) (NativeObject, error) {
	obj := NativeObject{Kind: metadata.ObjectKindSampler}
	info := vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    vk.FilterLinear,
		MinFilter:    vk.FilterLinear,
		MipmapMode:   vk.SamplerMipmapModeLinear,
		AddressModeU: vk.SamplerAddressModeRepeat,
		AddressModeV: vk.SamplerAddressModeRepeat,
		AddressModeW: vk.SamplerAddressModeRepeat,
		MaxLod:       1,
		BorderColor:  vk.BorderColorIntOpaqueBlack,
	}
	err := check(vk.CreateSampler(context.Device.LogicalDevice, &info, context.Allocator, &obj.Sampler), "create sampler")
	return obj, err
}
