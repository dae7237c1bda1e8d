package vulkan

import (
	"context"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/platform"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

type Options struct {
	ApplicationName string
	// Debug enables the validation layers.
	Debug          bool
	PreferDiscrete bool
}

// VulkanRenderer is the Vulkan implementation of the graphics device. It
// renders offscreen: presentation belongs to the caller.
type VulkanRenderer struct {
	platform *platform.Platform
	context  *VulkanContext
	nulls    metadata.NullResources
}

func New(p *platform.Platform, opts Options) (*VulkanRenderer, error) {
	vr := &VulkanRenderer{
		platform: p,
		context: &VulkanContext{
			Allocator: nil,
			Objects:   core.NewHandleTable[NativeObject](1024),
			Locks:     NewVulkanLockPool(),
		},
	}
	if err := vr.initialize(opts); err != nil {
		vr.teardown()
		return nil, err
	}
	core.LogInfo("Vulkan renderer initialized successfully.")
	return vr, nil
}

func (vr *VulkanRenderer) initialize(opts Options) error {
	if err := vr.platform.Startup(); err != nil {
		return err
	}
	procAddr, err := vr.platform.VulkanProcAddr()
	if err != nil {
		return err
	}
	if err := createInstance(vr.context, opts.ApplicationName, procAddr, opts.Debug); err != nil {
		return err
	}
	if err := DeviceCreate(vr.context, opts.PreferDiscrete); err != nil {
		return errors.Wrap(err, "failed to create device")
	}
	if err := createLayouts(vr.context); err != nil {
		return err
	}
	return vr.createNullResources()
}

func (vr *VulkanRenderer) createNullResources() error {
	buffer, err := createBuffer(vr.context, 256, vk.BufferUsageUniformBufferBit|vk.BufferUsageStorageBufferBit, false)
	if err != nil {
		return errors.Wrap(err, "null buffer")
	}
	vr.nulls.Buffer = vr.context.register(buffer)

	image, err := createImage(vr.context, 1, 1)
	if err != nil {
		return errors.Wrap(err, "null image")
	}
	vr.nulls.Image = vr.context.register(image)

	sampler, err := createSampler(vr.context)
	if err != nil {
		return errors.Wrap(err, "null sampler")
	}
	vr.nulls.Sampler = vr.context.register(sampler)
	return nil
}

func (vr *VulkanRenderer) Name() string {
	return "vulkan"
}

func (vr *VulkanRenderer) Releasers() metadata.ReleaseTable {
	return releaseTable(vr.context)
}

func (vr *VulkanRenderer) NullResources() metadata.NullResources {
	return vr.nulls
}

func (vr *VulkanRenderer) CreateFrame(slot int, cfg metadata.FrameConfig) (metadata.FrameBackend, error) {
	return newVulkanFrame(vr.context, slot, cfg)
}

func (vr *VulkanRenderer) CreateObject(kind metadata.ObjectKind) (metadata.Handle, error) {
	var (
		obj NativeObject
		err error
	)
	switch kind {
	case metadata.ObjectKindBuffer:
		obj, err = createBuffer(vr.context, 256, vk.BufferUsageUniformBufferBit|vk.BufferUsageTransferDstBit, false)
	case metadata.ObjectKindImage:
		obj, err = createImage(vr.context, 1, 1)
	case metadata.ObjectKindSampler:
		obj, err = createSampler(vr.context)
	case metadata.ObjectKindRenderPass:
		obj, err = createRenderPass(vr.context)
	default:
		return metadata.InvalidHandle, errors.Wrapf(core.ErrNotImplemented, "create %s", kind)
	}
	if err != nil {
		return metadata.InvalidHandle, err
	}
	return vr.context.register(obj), nil
}

// WaitIdle blocks on vkDeviceWaitIdle, which cannot be interrupted: ctx is
// only checked before the call.
func (vr *VulkanRenderer) WaitIdle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return vr.context.Locks.SafeCall(QueueManagement, func() error {
		return check(vk.DeviceWaitIdle(vr.context.Device.LogicalDevice), "device wait idle")
	})
}

func (vr *VulkanRenderer) Destroy() error {
	vr.teardown()
	return nil
}

// teardown destroys in the opposite order of creation and copes with a
// partially initialized renderer.
func (vr *VulkanRenderer) teardown() {
	c := vr.context
	if c.Device != nil && c.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(c.Device.LogicalDevice)

		for _, h := range []metadata.Handle{vr.nulls.Buffer, vr.nulls.Image, vr.nulls.Sampler} {
			if !h.IsValid() {
				continue
			}
			if obj, err := c.Objects.Release(uint64(h)); err == nil {
				destroyers[obj.Kind](c, obj)
			}
		}
		vr.nulls = metadata.NullResources{}

		destroyLeaked(c)
		destroyLayouts(c)
	}
	DeviceDestroy(c)
	destroyInstance(c)
	if err := vr.platform.Shutdown(); err != nil {
		core.LogError(err.Error())
	}
}
