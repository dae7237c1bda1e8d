package vulkan

import (
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

// kindDescriptorSet tags registry entries for descriptor sets. Sets are never
// queued for destruction: they die with their pool reset.
const kindDescriptorSet = metadata.ObjectKindCount

var stageFlags = [metadata.ShaderStageCount]vk.ShaderStageFlagBits{
	metadata.ShaderStageVertex:   vk.ShaderStageVertexBit,
	metadata.ShaderStageHull:     vk.ShaderStageTessellationControlBit,
	metadata.ShaderStageDomain:   vk.ShaderStageTessellationEvaluationBit,
	metadata.ShaderStageGeometry: vk.ShaderStageGeometryBit,
	metadata.ShaderStagePixel:    vk.ShaderStageFragmentBit,
	metadata.ShaderStageCompute:  vk.ShaderStageComputeBit,
}

var classTypes = [metadata.BindingClassCount]vk.DescriptorType{
	metadata.BindingClassConstantBuffer:  vk.DescriptorTypeUniformBuffer,
	metadata.BindingClassShaderResource:  vk.DescriptorTypeSampledImage,
	metadata.BindingClassUnorderedAccess: vk.DescriptorTypeStorageImage,
	metadata.BindingClassSampler:         vk.DescriptorTypeSampler,
}

// bindingIndex flattens (stage, class, slot) into a binding of the fixed set
// layout. Graphics stages are laid out one after the other; compute uses a
// layout of its own starting at zero.
func bindingIndex(stage metadata.ShaderStage, class metadata.BindingClass, slot uint32) uint32 {
	base := uint32(0)
	if stage.IsGraphics() {
		base = uint32(stage) * metadata.SlotsPerStage
	}
	return base + class.BindingOffset() + slot
}

func stagesOf(graphics bool) []metadata.ShaderStage {
	if graphics {
		return []metadata.ShaderStage{
			metadata.ShaderStageVertex, metadata.ShaderStageHull, metadata.ShaderStageDomain,
			metadata.ShaderStageGeometry, metadata.ShaderStagePixel,
		}
	}
	return []metadata.ShaderStage{metadata.ShaderStageCompute}
}

func createSetLayout(context *VulkanContext, graphics bool) (vk.DescriptorSetLayout, error) {
	bindings := make([]vk.DescriptorSetLayoutBinding, 0, metadata.SlotsPerStage*uint32(metadata.ShaderStageCompute))
	for _, stage := range stagesOf(graphics) {
		for c := metadata.BindingClass(0); c < metadata.BindingClassCount; c++ {
			for slot := uint32(0); slot < c.SlotCount(); slot++ {
				bindings = append(bindings, vk.DescriptorSetLayoutBinding{
					Binding:         bindingIndex(stage, c, slot),
					DescriptorType:  classTypes[c],
					DescriptorCount: 1,
					StageFlags:      vk.ShaderStageFlags(stageFlags[stage]),
				})
			}
		}
	}

	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var layout vk.DescriptorSetLayout
	if err := check(vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &info, context.Allocator, &layout), "create descriptor set layout"); err != nil {
		return layout, err
	}
	return layout, nil
}

func createPipelineLayout(context *VulkanContext, set vk.DescriptorSetLayout) (vk.PipelineLayout, error) {
	info := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{set},
	}
	var layout vk.PipelineLayout
	err := check(vk.CreatePipelineLayout(context.Device.LogicalDevice, &info, context.Allocator, &layout), "create pipeline layout")
	return layout, err
}

// createLayouts builds the graphics and compute binding models shared by all
// frames.
func createLayouts(context *VulkanContext) error {
	var err error
	if context.GraphicsSetLayout, err = createSetLayout(context, true); err != nil {
		return err
	}
	if context.ComputeSetLayout, err = createSetLayout(context, false); err != nil {
		return err
	}
	if context.GraphicsPipelineLayout, err = createPipelineLayout(context, context.GraphicsSetLayout); err != nil {
		return err
	}
	if context.ComputePipelineLayout, err = createPipelineLayout(context, context.ComputeSetLayout); err != nil {
		return err
	}
	return nil
}

func destroyLayouts(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if context.GraphicsPipelineLayout != nil {
		vk.DestroyPipelineLayout(device, context.GraphicsPipelineLayout, context.Allocator)
		context.GraphicsPipelineLayout = nil
	}
	if context.ComputePipelineLayout != nil {
		vk.DestroyPipelineLayout(device, context.ComputePipelineLayout, context.Allocator)
		context.ComputePipelineLayout = nil
	}
	if context.GraphicsSetLayout != nil {
		vk.DestroyDescriptorSetLayout(device, context.GraphicsSetLayout, context.Allocator)
		context.GraphicsSetLayout = nil
	}
	if context.ComputeSetLayout != nil {
		vk.DestroyDescriptorSetLayout(device, context.ComputeSetLayout, context.Allocator)
		context.ComputeSetLayout = nil
	}
}

// VulkanDescriptorPool is the per-frame descriptor pool. Sets handed out are
// registered so command buffers can bind them by handle, and are all
// dropped when the pool is reset.
type VulkanDescriptorPool struct {
	context *VulkanContext
	Handle  vk.DescriptorPool

	mu   sync.Mutex
	sets []metadata.Handle
}

func NewVulkanDescriptorPool(context *VulkanContext, maxSets uint32) (*VulkanDescriptorPool, error) {
	// Every set can be either a graphics or a compute set; size for the
	// larger one.
	perSet := uint32(len(stagesOf(true)))
	sizes := make([]vk.DescriptorPoolSize, 0, metadata.BindingClassCount)
	for c := metadata.BindingClass(0); c < metadata.BindingClassCount; c++ {
		sizes = append(sizes, vk.DescriptorPoolSize{
			Type:            classTypes[c],
			DescriptorCount: c.SlotCount() * perSet * maxSets,
		})
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	if err := check(vk.CreateDescriptorPool(context.Device.LogicalDevice, &info, context.Allocator, &pool), "create descriptor pool"); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return &VulkanDescriptorPool{context: context, Handle: pool}, nil
}

func (p *VulkanDescriptorPool) Allocate(graphics bool, writes []metadata.DescriptorWrite) (metadata.Handle, error) {
	layout := p.context.ComputeSetLayout
	if graphics {
		layout = p.context.GraphicsSetLayout
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.Handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	var set vk.DescriptorSet
	if err := check(vk.AllocateDescriptorSets(p.context.Device.LogicalDevice, &info, &set), "allocate descriptor set"); err != nil {
		return metadata.InvalidHandle, err
	}

	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		vw, err := p.write(set, w)
		if err != nil {
			return metadata.InvalidHandle, err
		}
		vkWrites = append(vkWrites, vw)
	}
	vk.UpdateDescriptorSets(p.context.Device.LogicalDevice, uint32(len(vkWrites)), vkWrites, 0, nil)

	h := p.context.register(NativeObject{Kind: kindDescriptorSet, DescriptorSet: set})
	p.sets = append(p.sets, h)
	return h, nil
}

func (p *VulkanDescriptorPool) write(set vk.DescriptorSet, w metadata.DescriptorWrite) (vk.WriteDescriptorSet, error) {
	obj, ok := p.context.lookup(w.Handle)
	if !ok {
		return vk.WriteDescriptorSet{}, errors.Wrapf(core.ErrInvalidHandle, "%s %s slot %d bound to %d", w.Stage, w.Class, w.Slot, w.Handle)
	}
	vw := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      bindingIndex(w.Stage, w.Class, w.Slot),
		DescriptorCount: 1,
		DescriptorType:  classTypes[w.Class],
	}
	switch w.Class {
	case metadata.BindingClassConstantBuffer:
		if obj.Buffer == nil {
			return vw, errors.Wrapf(core.ErrUnsupportedKind, "%s bound as constant buffer", obj.Kind)
		}
		size := vk.DeviceSize(vk.WholeSize)
		if w.Range > 0 {
			size = vk.DeviceSize(w.Range)
		}
		vw.PBufferInfo = []vk.DescriptorBufferInfo{{
			Buffer: obj.Buffer,
			Offset: vk.DeviceSize(w.Offset),
			Range:  size,
		}}
	case metadata.BindingClassShaderResource, metadata.BindingClassUnorderedAccess:
		if obj.ImageView == nil {
			return vw, errors.Wrapf(core.ErrUnsupportedKind, "%s bound as %s", obj.Kind, w.Class)
		}
		vw.PImageInfo = []vk.DescriptorImageInfo{{
			ImageView:   obj.ImageView,
			ImageLayout: vk.ImageLayoutGeneral,
		}}
	case metadata.BindingClassSampler:
		if obj.Sampler == nil {
			return vw, errors.Wrapf(core.ErrUnsupportedKind, "%s bound as sampler", obj.Kind)
		}
		vw.PImageInfo = []vk.DescriptorImageInfo{{Sampler: obj.Sampler}}
	}
	return vw, nil
}

func (p *VulkanDescriptorPool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := check(vk.ResetDescriptorPool(p.context.Device.LogicalDevice, p.Handle, 0), "reset descriptor pool"); err != nil {
		return err
	}
	for _, h := range p.sets {
		if _, err := p.context.Objects.Release(uint64(h)); err != nil {
			core.LogWarn("descriptor set %d: %s", h, err)
		}
	}
	p.sets = p.sets[:0]
	return nil
}

func (p *VulkanDescriptorPool) Destroy() {
	if err := p.Reset(); err != nil {
		core.LogError(err.Error())
	}
	vk.DestroyDescriptorPool(p.context.Device.LogicalDevice, p.Handle, p.context.Allocator)
	p.Handle = nil
}
