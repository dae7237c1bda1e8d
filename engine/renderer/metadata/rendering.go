package metadata

// ShaderStage identifies the pipeline stage a descriptor table belongs to.
type ShaderStage uint8

const (
	ShaderStageVertex ShaderStage = iota
	ShaderStageHull
	ShaderStageDomain
	ShaderStageGeometry
	ShaderStagePixel
	ShaderStageCompute

	ShaderStageCount
)

var shaderStageNames = [ShaderStageCount]string{"vs", "hs", "ds", "gs", "ps", "cs"}

func (s ShaderStage) String() string {
	if s < ShaderStageCount {
		return shaderStageNames[s]
	}
	return "unknown"
}

// IsGraphics reports whether s takes part in graphics pipelines.
func (s ShaderStage) IsGraphics() bool {
	return s < ShaderStageCompute
}

// BindingClass is the kind of descriptor slot a binding occupies.
type BindingClass uint8

const (
	BindingClassConstantBuffer BindingClass = iota
	BindingClassShaderResource
	BindingClassUnorderedAccess
	BindingClassSampler

	BindingClassCount
)

func (c BindingClass) String() string {
	switch c {
	case BindingClassConstantBuffer:
		return "cbv"
	case BindingClassShaderResource:
		return "srv"
	case BindingClassUnorderedAccess:
		return "uav"
	case BindingClassSampler:
		return "sampler"
	}
	return "unknown"
}

// Slot counts per shader stage.
const (
	MaxConstantBufferSlots  uint32 = 12
	MaxShaderResourceSlots  uint32 = 64
	MaxUnorderedAccessSlots uint32 = 8
	MaxSamplerSlots         uint32 = 16
)

// SlotCount returns how many slots a stage table has for class c.
func (c BindingClass) SlotCount() uint32 {
	switch c {
	case BindingClassConstantBuffer:
		return MaxConstantBufferSlots
	case BindingClassShaderResource:
		return MaxShaderResourceSlots
	case BindingClassUnorderedAccess:
		return MaxUnorderedAccessSlots
	case BindingClassSampler:
		return MaxSamplerSlots
	}
	return 0
}

// SlotsPerStage is the total number of descriptor slots in one stage table.
const SlotsPerStage = MaxConstantBufferSlots + MaxShaderResourceSlots + MaxUnorderedAccessSlots + MaxSamplerSlots

// BindingOffset is the first flat binding index of class c within a stage.
func (c BindingClass) BindingOffset() uint32 {
	switch c {
	case BindingClassShaderResource:
		return MaxConstantBufferSlots
	case BindingClassUnorderedAccess:
		return MaxConstantBufferSlots + MaxShaderResourceSlots
	case BindingClassSampler:
		return MaxConstantBufferSlots + MaxShaderResourceSlots + MaxUnorderedAccessSlots
	}
	return 0
}

/**
 * @brief One descriptor write produced when a table is materialized.
 */
type DescriptorWrite struct {
	Stage ShaderStage
	Class BindingClass
	Slot  uint32
	/** @brief The bound object, or the matching null placeholder. */
	Handle Handle
	/** @brief Subresource index for shader resource/UAV bindings, -1 for the whole resource. */
	Subresource int
	/** @brief Byte window of a constant buffer binding. Range 0 covers the whole buffer. */
	Offset uint64
	Range  uint64
	/** @brief Set when Handle is a null placeholder standing in for an empty slot. */
	Placeholder bool
}

// CommandList identifies one independent recording context of a frame.
type CommandList uint32

const InvalidCommandList CommandList = ^CommandList(0)
