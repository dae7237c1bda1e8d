package metadata

import "fmt"

// Handle is an opaque identifier for a GPU-resident object. The zero value
// never names a live object.
type Handle uint64

const InvalidHandle Handle = 0

func (h Handle) IsValid() bool {
	return h != InvalidHandle
}

// Epoch is the frame counter every deferred action is tagged with. It is
// incremented exactly once per submitted frame.
type Epoch uint64

/** @brief Kinds of GPU objects whose release is deferred. */
type ObjectKind uint8

const (
	ObjectKindBuffer ObjectKind = iota
	ObjectKindBufferView
	ObjectKindImage
	ObjectKindImageView
	ObjectKindSampler
	ObjectKindPipeline
	ObjectKindPipelineLayout
	ObjectKindDescriptorPool
	ObjectKindDescriptorSetLayout
	ObjectKindShaderModule
	ObjectKindRenderPass
	ObjectKindFramebuffer
	ObjectKindAccelerationStructure
	/** @brief An occlusion query slot. Released back to its pool, not destroyed. */
	ObjectKindQueryOcclusion
	/** @brief A timestamp query slot. Released back to its pool, not destroyed. */
	ObjectKindQueryTimestamp

	ObjectKindCount
)

var objectKindNames = [ObjectKindCount]string{
	ObjectKindBuffer:                "buffer",
	ObjectKindBufferView:            "buffer_view",
	ObjectKindImage:                 "image",
	ObjectKindImageView:             "image_view",
	ObjectKindSampler:               "sampler",
	ObjectKindPipeline:              "pipeline",
	ObjectKindPipelineLayout:        "pipeline_layout",
	ObjectKindDescriptorPool:        "descriptor_pool",
	ObjectKindDescriptorSetLayout:   "descriptor_set_layout",
	ObjectKindShaderModule:          "shader_module",
	ObjectKindRenderPass:            "render_pass",
	ObjectKindFramebuffer:           "framebuffer",
	ObjectKindAccelerationStructure: "acceleration_structure",
	ObjectKindQueryOcclusion:        "query_occlusion",
	ObjectKindQueryTimestamp:        "query_timestamp",
}

func (k ObjectKind) String() string {
	if k < ObjectKindCount {
		return objectKindNames[k]
	}
	return fmt.Sprintf("object_kind(%d)", uint8(k))
}

// IsQuery reports whether k names a query slot kind.
func (k ObjectKind) IsQuery() bool {
	return k == ObjectKindQueryOcclusion || k == ObjectKindQueryTimestamp
}

// ReleaseFunc physically releases one object of a given kind. A failure is
// treated as a device-loss condition.
type ReleaseFunc func(h Handle) error

// ReleaseTable is the release strategy for every object kind. A nil entry
// means the kind cannot be queued for destruction.
type ReleaseTable [ObjectKindCount]ReleaseFunc

/**
 * @brief Placeholder objects substituted for unbound descriptor slots so a
 * shader always reads a well defined empty binding.
 */
type NullResources struct {
	Buffer                Handle
	Image                 Handle
	Sampler               Handle
	AccelerationStructure Handle
}
