package metadata

import "context"

type RendererType uint8

const (
	RendererTypeHeadless RendererType = iota
	RendererTypeVulkan
)

func (t RendererType) String() string {
	switch t {
	case RendererTypeHeadless:
		return "headless"
	case RendererTypeVulkan:
		return "vulkan"
	}
	return "unknown"
}

/** @brief Sizes a backend needs to build the resources of one ring slot. */
type FrameConfig struct {
	/** @brief Number of command lists that may be recorded in one frame. */
	CommandListCount int
	/** @brief Size in bytes of each per-command-list upload buffer. */
	LinearAllocatorSize uint64
	/** @brief Number of descriptor sets the per-frame pool can hand out. */
	DescriptorPoolSize uint32
}

// Backend is the graphics device contract. There is one implementation per
// API and it is chosen once at startup.
type Backend interface {
	Name() string
	// Releasers returns the free function for every object kind the backend
	// owns. Query kinds are filled in by the device.
	Releasers() ReleaseTable
	// NullResources returns the placeholders bound in place of empty slots.
	NullResources() NullResources
	// CreateFrame builds the resources of ring slot `slot`.
	CreateFrame(slot int, config FrameConfig) (FrameBackend, error)
	// WaitIdle blocks until the GPU finished all submitted work.
	WaitIdle(ctx context.Context) error
	// Destroy releases the placeholders and the device itself.
	Destroy() error
}

// FrameBackend owns the GPU objects of one ring slot.
type FrameBackend interface {
	// Fence is signaled when the work last submitted from this slot retired.
	Fence() Fence
	// CommandBuffer returns the command buffer of cmd in this slot, creating
	// it on first use.
	CommandBuffer(cmd CommandList) (CommandBuffer, error)
	// UploadBuffer returns the host visible transient buffer of cmd in this
	// slot, creating it on first use.
	UploadBuffer(cmd CommandList) (UploadBuffer, error)
	// DescriptorPool is the per-frame pool, reset wholesale at slot reuse.
	DescriptorPool() DescriptorPool
	// ResetCommandBuffers recycles every command buffer of the slot. Called
	// only after the fence signaled.
	ResetCommandBuffers() error
	// Submit executes cmds in order and signals Fence on completion. Images
	// created since the previous submission of any slot are moved out of
	// their initial layout ahead of cmds.
	Submit(cmds []CommandBuffer) error
	Destroy()
}

// Fence is the CPU/GPU completion primitive of a ring slot.
type Fence interface {
	// Wait blocks until the fence is signaled or ctx is done.
	Wait(ctx context.Context) error
	Reset() error
}

// CommandBuffer is the recording target of one command list.
type CommandBuffer interface {
	List() CommandList
	Begin() error
	End() error
	BindDescriptorSet(graphics bool, set Handle) error
}

// UploadBuffer is persistently mapped memory visible to the GPU.
type UploadBuffer interface {
	Handle() Handle
	Bytes() []byte
}

// DescriptorPool hands out descriptor sets for one frame.
type DescriptorPool interface {
	// Allocate creates a set laid out for graphics or compute pipelines and
	// writes every entry of writes into it.
	Allocate(graphics bool, writes []DescriptorWrite) (Handle, error)
	Reset() error
}

// ObjectFactory is implemented by backends that can create simple objects
// on their own, for tools and tests.
type ObjectFactory interface {
	CreateObject(kind ObjectKind) (Handle, error)
}
