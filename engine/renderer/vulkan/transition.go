package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"
)

// layoutTransitions collects images created since the last submission. They
// still sit in VK_IMAGE_LAYOUT_UNDEFINED and must reach GENERAL before any
// descriptor referencing them is read.
type layoutTransitions struct {
	mu      sync.Mutex
	pending []vk.Image
}

func (t *layoutTransitions) add(img vk.Image) {
	t.mu.Lock()
	t.pending = append(t.pending, img)
	t.mu.Unlock()
}

// remove drops an image destroyed before it was ever submitted.
func (t *layoutTransitions) remove(img vk.Image) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.pending {
		if p == img {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return
		}
	}
}

// take moves every pending image into dst.
func (t *layoutTransitions) take(dst []vk.Image) []vk.Image {
	t.mu.Lock()
	defer t.mu.Unlock()
	dst = append(dst, t.pending...)
	t.pending = t.pending[:0]
	return dst
}

func recordTransitions(cb vk.CommandBuffer, images []vk.Image) {
	barriers := make([]vk.ImageMemoryBarrier, len(images))
	for i, img := range images {
		barriers[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			DstAccessMask:       vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
			OldLayout:           vk.ImageLayoutUndefined,
			NewLayout:           vk.ImageLayoutGeneral,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
	}
	vk.CmdPipelineBarrier(cb,
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		0, 0, nil, 0, nil, uint32(len(barriers)), barriers)
}
