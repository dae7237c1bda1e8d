package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

/**
 * @brief A single bound slot. The zero value is an empty slot.
 */
type Binding struct {
	Handle metadata.Handle
	/** @brief Subresource index, -1 for the whole resource. */
	Subresource int
	/** @brief Window of a constant buffer, Range 0 binds all of it. */
	Offset uint64
	Range  uint64
}

var emptyBinding = Binding{Subresource: -1}

/**
 * @brief The bindings visible to one shader stage.
 */
type Table struct {
	CBV [metadata.MaxConstantBufferSlots]Binding
	SRV [metadata.MaxShaderResourceSlots]Binding
	UAV [metadata.MaxUnorderedAccessSlots]Binding
	SAM [metadata.MaxSamplerSlots]Binding
}

func (t *Table) reset() {
	for i := range t.CBV {
		t.CBV[i] = emptyBinding
	}
	for i := range t.SRV {
		t.SRV[i] = emptyBinding
	}
	for i := range t.UAV {
		t.UAV[i] = emptyBinding
	}
	for i := range t.SAM {
		t.SAM[i] = emptyBinding
	}
}

func (t *Table) slots(class metadata.BindingClass) []Binding {
	switch class {
	case metadata.BindingClassConstantBuffer:
		return t.CBV[:]
	case metadata.BindingClassShaderResource:
		return t.SRV[:]
	case metadata.BindingClassUnorderedAccess:
		return t.UAV[:]
	case metadata.BindingClassSampler:
		return t.SAM[:]
	}
	return nil
}

// TableAllocator holds the descriptor tables of one command list in one ring
// slot. Binds only touch memory; Validate turns dirty tables into a GPU
// descriptor set right before a draw, dispatch or trace is recorded.
//
// A TableAllocator is owned by a single command list and is not safe for
// concurrent use.
type TableAllocator struct {
	pool   metadata.DescriptorPool
	nulls  metadata.NullResources
	tables [metadata.ShaderStageCount]Table
	dirty  [metadata.ShaderStageCount]bool
	writes []metadata.DescriptorWrite

	validations      uint64
	materializations uint64
	writeCount       uint64
}

func NewTableAllocator(pool metadata.DescriptorPool, nulls metadata.NullResources) *TableAllocator {
	ta := &TableAllocator{
		pool:   pool,
		nulls:  nulls,
		writes: make([]metadata.DescriptorWrite, 0, metadata.SlotsPerStage*uint32(metadata.ShaderStageCompute)),
	}
	ta.Reset()
	return ta
}

// Reset clears every table. All stages are dirty afterwards since nothing is
// bound on a freshly begun command buffer.
func (ta *TableAllocator) Reset() {
	for i := range ta.tables {
		ta.tables[i].reset()
		ta.dirty[i] = true
	}
}

func (ta *TableAllocator) bind(stage metadata.ShaderStage, class metadata.BindingClass, slot uint32, b Binding) error {
	if stage >= metadata.ShaderStageCount {
		return errors.Wrapf(core.ErrSlotOutOfRange, "stage %d", uint8(stage))
	}
	slots := ta.tables[stage].slots(class)
	if slot >= uint32(len(slots)) {
		return errors.Wrapf(core.ErrSlotOutOfRange, "%s %s slot %d (max %d)", stage, class, slot, len(slots))
	}
	if !b.Handle.IsValid() {
		b = emptyBinding
	}
	if slots[slot] == b {
		return nil
	}
	slots[slot] = b
	ta.dirty[stage] = true
	return nil
}

func (ta *TableAllocator) bindRange(stage metadata.ShaderStage, class metadata.BindingClass, slot uint32, handles []metadata.Handle) error {
	for i, h := range handles {
		if err := ta.bind(stage, class, slot+uint32(i), Binding{Handle: h, Subresource: -1}); err != nil {
			return err
		}
	}
	return nil
}

func (ta *TableAllocator) unbindRange(stage metadata.ShaderStage, class metadata.BindingClass, slot, count uint32) error {
	for i := uint32(0); i < count; i++ {
		if err := ta.bind(stage, class, slot+i, emptyBinding); err != nil {
			return err
		}
	}
	return nil
}

// BindResource binds a shader resource view. subresource -1 selects the
// whole resource. Binding InvalidHandle clears the slot.
func (ta *TableAllocator) BindResource(stage metadata.ShaderStage, slot uint32, h metadata.Handle, subresource int) error {
	return ta.bind(stage, metadata.BindingClassShaderResource, slot, Binding{Handle: h, Subresource: subresource})
}

// BindResources binds consecutive shader resource slots starting at slot.
func (ta *TableAllocator) BindResources(stage metadata.ShaderStage, slot uint32, handles []metadata.Handle) error {
	return ta.bindRange(stage, metadata.BindingClassShaderResource, slot, handles)
}

// BindUAV binds an unordered access view.
func (ta *TableAllocator) BindUAV(stage metadata.ShaderStage, slot uint32, h metadata.Handle, subresource int) error {
	return ta.bind(stage, metadata.BindingClassUnorderedAccess, slot, Binding{Handle: h, Subresource: subresource})
}

// BindUAVs binds consecutive unordered access slots starting at slot.
func (ta *TableAllocator) BindUAVs(stage metadata.ShaderStage, slot uint32, handles []metadata.Handle) error {
	return ta.bindRange(stage, metadata.BindingClassUnorderedAccess, slot, handles)
}

func (ta *TableAllocator) BindSampler(stage metadata.ShaderStage, slot uint32, h metadata.Handle) error {
	return ta.bind(stage, metadata.BindingClassSampler, slot, Binding{Handle: h, Subresource: -1})
}

func (ta *TableAllocator) BindConstantBuffer(stage metadata.ShaderStage, slot uint32, h metadata.Handle) error {
	return ta.bind(stage, metadata.BindingClassConstantBuffer, slot, Binding{Handle: h, Subresource: -1})
}

// BindConstantBufferRange binds size bytes of h starting at offset, the way
// per-frame constants carved out of an upload buffer are bound. Moving the
// window dirties the stage like binding another buffer.
func (ta *TableAllocator) BindConstantBufferRange(stage metadata.ShaderStage, slot uint32, h metadata.Handle, offset, size uint64) error {
	return ta.bind(stage, metadata.BindingClassConstantBuffer, slot, Binding{Handle: h, Subresource: -1, Offset: offset, Range: size})
}

// UnbindResources clears count shader resource slots starting at slot.
func (ta *TableAllocator) UnbindResources(stage metadata.ShaderStage, slot, count uint32) error {
	return ta.unbindRange(stage, metadata.BindingClassShaderResource, slot, count)
}

// UnbindUAVs clears count unordered access slots starting at slot.
func (ta *TableAllocator) UnbindUAVs(stage metadata.ShaderStage, slot, count uint32) error {
	return ta.unbindRange(stage, metadata.BindingClassUnorderedAccess, slot, count)
}

// Binding returns what is currently bound in a slot.
func (ta *TableAllocator) Binding(stage metadata.ShaderStage, class metadata.BindingClass, slot uint32) (Binding, bool) {
	if stage >= metadata.ShaderStageCount {
		return emptyBinding, false
	}
	slots := ta.tables[stage].slots(class)
	if slot >= uint32(len(slots)) {
		return emptyBinding, false
	}
	return slots[slot], true
}

// IsDirty reports whether stage changed since it was last materialized.
func (ta *TableAllocator) IsDirty(stage metadata.ShaderStage) bool {
	return stage < metadata.ShaderStageCount && ta.dirty[stage]
}

func stageRange(graphics bool) (metadata.ShaderStage, metadata.ShaderStage) {
	if graphics {
		return metadata.ShaderStageVertex, metadata.ShaderStageCompute
	}
	return metadata.ShaderStageCompute, metadata.ShaderStageCount
}

// Validate materializes the tables used by a graphics or compute pipeline
// if any of them is dirty, binds the new set on cmd and reports whether
// anything was written. Unchanged tables cost nothing.
func (ta *TableAllocator) Validate(graphics bool, cmd metadata.CommandBuffer) (bool, error) {
	ta.validations++

	first, last := stageRange(graphics)
	dirty := false
	for s := first; s < last; s++ {
		dirty = dirty || ta.dirty[s]
	}
	if !dirty {
		return false, nil
	}

	ta.writes = ta.writes[:0]
	for s := first; s < last; s++ {
		ta.appendWrites(s)
	}

	set, err := ta.pool.Allocate(graphics, ta.writes)
	if err != nil {
		core.LogError("descriptor set allocation failed: %s", err)
		return false, err
	}
	if err := cmd.BindDescriptorSet(graphics, set); err != nil {
		return false, err
	}

	for s := first; s < last; s++ {
		ta.dirty[s] = false
	}
	ta.materializations++
	ta.writeCount += uint64(len(ta.writes))
	return true, nil
}

func (ta *TableAllocator) appendWrites(stage metadata.ShaderStage) {
	table := &ta.tables[stage]
	for c := metadata.BindingClass(0); c < metadata.BindingClassCount; c++ {
		placeholder := ta.placeholder(c)
		for slot, b := range table.slots(c) {
			w := metadata.DescriptorWrite{
				Stage:       stage,
				Class:       c,
				Slot:        uint32(slot),
				Handle:      b.Handle,
				Subresource: b.Subresource,
				Offset:      b.Offset,
				Range:       b.Range,
			}
			if !b.Handle.IsValid() {
				w.Handle = placeholder
				w.Subresource = -1
				w.Offset, w.Range = 0, 0
				w.Placeholder = true
			}
			ta.writes = append(ta.writes, w)
		}
	}
}

// placeholder picks the null object read by shaders from an empty slot.
func (ta *TableAllocator) placeholder(class metadata.BindingClass) metadata.Handle {
	switch class {
	case metadata.BindingClassConstantBuffer:
		return ta.nulls.Buffer
	case metadata.BindingClassSampler:
		return ta.nulls.Sampler
	default:
		return ta.nulls.Image
	}
}

func (ta *TableAllocator) Validations() uint64      { return ta.validations }
func (ta *TableAllocator) Materializations() uint64 { return ta.materializations }
func (ta *TableAllocator) Writes() uint64           { return ta.writeCount }
