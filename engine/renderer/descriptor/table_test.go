package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

type fakePool struct {
	capacity int
	sets     [][]metadata.DescriptorWrite
	graphics []bool
}

func (p *fakePool) Allocate(graphics bool, writes []metadata.DescriptorWrite) (metadata.Handle, error) {
	if len(p.sets) >= p.capacity {
		return metadata.InvalidHandle, core.ErrDescriptorPoolExhausted
	}
	set := append([]metadata.DescriptorWrite(nil), writes...)
	p.sets = append(p.sets, set)
	p.graphics = append(p.graphics, graphics)
	return metadata.Handle(len(p.sets)), nil
}

func (p *fakePool) Reset() error {
	p.sets = nil
	return nil
}

type fakeCmd struct {
	bound []metadata.Handle
}

func (c *fakeCmd) List() metadata.CommandList { return 0 }
func (c *fakeCmd) Begin() error               { return nil }
func (c *fakeCmd) End() error                 { return nil }

func (c *fakeCmd) BindDescriptorSet(graphics bool, set metadata.Handle) error {
	c.bound = append(c.bound, set)
	return nil
}

var nulls = metadata.NullResources{Buffer: 100, Image: 101, Sampler: 102}

func newTable(capacity int) (*TableAllocator, *fakePool, *fakeCmd) {
	pool := &fakePool{capacity: capacity}
	return NewTableAllocator(pool, nulls), pool, &fakeCmd{}
}

func findWrite(writes []metadata.DescriptorWrite, stage metadata.ShaderStage, class metadata.BindingClass, slot uint32) metadata.DescriptorWrite {
	for _, w := range writes {
		if w.Stage == stage && w.Class == class && w.Slot == slot {
			return w
		}
	}
	return metadata.DescriptorWrite{}
}

func TestValidateMaterializesFullTable(t *testing.T) {
	ta, pool, cmd := newTable(8)
	require.NoError(t, ta.BindResource(metadata.ShaderStagePixel, 3, 42, 2))
	require.NoError(t, ta.BindConstantBuffer(metadata.ShaderStageVertex, 0, 43))

	written, err := ta.Validate(true, cmd)
	require.NoError(t, err)
	assert.True(t, written)
	require.Len(t, pool.sets, 1)
	assert.Equal(t, []metadata.Handle{1}, cmd.bound)
	assert.True(t, pool.graphics[0])

	writes := pool.sets[0]
	assert.Len(t, writes, int(metadata.SlotsPerStage)*int(metadata.ShaderStageCompute))

	srv := findWrite(writes, metadata.ShaderStagePixel, metadata.BindingClassShaderResource, 3)
	assert.Equal(t, metadata.Handle(42), srv.Handle)
	assert.Equal(t, 2, srv.Subresource)
	assert.False(t, srv.Placeholder)

	cbv := findWrite(writes, metadata.ShaderStageVertex, metadata.BindingClassConstantBuffer, 0)
	assert.Equal(t, metadata.Handle(43), cbv.Handle)
}

func TestConstantBufferRange(t *testing.T) {
	ta, pool, cmd := newTable(8)
	require.NoError(t, ta.BindConstantBufferRange(metadata.ShaderStagePixel, 2, 9, 256, 64))
	_, err := ta.Validate(true, cmd)
	require.NoError(t, err)

	cbv := findWrite(pool.sets[0], metadata.ShaderStagePixel, metadata.BindingClassConstantBuffer, 2)
	assert.Equal(t, metadata.Handle(9), cbv.Handle)
	assert.Equal(t, uint64(256), cbv.Offset)
	assert.Equal(t, uint64(64), cbv.Range)
	assert.False(t, cbv.Placeholder)

	// Same buffer, same window: nothing to do.
	require.NoError(t, ta.BindConstantBufferRange(metadata.ShaderStagePixel, 2, 9, 256, 64))
	assert.False(t, ta.IsDirty(metadata.ShaderStagePixel))

	// Same buffer, next window: the stage must be rewritten.
	require.NoError(t, ta.BindConstantBufferRange(metadata.ShaderStagePixel, 2, 9, 512, 64))
	assert.True(t, ta.IsDirty(metadata.ShaderStagePixel))

	empty := findWrite(pool.sets[0], metadata.ShaderStagePixel, metadata.BindingClassConstantBuffer, 3)
	assert.True(t, empty.Placeholder)
	assert.Zero(t, empty.Range)
}

func TestEmptySlotsGetPlaceholders(t *testing.T) {
	ta, pool, cmd := newTable(8)
	_, err := ta.Validate(true, cmd)
	require.NoError(t, err)
	writes := pool.sets[0]

	for _, w := range writes {
		assert.True(t, w.Placeholder)
		assert.Equal(t, -1, w.Subresource)
	}
	assert.Equal(t, nulls.Buffer, findWrite(writes, metadata.ShaderStageHull, metadata.BindingClassConstantBuffer, 11).Handle)
	assert.Equal(t, nulls.Image, findWrite(writes, metadata.ShaderStagePixel, metadata.BindingClassShaderResource, 63).Handle)
	assert.Equal(t, nulls.Image, findWrite(writes, metadata.ShaderStageGeometry, metadata.BindingClassUnorderedAccess, 0).Handle)
	assert.Equal(t, nulls.Sampler, findWrite(writes, metadata.ShaderStageDomain, metadata.BindingClassSampler, 15).Handle)
}

func TestValidateWithoutChangesIsNoop(t *testing.T) {
	ta, pool, cmd := newTable(8)
	require.NoError(t, ta.BindResource(metadata.ShaderStagePixel, 0, 42, -1))
	_, err := ta.Validate(true, cmd)
	require.NoError(t, err)

	written, err := ta.Validate(true, cmd)
	require.NoError(t, err)
	assert.False(t, written)

	// Rebinding the same value changes nothing either.
	require.NoError(t, ta.BindResource(metadata.ShaderStagePixel, 0, 42, -1))
	assert.False(t, ta.IsDirty(metadata.ShaderStagePixel))
	written, err = ta.Validate(true, cmd)
	require.NoError(t, err)
	assert.False(t, written)

	assert.Len(t, pool.sets, 1)
	assert.Equal(t, uint64(3), ta.Validations())
	assert.Equal(t, uint64(1), ta.Materializations())
}

func TestRebindAndUnbind(t *testing.T) {
	ta, pool, cmd := newTable(8)
	require.NoError(t, ta.BindResources(metadata.ShaderStagePixel, 0, []metadata.Handle{1, 2, 3}))
	_, err := ta.Validate(true, cmd)
	require.NoError(t, err)

	require.NoError(t, ta.UnbindResources(metadata.ShaderStagePixel, 1, 2))
	assert.True(t, ta.IsDirty(metadata.ShaderStagePixel))
	b, ok := ta.Binding(metadata.ShaderStagePixel, metadata.BindingClassShaderResource, 1)
	assert.True(t, ok)
	assert.False(t, b.Handle.IsValid())

	written, err := ta.Validate(true, cmd)
	require.NoError(t, err)
	assert.True(t, written)
	writes := pool.sets[1]
	assert.Equal(t, metadata.Handle(1), findWrite(writes, metadata.ShaderStagePixel, metadata.BindingClassShaderResource, 0).Handle)
	assert.True(t, findWrite(writes, metadata.ShaderStagePixel, metadata.BindingClassShaderResource, 2).Placeholder)

	// Binding InvalidHandle clears like an unbind.
	require.NoError(t, ta.BindSampler(metadata.ShaderStagePixel, 0, 7))
	require.NoError(t, ta.BindSampler(metadata.ShaderStagePixel, 0, metadata.InvalidHandle))
	b, _ = ta.Binding(metadata.ShaderStagePixel, metadata.BindingClassSampler, 0)
	assert.Equal(t, emptyBinding, b)
}

func TestComputeIsSeparateFromGraphics(t *testing.T) {
	ta, pool, cmd := newTable(8)
	require.NoError(t, ta.BindUAV(metadata.ShaderStageCompute, 0, 9, 1))
	_, err := ta.Validate(true, cmd)
	require.NoError(t, err)
	_, err = ta.Validate(false, cmd)
	require.NoError(t, err)

	// Only the bind on the compute table dirties compute state.
	require.NoError(t, ta.BindResource(metadata.ShaderStagePixel, 0, 5, -1))
	written, err := ta.Validate(false, cmd)
	require.NoError(t, err)
	assert.False(t, written)

	require.Len(t, pool.sets, 2)
	assert.False(t, pool.graphics[1])
	compute := pool.sets[1]
	assert.Len(t, compute, int(metadata.SlotsPerStage))
	uav := findWrite(compute, metadata.ShaderStageCompute, metadata.BindingClassUnorderedAccess, 0)
	assert.Equal(t, metadata.Handle(9), uav.Handle)
	assert.Equal(t, 1, uav.Subresource)
}

func TestOutOfRange(t *testing.T) {
	ta, _, _ := newTable(8)
	assert.ErrorIs(t, ta.BindResource(metadata.ShaderStagePixel, metadata.MaxShaderResourceSlots, 1, -1), core.ErrSlotOutOfRange)
	assert.ErrorIs(t, ta.BindUAV(metadata.ShaderStagePixel, metadata.MaxUnorderedAccessSlots, 1, -1), core.ErrSlotOutOfRange)
	assert.ErrorIs(t, ta.BindSampler(metadata.ShaderStagePixel, metadata.MaxSamplerSlots, 1), core.ErrSlotOutOfRange)
	assert.ErrorIs(t, ta.BindConstantBuffer(metadata.ShaderStageCount, 0, 1), core.ErrSlotOutOfRange)
	assert.ErrorIs(t, ta.BindResources(metadata.ShaderStagePixel, 62, []metadata.Handle{1, 2, 3}), core.ErrSlotOutOfRange)

	_, ok := ta.Binding(metadata.ShaderStageCount, metadata.BindingClassSampler, 0)
	assert.False(t, ok)
}

func TestPoolExhaustionKeepsTablesDirty(t *testing.T) {
	ta, _, cmd := newTable(0)
	_, err := ta.Validate(true, cmd)
	assert.ErrorIs(t, err, core.ErrDescriptorPoolExhausted)
	assert.True(t, ta.IsDirty(metadata.ShaderStageVertex))
	assert.Empty(t, cmd.bound)
}
