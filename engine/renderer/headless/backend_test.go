package headless

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

var frameConfig = metadata.FrameConfig{CommandListCount: 2, LinearAllocatorSize: 1024, DescriptorPoolSize: 2}

func newBackend(t *testing.T, latency time.Duration) *Backend {
	t.Helper()
	b, err := New(latency)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Destroy() })
	return b
}

func TestFenceSignalsAfterSubmit(t *testing.T) {
	b := newBackend(t, 5*time.Millisecond)
	fb, err := b.CreateFrame(0, frameConfig)
	require.NoError(t, err)
	f := fb.(*Frame)

	assert.True(t, f.fence.IsSignaled())
	require.NoError(t, f.Fence().Reset())
	assert.False(t, f.fence.IsSignaled())

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	assert.ErrorIs(t, f.Fence().Wait(ctx), context.DeadlineExceeded)
	cancel()

	require.NoError(t, f.Submit(nil))
	require.NoError(t, f.Fence().Wait(context.Background()))
	assert.True(t, f.fence.IsSignaled())
	// The placeholder image is transitioned by the first submission.
	assert.Equal(t, []Submission{{
		Slot:        0,
		Lists:       []metadata.CommandList{},
		Transitions: []metadata.Handle{b.NullResources().Image},
	}}, b.Submissions())
}

func TestHangFence(t *testing.T) {
	b := newBackend(t, 0)
	fb, err := b.CreateFrame(1, frameConfig)
	require.NoError(t, err)

	b.HangFence(1)
	require.NoError(t, fb.Fence().Reset())
	require.NoError(t, fb.Submit(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, fb.Fence().Wait(ctx), context.DeadlineExceeded)

	// Only the next submission hangs.
	require.NoError(t, fb.Submit(nil))
	require.NoError(t, fb.Fence().Wait(context.Background()))
}

func TestCommandBufferLifecycle(t *testing.T) {
	b := newBackend(t, 0)
	fb, err := b.CreateFrame(0, frameConfig)
	require.NoError(t, err)

	cb, err := fb.CommandBuffer(1)
	require.NoError(t, err)
	_, err = fb.CommandBuffer(2)
	assert.ErrorIs(t, err, core.ErrInvalidHandle)

	require.NoError(t, cb.Begin())
	assert.Error(t, cb.Begin())
	require.NoError(t, cb.BindDescriptorSet(true, 5))
	assert.Error(t, fb.Submit([]metadata.CommandBuffer{cb}), "submitting while recording")
	require.NoError(t, cb.End())
	assert.Error(t, cb.BindDescriptorSet(true, 6))

	require.NoError(t, fb.Submit([]metadata.CommandBuffer{cb}))
	hcb := cb.(*CommandBuffer)
	assert.Equal(t, 1, hcb.Begins())
	assert.Equal(t, 1, hcb.Submits())
	assert.Equal(t, []SetBinding{{Graphics: true, Set: 5}}, hcb.Bindings())

	require.NoError(t, fb.ResetCommandBuffers())
	assert.Empty(t, hcb.Bindings())
}

func TestLeaksAfterDestroy(t *testing.T) {
	b := newBackend(t, 0)
	_, err := b.CreateObject(metadata.ObjectKindBuffer)
	require.NoError(t, err)
	img, err := b.CreateObject(metadata.ObjectKindImage)
	require.NoError(t, err)
	require.NoError(t, b.Releasers()[metadata.ObjectKindImage](img))

	require.NoError(t, b.Destroy())
	assert.Equal(t, map[metadata.ObjectKind]int{metadata.ObjectKindBuffer: 1}, b.Leaks())
}

func TestReleaseLog(t *testing.T) {
	b := newBackend(t, 0)
	base := b.LiveObjects()

	img, err := b.CreateObject(metadata.ObjectKindImage)
	require.NoError(t, err)
	buf, err := b.CreateObject(metadata.ObjectKindBuffer)
	require.NoError(t, err)
	_, err = b.CreateObject(metadata.ObjectKindQueryTimestamp)
	assert.ErrorIs(t, err, core.ErrUnsupportedKind)
	assert.Equal(t, base+2, b.LiveObjects())

	releasers := b.Releasers()
	assert.Nil(t, releasers[metadata.ObjectKindQueryOcclusion])
	assert.ErrorIs(t, releasers[metadata.ObjectKindBuffer](img), core.ErrInvalidHandle, "kind mismatch")

	require.NoError(t, releasers[metadata.ObjectKindImage](img))
	require.NoError(t, releasers[metadata.ObjectKindBuffer](buf))
	assert.ErrorIs(t, releasers[metadata.ObjectKindImage](img), core.ErrInvalidHandle, "released twice")

	assert.Equal(t, []Release{{metadata.ObjectKindImage, img}, {metadata.ObjectKindBuffer, buf}}, b.Releases())
	assert.Equal(t, 1, b.ReleasedCount(metadata.ObjectKindImage))
	assert.False(t, b.IsLive(img))
	assert.Equal(t, base, b.LiveObjects())
}

func TestNewImagesTransitionOnNextSubmit(t *testing.T) {
	b := newBackend(t, 0)
	fb, err := b.CreateFrame(0, frameConfig)
	require.NoError(t, err)

	gone, err := b.CreateObject(metadata.ObjectKindImage)
	require.NoError(t, err)
	kept, err := b.CreateObject(metadata.ObjectKindImage)
	require.NoError(t, err)
	_, err = b.CreateObject(metadata.ObjectKindBuffer)
	require.NoError(t, err)
	// Destroyed before any submission: nothing to transition.
	require.NoError(t, b.Releasers()[metadata.ObjectKindImage](gone))

	require.NoError(t, fb.Fence().Reset())
	require.NoError(t, fb.Submit(nil))
	require.NoError(t, fb.Fence().Wait(context.Background()))

	late, err := b.CreateObject(metadata.ObjectKindImage)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		require.NoError(t, fb.Fence().Reset())
		require.NoError(t, fb.Submit(nil))
		require.NoError(t, fb.Fence().Wait(context.Background()))
	}

	subs := b.Submissions()
	require.Len(t, subs, 3)
	assert.Equal(t, []metadata.Handle{b.NullResources().Image, kept}, subs[0].Transitions)
	assert.Equal(t, []metadata.Handle{late}, subs[1].Transitions)
	assert.Empty(t, subs[2].Transitions)
}

func TestDescriptorPoolCapacity(t *testing.T) {
	b := newBackend(t, 0)
	fb, err := b.CreateFrame(0, frameConfig)
	require.NoError(t, err)
	pool := fb.(*Frame).Pool()

	writes := []metadata.DescriptorWrite{{Handle: 1, Subresource: -1}, {Handle: 2, Subresource: -1, Placeholder: true}}
	first, err := pool.Allocate(true, writes)
	require.NoError(t, err)
	_, err = pool.Allocate(false, writes)
	require.NoError(t, err)
	_, err = pool.Allocate(true, writes)
	assert.ErrorIs(t, err, core.ErrDescriptorPoolExhausted)

	// The pool keeps its own copy.
	writes[0].Handle = 99
	set, ok := pool.Set(first)
	require.True(t, ok)
	assert.Equal(t, metadata.Handle(1), set[0].Handle)

	require.NoError(t, pool.Reset())
	assert.Equal(t, PoolStats{Live: 0, Allocations: 2, Writes: 4, Placeholders: 2, Resets: 1}, pool.Stats())
}

func TestDeviceLost(t *testing.T) {
	b := newBackend(t, 0)
	fb, err := b.CreateFrame(0, frameConfig)
	require.NoError(t, err)

	b.InjectDeviceLost()
	assert.ErrorIs(t, fb.Fence().Wait(context.Background()), core.ErrDeviceLost)
	assert.ErrorIs(t, fb.Submit(nil), core.ErrDeviceLost)
	assert.ErrorIs(t, b.WaitIdle(context.Background()), core.ErrDeviceLost)
	_, err = b.CreateObject(metadata.ObjectKindImage)
	assert.ErrorIs(t, err, core.ErrDeviceLost)
}
