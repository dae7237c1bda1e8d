package renderer

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spaghettifunk/inflight/engine/config"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/cmdlist"
	"github.com/spaghettifunk/inflight/engine/renderer/descriptor"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
	"github.com/spaghettifunk/inflight/engine/renderer/reclaim"
	"github.com/spaghettifunk/inflight/engine/renderer/transient"
)

// Device owns everything a frame needs: the frame ring, the command list
// multiplexer, the reclaim queue and the query pools. Several devices can
// live side by side; nothing is shared between them.
//
// Recording operations take the command list they act on and are safe to
// call from the goroutine that acquired it. RequestDestroy and AcquireQuery
// are safe from any goroutine. AdvanceFrame, WaitIdle and Shutdown belong to
// the frame goroutine and must not overlap recording.
type Device struct {
	id      uuid.UUID
	backend metadata.Backend
	config  config.Device

	ringSize int
	epochs   *reclaim.EpochCounter
	reclaim  *reclaim.Queue
	mux      *cmdlist.Multiplexer
	frames   []*FrameResources
	queries  [2]*QueryPool

	metrics *core.FrameMetrics
	clock   *core.Clock
	submit  []metadata.CommandBuffer

	lost   atomic.Bool
	closed atomic.Bool
}

// Stats is a point in time view of a device.
type Stats struct {
	Epoch              metadata.Epoch
	Slot               int
	RingSize           int
	Boundary           reclaim.Boundary
	PendingDestroys    int
	ActiveCommandLists int
	Lost               bool
	core.MetricsSnapshot
}

func NewDevice(backend metadata.Backend, cfg config.Device) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	boundary, err := reclaim.ParseBoundary(cfg.ReclaimBoundary)
	if err != nil {
		return nil, err
	}

	mux, err := cmdlist.NewMultiplexer(cfg.CommandListCount)
	if err != nil {
		return nil, err
	}

	d := &Device{
		id:       uuid.New(),
		backend:  backend,
		config:   cfg,
		ringSize: cfg.BufferCount,
		epochs:   &reclaim.EpochCounter{},
		mux:      mux,
		metrics:  core.NewFrameMetrics(),
		clock:    core.NewClock(),
		submit:   make([]metadata.CommandBuffer, 0, cfg.CommandListCount),
	}

	occlusion, err := NewQueryPool(metadata.ObjectKindQueryOcclusion, cfg.OcclusionQueryCount)
	if err != nil {
		return nil, err
	}
	timestamp, err := NewQueryPool(metadata.ObjectKindQueryTimestamp, cfg.TimestampQueryCount)
	if err != nil {
		return nil, err
	}
	d.queries = [2]*QueryPool{occlusion, timestamp}

	releasers := backend.Releasers()
	releasers[metadata.ObjectKindQueryOcclusion] = occlusion.Release
	releasers[metadata.ObjectKindQueryTimestamp] = timestamp.Release
	d.reclaim = reclaim.NewQueue(d.epochs, releasers, boundary)

	frameConfig := metadata.FrameConfig{
		CommandListCount:    cfg.CommandListCount,
		LinearAllocatorSize: cfg.LinearAllocatorSize,
		DescriptorPoolSize:  cfg.DescriptorPoolSize,
	}
	nulls := backend.NullResources()
	for slot := 0; slot < d.ringSize; slot++ {
		fb, err := backend.CreateFrame(slot, frameConfig)
		if err != nil {
			for _, f := range d.frames {
				f.destroy()
			}
			return nil, errors.Wrapf(err, "create frame slot %d", slot)
		}
		d.frames = append(d.frames, newFrameResources(slot, fb, nulls, cfg.CommandListCount))
	}

	d.clock.Start()
	core.LogInfo("device %s created on %s backend (ring=%d, command lists=%d, boundary=%s)",
		d.id, backend.Name(), d.ringSize, cfg.CommandListCount, boundary)
	return d, nil
}

func (d *Device) ID() uuid.UUID {
	return d.id
}

func (d *Device) Backend() metadata.Backend {
	return d.backend
}

func (d *Device) Epoch() metadata.Epoch {
	return d.epochs.Load()
}

func (d *Device) RingSize() int {
	return d.ringSize
}

// CurrentSlot is the ring slot frames recorded now go into.
func (d *Device) CurrentSlot() int {
	return int(uint64(d.epochs.Load()) % uint64(d.ringSize))
}

func (d *Device) currentFrame() *FrameResources {
	return d.frames[d.CurrentSlot()]
}

// Frame returns the resources of a ring slot.
func (d *Device) Frame(slot int) *FrameResources {
	return d.frames[slot]
}

func (d *Device) usable() error {
	if d.closed.Load() {
		return core.ErrDeviceClosed
	}
	if d.lost.Load() {
		return errors.Wrap(core.ErrDeviceLost, "device must be recreated")
	}
	return nil
}

// IsLost reports whether a fatal error happened. A lost device only accepts
// Shutdown.
func (d *Device) IsLost() bool {
	return d.lost.Load()
}

// BeginCommandList acquires a command list for the current frame and starts
// recording into it. Exhaustion is a sizing error and is never retried.
func (d *Device) BeginCommandList() (metadata.CommandList, error) {
	if err := d.usable(); err != nil {
		return metadata.InvalidCommandList, err
	}
	cmd, err := d.mux.Acquire()
	if err != nil {
		core.LogError(err.Error())
		return metadata.InvalidCommandList, err
	}
	if err := d.currentFrame().begin(cmd); err != nil {
		core.LogError("failed to begin command list %d: %s", cmd, err)
		return metadata.InvalidCommandList, err
	}
	return cmd, nil
}

func (d *Device) tables(cmd metadata.CommandList) (*descriptor.TableAllocator, error) {
	if !d.mux.IsActive(cmd) {
		return nil, errors.Wrapf(core.ErrCommandListNotActive, "command list %d", cmd)
	}
	t := d.currentFrame().table(cmd)
	if t == nil {
		return nil, errors.Wrapf(core.ErrCommandListNotActive, "command list %d was never begun", cmd)
	}
	return t, nil
}

func (d *Device) BindResource(stage metadata.ShaderStage, slot uint32, h metadata.Handle, subresource int, cmd metadata.CommandList) error {
	t, err := d.tables(cmd)
	if err != nil {
		return err
	}
	return t.BindResource(stage, slot, h, subresource)
}

func (d *Device) BindResources(stage metadata.ShaderStage, slot uint32, handles []metadata.Handle, cmd metadata.CommandList) error {
	t, err := d.tables(cmd)
	if err != nil {
		return err
	}
	return t.BindResources(stage, slot, handles)
}

func (d *Device) BindUAV(stage metadata.ShaderStage, slot uint32, h metadata.Handle, subresource int, cmd metadata.CommandList) error {
	t, err := d.tables(cmd)
	if err != nil {
		return err
	}
	return t.BindUAV(stage, slot, h, subresource)
}

func (d *Device) BindUAVs(stage metadata.ShaderStage, slot uint32, handles []metadata.Handle, cmd metadata.CommandList) error {
	t, err := d.tables(cmd)
	if err != nil {
		return err
	}
	return t.BindUAVs(stage, slot, handles)
}

func (d *Device) BindSampler(stage metadata.ShaderStage, slot uint32, h metadata.Handle, cmd metadata.CommandList) error {
	t, err := d.tables(cmd)
	if err != nil {
		return err
	}
	return t.BindSampler(stage, slot, h)
}

func (d *Device) BindConstantBuffer(stage metadata.ShaderStage, slot uint32, h metadata.Handle, cmd metadata.CommandList) error {
	t, err := d.tables(cmd)
	if err != nil {
		return err
	}
	return t.BindConstantBuffer(stage, slot, h)
}

// BindTransientConstantBuffer binds a region returned by AllocateTransient
// as a constant buffer. The region lives as long as the frame that recorded
// it, so there is nothing to destroy afterwards.
func (d *Device) BindTransientConstantBuffer(stage metadata.ShaderStage, slot uint32, alloc transient.Allocation, cmd metadata.CommandList) error {
	if !alloc.Buffer.IsValid() || len(alloc.Data) == 0 {
		return errors.Wrapf(core.ErrInvalidHandle, "empty transient allocation for %s slot %d", stage, slot)
	}
	t, err := d.tables(cmd)
	if err != nil {
		return err
	}
	return t.BindConstantBufferRange(stage, slot, alloc.Buffer, alloc.Offset, uint64(len(alloc.Data)))
}

func (d *Device) UnbindResources(stage metadata.ShaderStage, slot, count uint32, cmd metadata.CommandList) error {
	t, err := d.tables(cmd)
	if err != nil {
		return err
	}
	return t.UnbindResources(stage, slot, count)
}

func (d *Device) UnbindUAVs(stage metadata.ShaderStage, slot, count uint32, cmd metadata.CommandList) error {
	t, err := d.tables(cmd)
	if err != nil {
		return err
	}
	return t.UnbindUAVs(stage, slot, count)
}

// ValidateBindings flushes dirty descriptor tables of cmd. Call right before
// recording a draw, dispatch or trace.
func (d *Device) ValidateBindings(cmd metadata.CommandList, graphics bool) error {
	t, err := d.tables(cmd)
	if err != nil {
		return err
	}
	before := t.Writes()
	written, err := t.Validate(graphics, d.currentFrame().commandBuffer(cmd))
	if err != nil {
		return err
	}
	if written {
		d.metrics.AddMaterialization(t.Writes() - before)
	}
	return nil
}

// AllocateTransient reserves upload memory that stays valid until the GPU
// retired the current frame.
func (d *Device) AllocateTransient(cmd metadata.CommandList, size, alignment uint64) (transient.Allocation, error) {
	if !d.mux.IsActive(cmd) {
		return transient.Allocation{}, errors.Wrapf(core.ErrCommandListNotActive, "command list %d", cmd)
	}
	a, err := d.currentFrame().allocator(cmd)
	if err != nil {
		return transient.Allocation{}, err
	}
	alloc, err := a.Allocate(size, alignment)
	if err != nil {
		core.LogError(err.Error())
		return transient.Allocation{}, err
	}
	d.metrics.AddTransientBytes(size)
	return alloc, nil
}

// RequestDestroy schedules h for release once no frame in flight can use
// it. Callable from any goroutine at any time before Shutdown.
func (d *Device) RequestDestroy(kind metadata.ObjectKind, h metadata.Handle) error {
	if d.closed.Load() {
		return core.ErrDeviceClosed
	}
	if err := d.reclaim.Enqueue(kind, h); err != nil {
		core.LogWarn("destroy request rejected: %s", err)
		return err
	}
	d.metrics.AddEnqueued(1)
	return nil
}

// AcquireQuery takes a free occlusion or timestamp query slot. The slot is
// returned through RequestDestroy like any other object.
func (d *Device) AcquireQuery(kind metadata.ObjectKind) (metadata.Handle, error) {
	if err := d.usable(); err != nil {
		return metadata.InvalidHandle, err
	}
	pool, err := d.QueryPool(kind)
	if err != nil {
		return metadata.InvalidHandle, err
	}
	return pool.Acquire()
}

func (d *Device) QueryPool(kind metadata.ObjectKind) (*QueryPool, error) {
	switch kind {
	case metadata.ObjectKindQueryOcclusion:
		return d.queries[0], nil
	case metadata.ObjectKindQueryTimestamp:
		return d.queries[1], nil
	}
	return nil, errors.Wrapf(core.ErrUnsupportedKind, "%s is not a query kind", kind)
}

// AdvanceFrame closes the current frame and opens the next one:
//
//	submit the recorded command lists in acquisition order
//	return command lists to the free list
//	advance the epoch
//	wait for the fence of the slot being reused
//	reset the slot's transient state
//	release every object the reclaim queue allows
//
// Any error other than a misuse error marks the device lost.
func (d *Device) AdvanceFrame(ctx context.Context) error {
	if err := d.usable(); err != nil {
		return err
	}

	frame := d.currentFrame()
	submit, err := frame.finish(d.mux.Active(), d.submit[:0])
	if err != nil {
		return d.fatal(err)
	}
	if err := frame.Fence().Reset(); err != nil {
		return d.fatal(errors.Wrapf(err, "reset fence of slot %d", frame.slot))
	}
	if err := frame.backend.Submit(submit); err != nil {
		return d.fatal(errors.Wrapf(err, "submit slot %d", frame.slot))
	}
	d.metrics.AddSubmitted(len(submit))
	if err := d.mux.ReleaseAll(); err != nil {
		return d.fatal(err)
	}

	epoch := d.epochs.Advance()
	next := d.frames[int(uint64(epoch)%uint64(d.ringSize))]

	waitCtx, cancel := context.WithTimeout(ctx, d.config.FenceTimeout.Std())
	err = next.Fence().Wait(waitCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = core.WithStatus(err, core.ErrFenceTimeout)
		}
		return d.fatal(errors.Wrapf(err, "wait fence of slot %d at epoch %d", next.slot, epoch))
	}

	if err := next.reset(); err != nil {
		return d.fatal(err)
	}

	released, err := d.reclaim.Drain(epoch, d.ringSize)
	d.metrics.AddReleased(released)
	if err != nil {
		return d.fatal(err)
	}

	d.clock.Update()
	d.metrics.Update(d.clock.Elapsed())
	d.clock.Start()
	return nil
}

// fatal marks the device lost and returns err tagged as ErrDeviceLost.
func (d *Device) fatal(err error) error {
	d.lost.Store(true)
	err = core.WithStatus(err, core.ErrDeviceLost)
	core.LogError("device %s lost: %s", d.id, err)
	return err
}

// WaitIdle blocks until the GPU finished everything submitted so far.
func (d *Device) WaitIdle(ctx context.Context) error {
	if d.closed.Load() {
		return core.ErrDeviceClosed
	}
	return d.backend.WaitIdle(ctx)
}

// Shutdown waits for the GPU, releases every pending object regardless of
// epoch and destroys the ring and the backend. Calling it again is a no-op.
func (d *Device) Shutdown(ctx context.Context) error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	var result error
	if !d.lost.Load() {
		waitCtx, cancel := context.WithTimeout(ctx, d.config.FenceTimeout.Std())
		if err := d.backend.WaitIdle(waitCtx); err != nil {
			result = errors.CombineErrors(result, errors.Wrap(err, "wait idle"))
		}
		cancel()
	}

	released, err := d.reclaim.DrainAll()
	d.metrics.AddReleased(released)
	if err != nil {
		result = errors.CombineErrors(result, err)
	}

	for _, f := range d.frames {
		f.destroy()
	}
	if err := d.backend.Destroy(); err != nil {
		result = errors.CombineErrors(result, errors.Wrap(err, "destroy backend"))
	}

	core.LogInfo("device %s shut down at epoch %d (%d objects released at teardown)", d.id, d.Epoch(), released)
	return result
}

func (d *Device) Stats() Stats {
	return Stats{
		Epoch:              d.Epoch(),
		Slot:               d.CurrentSlot(),
		RingSize:           d.RingSize(),
		Boundary:           d.reclaim.Boundary(),
		PendingDestroys:    d.reclaim.Pending(),
		ActiveCommandLists: d.mux.ActiveCount(),
		Lost:               d.lost.Load(),
		MetricsSnapshot:    d.metrics.Snapshot(),
	}
}
