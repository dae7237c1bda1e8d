package headless

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

type object struct {
	kind metadata.ObjectKind
	size uint64
}

// Release is one entry of the release log.
type Release struct {
	Kind   metadata.ObjectKind
	Handle metadata.Handle
}

// Submission is one call to Submit as seen by the simulated GPU.
type Submission struct {
	Slot  int
	Lists []metadata.CommandList
	// Transitions are the images moved out of their initial layout ahead of
	// Lists, in creation order.
	Transitions []metadata.Handle
}

type work struct {
	fence *Fence
	done  chan struct{}
}

// Backend is a graphics device without a GPU. Objects live in a handle
// registry, submissions retire on a simulated queue after a fixed latency and
// every release is logged, which makes it the device of choice for tests.
type Backend struct {
	latency time.Duration

	objects *core.HandleTable[object]
	nulls   metadata.NullResources

	mu          sync.Mutex
	releases    []Release
	submissions []Submission
	released    [metadata.ObjectKindCount]int
	failRelease map[metadata.ObjectKind]error
	hang        map[int]bool
	// undefined lists images no submission has transitioned yet.
	undefined []metadata.Handle

	queue     chan work
	gpuDone   chan struct{}
	lost      atomic.Bool
	destroyed atomic.Bool
}

func New(latency time.Duration) (*Backend, error) {
	if latency < 0 {
		return nil, errors.Wrapf(core.ErrInvalidConfig, "negative gpu latency %s", latency)
	}
	b := &Backend{
		latency:     latency,
		objects:     core.NewHandleTable[object](256),
		failRelease: make(map[metadata.ObjectKind]error),
		hang:        make(map[int]bool),
		queue:       make(chan work, 64),
		gpuDone:     make(chan struct{}),
	}
	b.nulls = metadata.NullResources{
		Buffer:                b.create(metadata.ObjectKindBuffer, 0),
		Image:                 b.create(metadata.ObjectKindImage, 0),
		Sampler:               b.create(metadata.ObjectKindSampler, 0),
		AccelerationStructure: b.create(metadata.ObjectKindAccelerationStructure, 0),
	}
	go b.run()
	return b, nil
}

func (b *Backend) Name() string {
	return "headless"
}

// run retires submissions in order, one latency apart.
func (b *Backend) run() {
	defer close(b.gpuDone)
	for w := range b.queue {
		if w.fence != nil {
			if b.latency > 0 {
				time.Sleep(b.latency)
			}
			w.fence.signal()
		}
		if w.done != nil {
			close(w.done)
		}
	}
}

func (b *Backend) create(kind metadata.ObjectKind, size uint64) metadata.Handle {
	h := metadata.Handle(b.objects.Acquire(object{kind: kind, size: size}))
	if kind == metadata.ObjectKindImage {
		b.mu.Lock()
		b.undefined = append(b.undefined, h)
		b.mu.Unlock()
	}
	return h
}

// forget drops h from the images waiting for a transition.
func (b *Backend) forget(h metadata.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, u := range b.undefined {
		if u == h {
			b.undefined = append(b.undefined[:i], b.undefined[i+1:]...)
			return
		}
	}
}

// CreateObject registers a new object of kind.
func (b *Backend) CreateObject(kind metadata.ObjectKind) (metadata.Handle, error) {
	if kind >= metadata.ObjectKindCount || kind.IsQuery() {
		return metadata.InvalidHandle, errors.Wrapf(core.ErrUnsupportedKind, "cannot create %s", kind)
	}
	if b.lost.Load() {
		return metadata.InvalidHandle, core.ErrDeviceLost
	}
	return b.create(kind, 0), nil
}

func (b *Backend) Releasers() metadata.ReleaseTable {
	var table metadata.ReleaseTable
	for k := metadata.ObjectKind(0); k < metadata.ObjectKindCount; k++ {
		if k.IsQuery() {
			continue
		}
		kind := k
		table[k] = func(h metadata.Handle) error {
			return b.release(kind, h)
		}
	}
	return table
}

func (b *Backend) release(kind metadata.ObjectKind, h metadata.Handle) error {
	b.mu.Lock()
	failure := b.failRelease[kind]
	b.mu.Unlock()
	if failure != nil {
		return failure
	}

	obj, ok := b.objects.Get(uint64(h))
	if !ok {
		return errors.Wrapf(core.ErrInvalidHandle, "%s %d released twice or never created", kind, h)
	}
	if obj.kind != kind {
		return errors.Wrapf(core.ErrInvalidHandle, "handle %d is a %s, not a %s", h, obj.kind, kind)
	}
	if _, err := b.objects.Release(uint64(h)); err != nil {
		return err
	}
	if kind == metadata.ObjectKindImage {
		b.forget(h)
	}

	b.mu.Lock()
	b.releases = append(b.releases, Release{Kind: kind, Handle: h})
	b.released[kind]++
	b.mu.Unlock()
	return nil
}

func (b *Backend) NullResources() metadata.NullResources {
	return b.nulls
}

func (b *Backend) CreateFrame(slot int, cfg metadata.FrameConfig) (metadata.FrameBackend, error) {
	if cfg.CommandListCount <= 0 {
		return nil, errors.Wrapf(core.ErrInvalidConfig, "command list count %d", cfg.CommandListCount)
	}
	return &Frame{
		backend: b,
		slot:    slot,
		config:  cfg,
		fence:   newFence(b),
		buffers: make([]*CommandBuffer, cfg.CommandListCount),
		uploads: make([]*UploadBuffer, cfg.CommandListCount),
		pool:    &DescriptorPool{backend: b, capacity: cfg.DescriptorPoolSize},
	}, nil
}

func (b *Backend) enqueue(slot int, fence *Fence, lists []metadata.CommandList) error {
	if b.lost.Load() {
		return core.ErrDeviceLost
	}
	if b.destroyed.Load() {
		return core.ErrDeviceClosed
	}
	b.mu.Lock()
	sub := Submission{Slot: slot, Lists: lists}
	if len(b.undefined) > 0 {
		sub.Transitions = append([]metadata.Handle(nil), b.undefined...)
		b.undefined = b.undefined[:0]
	}
	b.submissions = append(b.submissions, sub)
	hang := b.hang[slot]
	delete(b.hang, slot)
	b.mu.Unlock()

	if hang {
		return nil
	}
	b.queue <- work{fence: fence}
	return nil
}

func (b *Backend) WaitIdle(ctx context.Context) error {
	if b.lost.Load() {
		return core.ErrDeviceLost
	}
	if b.destroyed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case b.queue <- work{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Destroy stops the simulated queue and releases the null resources. Work
// still queued retires first.
func (b *Backend) Destroy() error {
	if !b.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.queue)
	<-b.gpuDone

	var result error
	for _, h := range []metadata.Handle{b.nulls.Buffer, b.nulls.Image, b.nulls.Sampler, b.nulls.AccelerationStructure} {
		if _, err := b.objects.Release(uint64(h)); err != nil {
			result = errors.CombineErrors(result, err)
		}
	}
	b.forget(b.nulls.Image)
	for kind, n := range b.Leaks() {
		core.LogWarn("headless backend destroyed with %d live %s objects", n, kind)
	}
	return result
}

// InjectDeviceLost makes every following wait and submit fail as if the GPU
// disappeared.
func (b *Backend) InjectDeviceLost() {
	b.lost.Store(true)
}

// HangFence makes the next submission of slot never signal its fence.
func (b *Backend) HangFence(slot int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hang[slot] = true
}

// FailReleases makes releasing any object of kind return err. Pass nil to
// clear.
func (b *Backend) FailReleases(kind metadata.ObjectKind, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failRelease, kind)
		return
	}
	b.failRelease[kind] = err
}

// IsLive reports whether h names an object that was created and not released.
func (b *Backend) IsLive(h metadata.Handle) bool {
	_, ok := b.objects.Get(uint64(h))
	return ok
}

// LiveObjects returns the number of registered objects, null resources
// included.
func (b *Backend) LiveObjects() int {
	return b.objects.Len()
}

// Leaks counts the live objects per kind.
func (b *Backend) Leaks() map[metadata.ObjectKind]int {
	out := make(map[metadata.ObjectKind]int)
	b.objects.Each(func(_ uint64, obj object) {
		out[obj.kind]++
	})
	return out
}

// Releases returns a copy of the release log in release order.
func (b *Backend) Releases() []Release {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Release, len(b.releases))
	copy(out, b.releases)
	return out
}

// ReleasedCount returns how many objects of kind were released.
func (b *Backend) ReleasedCount(kind metadata.ObjectKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released[kind]
}

// Submissions returns a copy of the submission log in submission order.
func (b *Backend) Submissions() []Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Submission, len(b.submissions))
	copy(out, b.submissions)
	return out
}
