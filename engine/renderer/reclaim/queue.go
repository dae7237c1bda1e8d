package reclaim

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/inflight/engine/containers"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

// Boundary selects when an entry becomes releasable.
type Boundary uint8

const (
	// BoundaryInclusive releases an entry tagged e once
	// e + ringSize <= current. The slot fence of epoch current is waited on
	// before draining and covers frame current - ringSize.
	BoundaryInclusive Boundary = iota
	// BoundaryStrict releases an entry tagged e once e + ringSize < current,
	// keeping every object one frame longer.
	BoundaryStrict
)

func ParseBoundary(s string) (Boundary, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inclusive":
		return BoundaryInclusive, nil
	case "strict":
		return BoundaryStrict, nil
	}
	return BoundaryInclusive, errors.Wrapf(core.ErrInvalidConfig, "unknown reclaim boundary %q", s)
}

func (b Boundary) String() string {
	if b == BoundaryStrict {
		return "strict"
	}
	return "inclusive"
}

// Releasable reports whether an entry tagged epoch may be freed at current.
func (b Boundary) Releasable(epoch, current metadata.Epoch, ringSize int) bool {
	gate := epoch + metadata.Epoch(ringSize)
	if b == BoundaryStrict {
		return gate < current
	}
	return gate <= current
}

type entry struct {
	handle metadata.Handle
	epoch  metadata.Epoch
}

type kindQueue struct {
	mu      sync.Mutex
	fifo    *containers.Deque[entry]
	pending map[metadata.Handle]struct{}
	release metadata.ReleaseFunc
}

// Queue defers the release of GPU objects until every frame that could have
// referenced them retired. There is one FIFO per object kind, so epochs are
// non-decreasing front to back and a drain only ever inspects the front.
//
// Enqueue is safe for concurrent use. Drain and DrainAll must be called from
// the frame goroutine.
type Queue struct {
	epochs   *EpochCounter
	boundary Boundary
	kinds    [metadata.ObjectKindCount]*kindQueue
	batch    []entry
}

func NewQueue(epochs *EpochCounter, releasers metadata.ReleaseTable, boundary Boundary) *Queue {
	q := &Queue{
		epochs:   epochs,
		boundary: boundary,
	}
	for k := range q.kinds {
		q.kinds[k] = &kindQueue{
			fifo:    containers.NewDeque[entry](64),
			pending: make(map[metadata.Handle]struct{}),
			release: releasers[k],
		}
	}
	return q
}

func (q *Queue) Boundary() Boundary {
	return q.boundary
}

// Enqueue schedules h for release, tagged with the current epoch. Queueing a
// handle that is already pending is a double free and is rejected.
func (q *Queue) Enqueue(kind metadata.ObjectKind, h metadata.Handle) error {
	if kind >= metadata.ObjectKindCount {
		return errors.Wrapf(core.ErrUnsupportedKind, "kind %d", uint8(kind))
	}
	if !h.IsValid() {
		return errors.Wrapf(core.ErrInvalidHandle, "enqueue %s", kind)
	}
	kq := q.kinds[kind]
	if kq.release == nil {
		return errors.Wrapf(core.ErrUnsupportedKind, "%s", kind)
	}

	kq.mu.Lock()
	defer kq.mu.Unlock()

	if _, ok := kq.pending[h]; ok {
		return errors.Wrapf(core.ErrDoubleFree, "%s %d", kind, h)
	}
	kq.pending[h] = struct{}{}
	// The epoch is read under the lock so entries stay ordered by epoch.
	kq.fifo.PushBack(entry{handle: h, epoch: q.epochs.Load()})
	return nil
}

// IsPending reports whether h is queued for release.
func (q *Queue) IsPending(kind metadata.ObjectKind, h metadata.Handle) bool {
	if kind >= metadata.ObjectKindCount {
		return false
	}
	kq := q.kinds[kind]
	kq.mu.Lock()
	defer kq.mu.Unlock()
	_, ok := kq.pending[h]
	return ok
}

// Drain releases every entry the boundary rule allows at epoch current and
// returns how many objects were released. Draining twice at the same epoch
// releases nothing the second time.
func (q *Queue) Drain(current metadata.Epoch, ringSize int) (int, error) {
	return q.drain(func(e metadata.Epoch) bool {
		return q.boundary.Releasable(e, current, ringSize)
	})
}

// DrainAll releases everything regardless of epoch. Used at teardown once the
// GPU is idle.
func (q *Queue) DrainAll() (int, error) {
	return q.drain(func(metadata.Epoch) bool { return true })
}

func (q *Queue) drain(ready func(metadata.Epoch) bool) (int, error) {
	released := 0
	for k, kq := range q.kinds {
		kind := metadata.ObjectKind(k)

		q.batch = q.batch[:0]
		kq.mu.Lock()
		for {
			front, ok := kq.fifo.Front()
			if !ok || !ready(front.epoch) {
				break
			}
			kq.fifo.PopFront()
			// Forget the handle before it is freed. The backend may hand the
			// same id to a new object as soon as release returns, and that
			// object must be destroyable.
			delete(kq.pending, front.handle)
			q.batch = append(q.batch, front)
		}
		kq.mu.Unlock()

		// Release outside the lock so producers are never held up by the
		// driver. On failure the rest of the batch is dropped: the device is
		// lost and they will never be released.
		for _, e := range q.batch {
			if err := kq.release(e.handle); err != nil {
				core.LogError("failed to release %s %d: %s", kind, e.handle, err)
				return released, core.WithStatus(errors.Wrapf(err, "release %s %d", kind, e.handle), core.ErrReleaseFailed)
			}
			released++
		}
	}
	return released, nil
}

// Pending returns the number of entries waiting across all kinds.
func (q *Queue) Pending() int {
	n := 0
	for k := range q.kinds {
		n += q.PendingKind(metadata.ObjectKind(k))
	}
	return n
}

// PendingKind returns the number of entries waiting for kind.
func (q *Queue) PendingKind(kind metadata.ObjectKind) int {
	if kind >= metadata.ObjectKindCount {
		return 0
	}
	kq := q.kinds[kind]
	kq.mu.Lock()
	defer kq.mu.Unlock()
	return kq.fifo.Len()
}
