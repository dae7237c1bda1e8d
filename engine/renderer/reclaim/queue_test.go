package reclaim

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

type recorder struct {
	mu       sync.Mutex
	released []metadata.Handle
	fail     error
}

func (r *recorder) release(h metadata.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.released = append(r.released, h)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.released)
}

func newTestQueue(boundary Boundary) (*Queue, *EpochCounter, *recorder) {
	rec := &recorder{}
	var table metadata.ReleaseTable
	table[metadata.ObjectKindBuffer] = rec.release
	table[metadata.ObjectKindImage] = rec.release
	epochs := &EpochCounter{}
	return NewQueue(epochs, table, boundary), epochs, rec
}

// advance mimics the device: bump the epoch, then drain.
func advance(t *testing.T, q *Queue, epochs *EpochCounter, ring int) int {
	t.Helper()
	n, err := q.Drain(epochs.Advance(), ring)
	require.NoError(t, err)
	return n
}

func TestParseBoundary(t *testing.T) {
	b, err := ParseBoundary("")
	require.NoError(t, err)
	assert.Equal(t, BoundaryInclusive, b)

	b, err = ParseBoundary(" Strict ")
	require.NoError(t, err)
	assert.Equal(t, BoundaryStrict, b)
	assert.Equal(t, "strict", b.String())

	_, err = ParseBoundary("eventually")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestBoundaryReleasable(t *testing.T) {
	assert.False(t, BoundaryInclusive.Releasable(0, 1, 2))
	assert.True(t, BoundaryInclusive.Releasable(0, 2, 2))
	assert.False(t, BoundaryStrict.Releasable(0, 2, 2))
	assert.True(t, BoundaryStrict.Releasable(0, 3, 2))
}

func TestInclusiveReleaseAfterRingAdvances(t *testing.T) {
	q, epochs, rec := newTestQueue(BoundaryInclusive)
	require.NoError(t, q.Enqueue(metadata.ObjectKindBuffer, 7))
	assert.True(t, q.IsPending(metadata.ObjectKindBuffer, 7))

	assert.Zero(t, advance(t, q, epochs, 2))
	assert.Equal(t, 1, q.Pending())
	assert.Equal(t, 1, advance(t, q, epochs, 2))
	assert.Equal(t, []metadata.Handle{7}, rec.released)
	assert.False(t, q.IsPending(metadata.ObjectKindBuffer, 7))
}

func TestStrictReleaseOneFrameLater(t *testing.T) {
	q, epochs, rec := newTestQueue(BoundaryStrict)
	require.NoError(t, q.Enqueue(metadata.ObjectKindBuffer, 7))

	assert.Zero(t, advance(t, q, epochs, 2))
	assert.Zero(t, advance(t, q, epochs, 2))
	assert.Equal(t, 1, advance(t, q, epochs, 2))
	assert.Equal(t, 1, rec.count())
}

func TestObjectsOfOneFrameReleaseTogether(t *testing.T) {
	q, epochs, rec := newTestQueue(BoundaryInclusive)
	for _, h := range []metadata.Handle{1, 2, 3} {
		require.NoError(t, q.Enqueue(metadata.ObjectKindBuffer, h))
	}

	assert.Zero(t, advance(t, q, epochs, 2))
	assert.Zero(t, rec.count())
	assert.Equal(t, 3, q.PendingKind(metadata.ObjectKindBuffer))

	assert.Equal(t, 3, advance(t, q, epochs, 2))
	assert.Equal(t, []metadata.Handle{1, 2, 3}, rec.released)
	assert.Zero(t, q.Pending())
}

func TestRecycledHandleCanBeDestroyed(t *testing.T) {
	epochs := &EpochCounter{}
	var (
		q        *Queue
		reuseErr error
		reused   bool
	)
	var table metadata.ReleaseTable
	table[metadata.ObjectKindBuffer] = func(h metadata.Handle) error {
		// A producer gets the freed id for a new object and destroys it
		// right away.
		if !reused {
			reused = true
			reuseErr = q.Enqueue(metadata.ObjectKindBuffer, h)
		}
		return nil
	}
	q = NewQueue(epochs, table, BoundaryInclusive)

	require.NoError(t, q.Enqueue(metadata.ObjectKindBuffer, 4))
	epochs.Advance()
	_, err := q.Drain(epochs.Advance(), 2)
	require.NoError(t, err)

	require.NoError(t, reuseErr)
	assert.Equal(t, 1, q.Pending())
	assert.True(t, q.IsPending(metadata.ObjectKindBuffer, 4))
}

func TestDrainIsIdempotent(t *testing.T) {
	q, epochs, rec := newTestQueue(BoundaryInclusive)
	require.NoError(t, q.Enqueue(metadata.ObjectKindImage, 3))
	epochs.Advance()
	epochs.Advance()

	n, err := q.Drain(epochs.Load(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = q.Drain(epochs.Load(), 2)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, rec.count())
}

func TestDrainKeepsEpochOrder(t *testing.T) {
	q, epochs, rec := newTestQueue(BoundaryInclusive)
	require.NoError(t, q.Enqueue(metadata.ObjectKindBuffer, 1))
	epochs.Advance()
	require.NoError(t, q.Enqueue(metadata.ObjectKindBuffer, 2))

	// Epoch 2 releases the epoch 0 entry only.
	assert.Equal(t, 1, advance(t, q, epochs, 2))
	assert.Equal(t, []metadata.Handle{1}, rec.released)
	assert.Equal(t, 1, advance(t, q, epochs, 2))
	assert.Equal(t, []metadata.Handle{1, 2}, rec.released)
}

func TestEnqueueMisuse(t *testing.T) {
	q, _, _ := newTestQueue(BoundaryInclusive)

	require.NoError(t, q.Enqueue(metadata.ObjectKindBuffer, 5))
	assert.ErrorIs(t, q.Enqueue(metadata.ObjectKindBuffer, 5), core.ErrDoubleFree)
	assert.ErrorIs(t, q.Enqueue(metadata.ObjectKindBuffer, metadata.InvalidHandle), core.ErrInvalidHandle)
	assert.ErrorIs(t, q.Enqueue(metadata.ObjectKindSampler, 5), core.ErrUnsupportedKind)
	assert.ErrorIs(t, q.Enqueue(metadata.ObjectKindCount, 5), core.ErrUnsupportedKind)

	// The same handle value of another kind is a different object.
	assert.NoError(t, q.Enqueue(metadata.ObjectKindImage, 5))
	assert.Equal(t, 2, q.Pending())
}

func TestReleaseFailureIsFatal(t *testing.T) {
	q, epochs, rec := newTestQueue(BoundaryInclusive)
	rec.fail = errors.New("driver refused")
	require.NoError(t, q.Enqueue(metadata.ObjectKindBuffer, 1))
	require.NoError(t, q.Enqueue(metadata.ObjectKindBuffer, 2))
	epochs.Advance()

	_, err := q.Drain(epochs.Advance(), 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrReleaseFailed)
	assert.True(t, core.IsFatal(err))
	assert.Zero(t, q.Pending())
	assert.False(t, q.IsPending(metadata.ObjectKindBuffer, 2))
}

func TestDrainAllIgnoresEpoch(t *testing.T) {
	q, _, rec := newTestQueue(BoundaryStrict)
	require.NoError(t, q.Enqueue(metadata.ObjectKindBuffer, 1))
	require.NoError(t, q.Enqueue(metadata.ObjectKindImage, 2))

	n, err := q.DrainAll()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, rec.count())
	assert.Zero(t, q.Pending())
}

func TestConcurrentEnqueue(t *testing.T) {
	q, epochs, rec := newTestQueue(BoundaryInclusive)
	const goroutines, perGoroutine = 8, 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				h := metadata.Handle(g*perGoroutine + i + 1)
				assert.NoError(t, q.Enqueue(metadata.ObjectKindBuffer, h))
			}
		}(g)
	}
	// Drains may run while producers enqueue.
	for i := 0; i < 10; i++ {
		_, err := q.Drain(epochs.Advance(), 2)
		require.NoError(t, err)
	}
	wg.Wait()

	epochs.Advance()
	epochs.Advance()
	_, err := q.Drain(epochs.Advance(), 2)
	require.NoError(t, err)
	assert.Equal(t, goroutines*perGoroutine, rec.count())
	assert.Zero(t, q.Pending())
}
