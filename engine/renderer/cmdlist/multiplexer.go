package cmdlist

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/inflight/engine/containers"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
	"golang.org/x/exp/slices"
)

type listState struct {
	active atomic.Bool
	ticket atomic.Uint64
}

// Multiplexer hands out command list ids to recording goroutines without
// taking a lock. Ids go back to the free list in one batch at the end of the
// frame, after the lists were submitted.
//
// Acquire, IsActive and ActiveCount are safe for concurrent use. Active and
// ReleaseAll must only be called from the frame goroutine while no other
// goroutine is acquiring.
type Multiplexer struct {
	free     *containers.RingQueue[metadata.CommandList]
	lists    []listState
	tickets  atomic.Uint64
	inFlight atomic.Int32
	order    []metadata.CommandList
}

func NewMultiplexer(capacity int) (*Multiplexer, error) {
	if capacity <= 0 {
		return nil, errors.Wrapf(core.ErrInvalidConfig, "command list count must be positive, got %d", capacity)
	}
	m := &Multiplexer{
		free:  containers.NewRingQueue[metadata.CommandList](capacity),
		lists: make([]listState, capacity),
		order: make([]metadata.CommandList, 0, capacity),
	}
	for i := 0; i < capacity; i++ {
		if err := m.free.Enqueue(metadata.CommandList(i)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Acquire takes an unused id and marks it active for the current frame. It
// fails with ErrCommandListsExhausted once every id is taken.
func (m *Multiplexer) Acquire() (metadata.CommandList, error) {
	cmd, err := m.free.Dequeue()
	if err != nil {
		if errors.Is(err, containers.ErrQueueEmpty) {
			return metadata.InvalidCommandList, errors.Wrapf(core.ErrCommandListsExhausted,
				"all %d command lists are recording", len(m.lists))
		}
		return metadata.InvalidCommandList, err
	}
	st := &m.lists[cmd]
	st.ticket.Store(m.tickets.Add(1))
	st.active.Store(true)
	m.inFlight.Add(1)
	return cmd, nil
}

// IsActive reports whether cmd was acquired this frame.
func (m *Multiplexer) IsActive(cmd metadata.CommandList) bool {
	if int(cmd) >= len(m.lists) {
		return false
	}
	return m.lists[cmd].active.Load()
}

// Active returns the ids acquired this frame in acquisition order. The
// returned slice is reused by the next call.
func (m *Multiplexer) Active() []metadata.CommandList {
	m.order = m.order[:0]
	for i := range m.lists {
		if m.lists[i].active.Load() {
			m.order = append(m.order, metadata.CommandList(i))
		}
	}
	slices.SortFunc(m.order, func(a, b metadata.CommandList) int {
		ta, tb := m.lists[a].ticket.Load(), m.lists[b].ticket.Load()
		switch {
		case ta < tb:
			return -1
		case ta > tb:
			return 1
		}
		return 0
	})
	return m.order
}

func (m *Multiplexer) ActiveCount() int {
	return int(m.inFlight.Load())
}

// ReleaseAll returns every active id to the free list.
func (m *Multiplexer) ReleaseAll() error {
	for _, cmd := range m.Active() {
		m.lists[cmd].active.Store(false)
		m.inFlight.Add(-1)
		if err := m.free.Enqueue(cmd); err != nil {
			return errors.Wrapf(err, "return command list %d", cmd)
		}
	}
	return nil
}

func (m *Multiplexer) Capacity() int {
	return len(m.lists)
}
