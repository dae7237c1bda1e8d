package cmdlist

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

func TestNewMultiplexerRejectsZero(t *testing.T) {
	_, err := NewMultiplexer(0)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestAcquireExhausts(t *testing.T) {
	m, err := NewMultiplexer(8)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		_, err := m.Acquire()
		require.NoError(t, err)
	}
	assert.Equal(t, 8, m.ActiveCount())

	cmd, err := m.Acquire()
	assert.ErrorIs(t, err, core.ErrCommandListsExhausted)
	assert.Equal(t, metadata.InvalidCommandList, cmd)
}

func TestActiveFollowsAcquisitionOrder(t *testing.T) {
	m, err := NewMultiplexer(4)
	require.NoError(t, err)

	// Cycle once so ids come back out of numeric order.
	a, _ := m.Acquire()
	b, _ := m.Acquire()
	require.NoError(t, m.ReleaseAll())
	assert.False(t, m.IsActive(a))
	assert.False(t, m.IsActive(b))

	var order []metadata.CommandList
	for i := 0; i < 4; i++ {
		cmd, err := m.Acquire()
		require.NoError(t, err)
		order = append(order, cmd)
	}
	assert.Equal(t, order, m.Active())
	assert.NotEqual(t, []metadata.CommandList{0, 1, 2, 3}, order)
}

func TestReleaseAllRecyclesEveryList(t *testing.T) {
	m, err := NewMultiplexer(3)
	require.NoError(t, err)

	for frame := 0; frame < 5; frame++ {
		for i := 0; i < 3; i++ {
			_, err := m.Acquire()
			require.NoError(t, err)
		}
		require.NoError(t, m.ReleaseAll())
		assert.Zero(t, m.ActiveCount())
		assert.Empty(t, m.Active())
	}
	assert.False(t, m.IsActive(metadata.CommandList(m.Capacity())))
}

func TestConcurrentAcquireIsUnique(t *testing.T) {
	const lists = 64
	m, err := NewMultiplexer(lists)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan metadata.CommandList, lists*2)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < lists/8; i++ {
				cmd, err := m.Acquire()
				if err != nil {
					assert.ErrorIs(t, err, core.ErrCommandListsExhausted)
					continue
				}
				results <- cmd
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[metadata.CommandList]bool{}
	for cmd := range results {
		assert.False(t, seen[cmd], "command list %d handed out twice", cmd)
		seen[cmd] = true
		assert.True(t, m.IsActive(cmd))
	}
	assert.Len(t, seen, lists)
	assert.Len(t, m.Active(), lists)
}
