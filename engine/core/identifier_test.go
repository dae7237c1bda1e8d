package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleTableRecyclesIds(t *testing.T) {
	tbl := NewHandleTable[string](0)

	a := tbl.Acquire("a")
	b := tbl.Acquire("b")
	assert.Equal(t, uint64(1), a)
	assert.Equal(t, uint64(2), b)
	assert.Equal(t, 2, tbl.Len())

	owner, err := tbl.Release(a)
	require.NoError(t, err)
	assert.Equal(t, "a", owner)
	_, ok := tbl.Get(a)
	assert.False(t, ok)

	_, err = tbl.Release(a)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = tbl.Release(0)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = tbl.Release(99)
	assert.ErrorIs(t, err, ErrInvalidHandle)

	c := tbl.Acquire("c")
	assert.Equal(t, a, c)
	got, ok := tbl.Get(c)
	assert.True(t, ok)
	assert.Equal(t, "c", got)

	ids := []uint64{}
	tbl.Each(func(id uint64, _ string) { ids = append(ids, id) })
	assert.ElementsMatch(t, []uint64{1, 2}, ids)
}

func TestHandleTableConcurrentAcquire(t *testing.T) {
	tbl := NewHandleTable[int](4)
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[uint64]bool{}
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := tbl.Acquire(g)
				mu.Lock()
				assert.False(t, seen[id])
				seen[id] = true
				mu.Unlock()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 800, tbl.Len())
}
