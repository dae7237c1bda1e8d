package reclaim

import (
	"sync/atomic"

	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
)

// EpochCounter is the frame epoch. Only the frame goroutine advances it; any
// goroutine may read it.
type EpochCounter struct {
	value atomic.Uint64
}

// Load returns the epoch of the frame currently being recorded.
func (e *EpochCounter) Load() metadata.Epoch {
	return metadata.Epoch(e.value.Load())
}

// Advance moves to the next frame and returns the new epoch.
func (e *EpochCounter) Advance() metadata.Epoch {
	return metadata.Epoch(e.value.Add(1))
}
