package core

import (
	"sync"
	"sync/atomic"
)

const AVG_COUNT uint8 = 30

// FrameMetrics tracks frame timing and per-frame lifetime counters for one
// device. Timing fields are written by the frame goroutine only; counters may
// be bumped from any goroutine.
type FrameMetrics struct {
	mu                 sync.Mutex
	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	released          atomic.Uint64
	enqueued          atomic.Uint64
	materializations  atomic.Uint64
	descriptorWrites  atomic.Uint64
	transientBytes    atomic.Uint64
	submittedCommands atomic.Uint64
}

// MetricsSnapshot is a copy of FrameMetrics at a point in time.
type MetricsSnapshot struct {
	FPS               float64
	FrameMS           float64
	Released          uint64
	Enqueued          uint64
	Materializations  uint64
	DescriptorWrites  uint64
	TransientBytes    uint64
	SubmittedCommands uint64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{}
}

// Update folds one frame's elapsed time (seconds) into the averages.
func (m *FrameMetrics) Update(frameElapsedTime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Calculate frame ms average
	frameMS := frameElapsedTime * 1000.0
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		m.msAvg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.msAvg += m.msTimes[i]
		}
		m.msAvg /= float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	// Count all Frames.
	m.frames++
}

func (m *FrameMetrics) AddReleased(n int)          { m.released.Add(uint64(n)) }
func (m *FrameMetrics) AddEnqueued(n int)          { m.enqueued.Add(uint64(n)) }
// AddMaterialization counts one descriptor set built from writes entries.
func (m *FrameMetrics) AddMaterialization(writes uint64) {
	m.materializations.Add(1)
	m.descriptorWrites.Add(writes)
}

func (m *FrameMetrics) AddTransientBytes(n uint64) { m.transientBytes.Add(n) }
func (m *FrameMetrics) AddSubmitted(n int)         { m.submittedCommands.Add(uint64(n)) }

func (m *FrameMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	fps, ms := m.fps, m.msAvg
	m.mu.Unlock()
	return MetricsSnapshot{
		FPS:               fps,
		FrameMS:           ms,
		Released:          m.released.Load(),
		Enqueued:          m.enqueued.Load(),
		Materializations:  m.materializations.Load(),
		DescriptorWrites:  m.descriptorWrites.Load(),
		TransientBytes:    m.transientBytes.Load(),
		SubmittedCommands: m.submittedCommands.Load(),
	}
}
