package engine

import (
	"github.com/spaghettifunk/inflight/engine/renderer"
	"github.com/spaghettifunk/inflight/engine/systems"
)

// FrameContext is handed to the game once per frame. Device and Jobs stay
// valid for the whole run.
type FrameContext struct {
	Device *renderer.Device
	Jobs   *systems.JobSystem
	// Frame is the zero based index of the frame being recorded.
	Frame uint64
}

type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnShutdown        Shutdown
}

type Initialize func(fc *FrameContext) error
type Update func(deltaTime float64) error
type Render func(fc *FrameContext, deltaTime float64) error
type Shutdown func() error
