package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/inflight/engine/config"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer"
	"github.com/spaghettifunk/inflight/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

const statsInterval = 120

type Engine struct {
	currentStage Stage
	gameInstance *Game
	isRunning    atomic.Bool

	mu     sync.Mutex
	config config.Config

	device   *renderer.Device
	jobs     *systems.JobSystem
	watcher  *config.Watcher
	clock    *core.Clock
	lastTime float64
	frame    uint64

	shutdown sync.Once
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, errors.Wrap(core.ErrInvalidConfig, "game has no application config")
	}
	if err := g.ApplicationConfig.Config.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       g.ApplicationConfig.Config,
		clock:        core.NewClock(),
	}
	e.isRunning.Store(true)
	return e, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageBooting
	core.SetLogLevel(e.gameInstance.ApplicationConfig.LogLevel)

	cfg := e.Config()
	backend, err := renderer.NewBackend(cfg)
	if err != nil {
		core.LogError("failed to create %s backend: %s", cfg.Device.Backend, err)
		return err
	}
	device, err := renderer.NewDevice(backend, cfg.Device)
	if err != nil {
		if derr := backend.Destroy(); derr != nil {
			err = errors.CombineErrors(err, derr)
		}
		return err
	}
	e.device = device

	e.currentStage = EngineStageInitializing
	jobs, err := systems.NewJobSystem(cfg.Jobs.Workers, cfg.Jobs.QueueSize)
	if err != nil {
		return err
	}
	e.jobs = jobs

	if path := e.gameInstance.ApplicationConfig.ConfigPath; path != "" {
		w, err := config.Watch(path, e.onConfigChanged)
		if err != nil {
			// Live reload is a convenience only.
			core.LogWarn("config file %s will not be watched: %s", path, err)
		} else {
			e.watcher = w
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e.frameContext()); err != nil {
			core.LogError("game failed to initialize")
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("%s initialized", e.gameInstance.ApplicationConfig.Name)
	return nil
}

// Run drives frames until ctx is done, Stop is called, the configured frame
// count is reached or a fatal error happens.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return errors.New("engine is not initialized")
	}
	e.currentStage = EngineStageRunning

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	// A cancelled ctx stops the loop between frames. The fence wait inside a
	// frame must not observe it, or the device would be marked lost.
	frameCtx := context.WithoutCancel(ctx)

	for e.isRunning.Load() && ctx.Err() == nil {
		limit := e.Config().Testbed.Frames
		if limit > 0 && e.frame >= uint64(limit) {
			break
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("game update failed, shutting down: %s", err)
				return err
			}
		}

		// Call the game's render routine.
		if e.gameInstance.FnRender != nil {
			if err := e.gameInstance.FnRender(e.frameContext(), delta); err != nil {
				core.LogError("game render failed, shutting down: %s", err)
				if core.IsFatal(err) || e.device.IsLost() {
					return err
				}
			}
		}

		if err := e.device.AdvanceFrame(frameCtx); err != nil {
			return err
		}
		e.frame++

		if e.frame%statsInterval == 0 {
			s := e.device.Stats()
			core.LogDebug("frame %d: epoch=%d slot=%d/%d fps=%.0f ms=%.3f pending=%d released=%d submitted=%d transient=%dB descriptors=%d",
				e.frame, s.Epoch, s.Slot, s.RingSize, s.FPS, s.FrameMS, s.PendingDestroys, s.Released, s.SubmittedCommands, s.TransientBytes, s.DescriptorWrites)
		}

		// Update last time
		e.lastTime = currentTime
	}
	return nil
}

// Stop asks Run to return after the frame in progress.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

// Shutdown tears everything down in reverse creation order. It is safe to
// call more than once.
func (e *Engine) Shutdown(ctx context.Context) error {
	var result error
	e.shutdown.Do(func() {
		e.currentStage = EngineStageShuttingDown
		e.Stop()

		if e.gameInstance.FnShutdown != nil {
			if err := e.gameInstance.FnShutdown(); err != nil {
				result = errors.CombineErrors(result, err)
			}
		}
		if e.watcher != nil {
			if err := e.watcher.Close(); err != nil {
				result = errors.CombineErrors(result, err)
			}
		}
		if e.jobs != nil {
			if err := e.jobs.Shutdown(); err != nil {
				result = errors.CombineErrors(result, err)
			}
		}
		if e.device != nil {
			s := e.device.Stats()
			if err := e.device.Shutdown(ctx); err != nil {
				result = errors.CombineErrors(result, err)
			}
			core.LogInfo("ran %d frames, %d command lists submitted, %d objects released",
				e.frame, s.SubmittedCommands, s.Released)
		}
	})
	return result
}

// Config returns the configuration currently in effect.
func (e *Engine) Config() config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

// Frames returns the number of frames completed so far.
func (e *Engine) Frames() uint64 {
	return e.frame
}

func (e *Engine) Device() *renderer.Device {
	return e.device
}

func (e *Engine) frameContext() *FrameContext {
	return &FrameContext{Device: e.device, Jobs: e.jobs, Frame: e.frame}
}

func (e *Engine) onConfigChanged(next config.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.config.RequiresRestart(next) {
		core.LogWarn("device, backend or job settings changed; restart to apply them")
		// Keep the sections baked into live objects as they are.
		next.Device = e.config.Device
		next.Headless = e.config.Headless
		next.Jobs = e.config.Jobs
	}
	if next.Log.Level != e.config.Log.Level {
		core.SetLogLevel(core.ParseLogLevel(next.Log.Level))
		core.LogInfo("log level set to %s", next.Log.Level)
	}
	e.config = next
}
