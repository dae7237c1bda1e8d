package testbed

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/rand"

	"github.com/spaghettifunk/inflight/engine"
	"github.com/spaghettifunk/inflight/engine/config"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/math"
	"github.com/spaghettifunk/inflight/engine/renderer"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
	"github.com/spaghettifunk/inflight/engine/systems"
)

const (
	imageCount   = 16
	bufferCount  = 4
	samplerCount = 2
	uploadAlign  = 256
)

// TestGame records a synthetic workload: several producers fill command
// lists in parallel every frame while the frame goroutine keeps destroying
// and recreating the objects they bind.
type TestGame struct {
	*engine.Game
}

type object struct {
	kind   metadata.ObjectKind
	handle metadata.Handle
}

type gameState struct {
	config  config.Testbed
	rng     *rand.Rand
	device  *renderer.Device
	factory metadata.ObjectFactory

	images   []metadata.Handle
	buffers  []metadata.Handle
	samplers []metadata.Handle

	tasks     []systems.JobTask
	destroyed uint64
}

func NewTestGame(app *engine.ApplicationConfig) (*TestGame, error) {
	if app == nil {
		return nil, errors.New("missing application config")
	}
	tc := app.Config.Testbed
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: app,
			State: &gameState{
				config: tc,
				rng:    rand.New(rand.NewSource(tc.Seed)),
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnShutdown = tg.Shutdown

	return tg, nil
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(fc *engine.FrameContext) error {
	core.LogDebug("TestGame Initialize fn....")

	state := g.state()
	factory, ok := fc.Device.Backend().(metadata.ObjectFactory)
	if !ok {
		return errors.Wrapf(core.ErrNotImplemented, "%s backend cannot create objects", fc.Device.Backend().Name())
	}
	state.device = fc.Device
	state.factory = factory

	var err error
	if state.images, err = createN(factory, metadata.ObjectKindImage, imageCount); err != nil {
		return err
	}
	if state.buffers, err = createN(factory, metadata.ObjectKindBuffer, bufferCount); err != nil {
		return err
	}
	if state.samplers, err = createN(factory, metadata.ObjectKindSampler, samplerCount); err != nil {
		return err
	}

	state.tasks = make([]systems.JobTask, state.config.Producers)
	for i := range state.tasks {
		producer := i
		state.tasks[i] = systems.JobTask{
			Name: fmt.Sprintf("producer-%d", producer),
			Run: func(ctx context.Context) error {
				return g.record(state.device, producer)
			},
		}
	}

	core.LogInfo("testbed ready: %d producers, %d objects", len(state.tasks), imageCount+bufferCount+samplerCount)
	return nil
}

func createN(factory metadata.ObjectFactory, kind metadata.ObjectKind, n int) ([]metadata.Handle, error) {
	out := make([]metadata.Handle, 0, n)
	for i := 0; i < n; i++ {
		h, err := factory.CreateObject(kind)
		if err != nil {
			return nil, errors.Wrapf(err, "create %s", kind)
		}
		out = append(out, h)
	}
	return out, nil
}

func (g *TestGame) Update(deltaTime float64) error {
	return nil
}

func (g *TestGame) Render(fc *engine.FrameContext, deltaTime float64) error {
	state := g.state()
	if err := fc.Jobs.Execute(context.Background(), state.tasks); err != nil {
		return err
	}

	// Timestamp the frame. The slot goes back to its pool once the frame
	// retired.
	q, err := fc.Device.AcquireQuery(metadata.ObjectKindQueryTimestamp)
	if err != nil {
		return err
	}
	if err := fc.Device.RequestDestroy(metadata.ObjectKindQueryTimestamp, q); err != nil {
		return err
	}

	// Every command list recorded this frame may still reference what gets
	// replaced here.
	if err := g.churn(metadata.ObjectKindImage, state.images); err != nil {
		return err
	}
	if err := g.churn(metadata.ObjectKindBuffer, state.buffers); err != nil {
		return err
	}
	return g.churn(metadata.ObjectKindSampler, state.samplers)
}

func (g *TestGame) churn(kind metadata.ObjectKind, handles []metadata.Handle) error {
	state := g.state()
	for i, h := range handles {
		if state.rng.Float64() >= math.Clamp(state.config.DestroyRate, 0, 1) {
			continue
		}
		if err := state.device.RequestDestroy(kind, h); err != nil {
			return err
		}
		next, err := state.factory.CreateObject(kind)
		if err != nil {
			return errors.Wrapf(err, "recreate %s", kind)
		}
		handles[i] = next
		state.destroyed++
	}
	return nil
}

// record fills one command list: a draw reading images through a sampler
// and a constant buffer, an upload of UploadSize bytes and a dispatch
// writing one image.
func (g *TestGame) record(dev *renderer.Device, producer int) error {
	state := g.state()
	cmd, err := dev.BeginCommandList()
	if err != nil {
		return err
	}

	for i := 0; i < state.config.BindsPerCmd; i++ {
		img := state.images[(producer+i)%len(state.images)]
		if err := dev.BindResource(metadata.ShaderStagePixel, uint32(i), img, -1, cmd); err != nil {
			return err
		}
	}
	if err := dev.BindConstantBuffer(metadata.ShaderStageVertex, 0, state.buffers[producer%len(state.buffers)], cmd); err != nil {
		return err
	}
	if err := dev.BindSampler(metadata.ShaderStagePixel, 0, state.samplers[producer%len(state.samplers)], cmd); err != nil {
		return err
	}
	if err := dev.ValidateBindings(cmd, true); err != nil {
		return err
	}

	if state.config.UploadSize > 0 {
		alloc, err := dev.AllocateTransient(cmd, state.config.UploadSize, uploadAlign)
		if err != nil {
			return err
		}
		for i := range alloc.Data {
			alloc.Data[i] = byte(producer + i)
		}
		// The upload doubles as the constants of the compute pass.
		if err := dev.BindTransientConstantBuffer(metadata.ShaderStageCompute, 0, alloc, cmd); err != nil {
			return err
		}
	}

	if err := dev.BindUAV(metadata.ShaderStageCompute, 0, state.images[producer%len(state.images)], 0, cmd); err != nil {
		return err
	}
	return dev.ValidateBindings(cmd, false)
}

// Shutdown hands every remaining object to the device so it is released
// with the rest of the ring.
func (g *TestGame) Shutdown() error {
	state := g.state()
	if state.device == nil {
		return nil
	}
	var result error
	release := func(kind metadata.ObjectKind, handles []metadata.Handle) {
		for _, h := range handles {
			if err := state.device.RequestDestroy(kind, h); err != nil {
				result = errors.CombineErrors(result, err)
			}
		}
	}
	release(metadata.ObjectKindImage, state.images)
	release(metadata.ObjectKindBuffer, state.buffers)
	release(metadata.ObjectKindSampler, state.samplers)

	core.LogInfo("testbed replaced %d objects", state.destroyed)
	return result
}
