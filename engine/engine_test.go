package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/inflight/engine/config"
	"github.com/spaghettifunk/inflight/engine/core"
)

func testGame(frames int) *Game {
	cfg := config.Default()
	cfg.Headless.GPULatency = 0
	cfg.Testbed.Frames = frames
	return &Game{
		ApplicationConfig: &ApplicationConfig{Name: "test", LogLevel: core.LogLevelWarn, Config: cfg},
	}
}

func TestRunStopsAfterConfiguredFrames(t *testing.T) {
	g := testGame(5)
	var updates, renders int
	var shutdown bool
	g.FnUpdate = func(float64) error { updates++; return nil }
	g.FnRender = func(fc *FrameContext, _ float64) error {
		assert.Equal(t, uint64(renders), fc.Frame)
		renders++
		return nil
	}
	g.FnShutdown = func() error { shutdown = true; return nil }

	e, err := New(g)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	assert.Equal(t, EngineStageInitialized, e.Stage())

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 5, updates)
	assert.Equal(t, 5, renders)
	assert.Equal(t, uint64(5), e.Frames())
	assert.Equal(t, uint64(5), uint64(e.Device().Epoch()))

	require.NoError(t, e.Shutdown(context.Background()))
	require.NoError(t, e.Shutdown(context.Background()))
	assert.True(t, shutdown)
	assert.Equal(t, EngineStageShuttingDown, e.Stage())
}

func TestRunRequiresInitialize(t *testing.T) {
	e, err := New(testGame(1))
	require.NoError(t, err)
	assert.Error(t, e.Run(context.Background()))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	g := testGame(1)
	g.ApplicationConfig.Config.Device.BufferCount = 0
	_, err := New(g)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = New(&Game{})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestRunStopsOnCancel(t *testing.T) {
	g := testGame(0)
	ctx, cancel := context.WithCancel(context.Background())
	g.FnRender = func(fc *FrameContext, _ float64) error {
		if fc.Frame == 3 {
			cancel()
		}
		return nil
	}
	e, err := New(g)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer e.Shutdown(context.Background())

	require.NoError(t, e.Run(ctx))
	assert.Equal(t, uint64(4), e.Frames())
	assert.False(t, e.Device().IsLost())
}

func TestConfigReloadAppliesLiveSettingsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inflight.toml")
	require.NoError(t, os.WriteFile(path, []byte("[headless]\ngpu_latency = \"0s\"\n"), 0o644))

	app, err := LoadApplicationConfig(path)
	require.NoError(t, err)
	app.LogLevel = core.LogLevelWarn
	e, err := New(&Game{ApplicationConfig: app})
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer e.Shutdown(context.Background())

	require.NoError(t, os.WriteFile(path, []byte("[headless]\ngpu_latency = \"0s\"\n[testbed]\nframes = 7\n[device]\nbuffer_count = 3\n"), 0o644))
	assert.Eventually(t, func() bool { return e.Config().Testbed.Frames == 7 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, e.Config().Device.BufferCount, "device settings need a restart")
}
