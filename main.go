/*
This is an example of application that will use the
engine package to push frames through the pipeline
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spaghettifunk/inflight/engine"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/testbed"
)

func main() {
	configPath := flag.String("config", "", "path of a TOML configuration file")
	frames := flag.Int("frames", -1, "frames to run before exiting, 0 runs until interrupted")
	backend := flag.String("backend", "", "graphics backend, headless or vulkan")
	flag.Parse()

	app, err := engine.LoadApplicationConfig(*configPath)
	if err != nil {
		core.LogFatal("failed to load configuration: %s", err)
	}
	if *frames >= 0 {
		app.Config.Testbed.Frames = *frames
	}
	if *backend != "" {
		app.Config.Device.Backend = *backend
	}

	tb, err := testbed.NewTestGame(app)
	if err != nil {
		core.LogFatal(err.Error())
	}

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal(err.Error())
	}

	// signal channel to capture system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown(context.Background())
		core.LogFatal("failed to initialize: %s", err)
	}

	// run engine
	runErr := e.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogError("engine stopped: %s", runErr)
		os.Exit(1)
	}
}
