package platform

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/inflight/engine/core"
)

func init() {
	// GLFW must be driven from the main OS thread
	runtime.LockOSThread()
}

// Platform loads the Vulkan runtime through GLFW. No window is created: the
// device renders offscreen.
type Platform struct {
	started bool
}

func New() *Platform {
	return &Platform{}
}

func (p *Platform) Startup() error {
	if p.started {
		return nil
	}
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return errors.Wrap(err, "glfw init")
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return errors.New("no Vulkan loader found")
	}
	p.started = true
	return nil
}

// VulkanProcAddr returns vkGetInstanceProcAddr of the loader found by GLFW.
func (p *Platform) VulkanProcAddr() (unsafe.Pointer, error) {
	if !p.started {
		return nil, errors.New("platform not started")
	}
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, errors.New("GetInstanceProcAddress is nil")
	}
	return procAddr, nil
}

func (p *Platform) Shutdown() error {
	if p.started {
		glfw.Terminate()
		p.started = false
	}
	return nil
}
