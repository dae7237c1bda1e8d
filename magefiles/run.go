//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed on the simulated GPU.
func (Run) Headless() error {
	fmt.Println("Run headless testbed...")
	return runTestbed("headless")
}

// Runs the testbed on the first Vulkan device found.
func (Run) Vulkan() error {
	fmt.Println("Run vulkan testbed...")
	return runTestbed("vulkan")
}

func runTestbed(backend string) error {
	return step("run", ".", "-config", "inflight.toml", "-backend", backend).withCgo().run()
}
