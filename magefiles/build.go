//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Tidies the module and builds the testbed binary into bin/.
func (Build) Engine() error {
	return runSteps(
		step("mod", "tidy"),
		step("build", "-o", "bin/inflight", ".").withCgo(),
	)
}

// Runs vet and the whole test suite with the race detector.
func (Build) Test() error {
	return runSteps(
		step("vet", "./...").withCgo(),
		step("test", "-race", "-count=1", "./...").withCgo(),
	)
}
