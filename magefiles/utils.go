//go:build mage

package main

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/magefile/mage/sh"
)

// goStep is one invocation of the go tool.
type goStep struct {
	args []string
	env  map[string]string
}

func step(args ...string) goStep {
	return goStep{args: args}
}

// withCgo forces cgo on, needed by the glfw loader used for Vulkan.
func (s goStep) withCgo() goStep {
	s.env = map[string]string{"CGO_ENABLED": "1"}
	return s
}

func (s goStep) run() error {
	fmt.Printf("> go %s\n", strings.Join(s.args, " "))
	if err := sh.RunWithV(s.env, "go", s.args...); err != nil {
		return errors.Wrapf(err, "go %s", s.args[0])
	}
	return nil
}

// runSteps stops at the first failing step.
func runSteps(steps ...goStep) error {
	for _, s := range steps {
		if err := s.run(); err != nil {
			return err
		}
	}
	return nil
}
