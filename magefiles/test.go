//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs the unit tests of the packages that need no GPU.
func (Test) Unit() error {
	_, err := executeCmd("go", withArgs("test", "-count=1",
		"./engine/core/...",
		"./engine/containers/...",
		"./engine/math/...",
		"./engine/renderer/headless/...",
		"./engine/renderer/reclaim/...",
		"./engine/renderer/accel/...",
		"./engine/systems/...",
		"./testbed/...",
	), withStream())
	return err
}

// Runs every test with the race detector, the Vulkan backend included.
func (Test) Race() error {
	_, err := executeCmd("go", withArgs("test", "-race", "-count=1", "./..."), withStream())
	return err
}
