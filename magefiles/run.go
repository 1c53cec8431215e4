//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the headless demo with vulture.toml.
func (Run) Demo() error {
	fmt.Println("Run demo...")
	_, err := executeCmd("go", withArgs("run", ".", "-config", "vulture.toml"), withStream())
	return err
}
