//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Tidies the module and downloads its dependencies.
func (Build) Deps() error {
	if _, err := executeCmd("go", withArgs("mod", "tidy"), withStream()); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("mod", "download"))
	return err
}

// Builds the demo binary into bin/vulture.
func (Build) Binary() error {
	mg.Deps(Build.Deps)
	_, err := executeCmd("go", withArgs("build", "-o", "bin/vulture", "."), withStream())
	return err
}
