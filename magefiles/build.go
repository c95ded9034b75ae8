//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Builds the worker binary into bin/.
func (Build) Worker() error {
	_, err := executeCmd("go", withArgs("build", "-o", "bin/text3d-worker", "./cmd/worker"), withEnv("CGO_ENABLED=0"), withStream())
	return err
}

// Runs go mod tidy.
func (Build) Tidy() error {
	_, err := executeCmd("go", withArgs("mod", "tidy"), withStream())
	return err
}
