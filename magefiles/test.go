//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs go vet and the unit tests.
func (Test) Unit() error {
	if _, err := executeCmd("go", withArgs("vet", "./..."), withStream()); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream())
	return err
}

// Encodes an asset through the worker's encode mode and verifies the output.
func (Test) Encode(path string) error {
	mg.Deps(Build.Worker)
	_, err := executeCmd("sh", withArgs("-c", "bin/text3d-worker < "+path+" > bin/out.glb"),
		withEnv("WORKER_MODE=encode", "ENCODE_VERIFY=true", "ENCODE_NAME="+path), withStream())
	return err
}
