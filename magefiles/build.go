//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles the GLSL sources to the SPIR-V modules the engine loads.
func (Build) Shaders() error {
	if _, err := executeCmd("glslc", withArgs("shaders/basic.vert", "-o", "shaders/basic.vert.spv"), withStream()); err != nil {
		return err
	}
	if _, err := executeCmd("glslc", withArgs("shaders/basic.frag", "-o", "shaders/basic.frag.spv"), withStream()); err != nil {
		return err
	}
	return nil
}

// Builds the engine binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	if _, err := executeCmd("go", withArgs("build", "-o", "ember", "."), withStream()); err != nil {
		return err
	}
	return nil
}
