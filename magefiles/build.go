//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

const shaderDir = "assets/shaders"

type Build mg.Namespace

// Compiles the GLSL shaders under assets/shaders to SPIR-V with glslc.
func (Build) Shaders() error {
	return compileShaders(shaderDir)
}

// Builds the vkguide binary into bin/.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", "bin/vkguide", "."), withStream())
	return err
}
