//go:build mage

package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const (
	shaderDir = "assets/shaders"
	outputDir = "resources/shaders"
)

var kernels = []string{"radix_histogram", "radix_scatter", "radix_sort"}

// Compiles every GLSL kernel with glslc, once per key width.
func (Build) Shaders() error {
	return buildShaders()
}

// Compiles the kernels and builds the radix binary.
func (Build) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	if _, err := executeCmd("go", withArgs("build", "-o", "radix", "."), withStream()); err != nil {
		return err
	}
	return nil
}

func buildShaders() error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	for _, k := range kernels {
		src := filepath.Join(shaderDir, k+".comp")
		variants := []struct {
			out     string
			defines []string
		}{
			{out: k + ".spv"},
			{out: k + "_64.spv", defines: []string{"-DSORT_64BIT"}},
		}
		for _, v := range variants {
			args := append([]string{"-fshader-stage=compute", "--target-spv=spv1.5"}, v.defines...)
			args = append(args, src, "-o", filepath.Join(outputDir, v.out))
			if _, err := executeCmd("glslc", withArgs(args...), withStream()); err != nil {
				return err
			}
		}
	}
	return nil
}
