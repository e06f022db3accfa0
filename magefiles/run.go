//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the kernels and sorts 1M random keys on the GPU.
func (Run) Sort() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run sort...")
	if _, err := executeCmd("go", withArgs("run", ".", "--resources", "resources", "sort", "--report", "report.json"), withStream()); err != nil {
		return err
	}
	return nil
}

// Sorts on the CPU backend, no GPU needed.
func (Run) Software() error {
	if err := buildShaders(); err != nil {
		return err
	}
	if _, err := executeCmd("go", withArgs("run", ".", "--resources", "resources", "--backend", "software", "sort"), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the unit tests. GPU tests skip without a Vulkan device.
func Test() error {
	if _, err := executeCmd("go", withArgs("test", "./..."), withStream()); err != nil {
		return err
	}
	return nil
}
