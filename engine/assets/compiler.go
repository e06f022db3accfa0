package assets

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/spaghettifunk/radix/engine/core"
)

// Wide is the kernel name suffix of the 64-bit key variants.
const Wide = "_64"

// Compiler turns one kernel source into a SPIR-V binary on disk.
type Compiler interface {
	Name() string
	// SourcePath is the file the named kernel is compiled from.
	SourcePath(shaderDir, kernel string) string
	// Compile writes the binary for kernel to output. Failures wrap
	// core.ErrCompile.
	Compile(ctx context.Context, kernel, source, output string) error
}

func isWide(kernel string) bool {
	return strings.HasSuffix(kernel, Wide)
}

func baseName(kernel string) string {
	return strings.TrimSuffix(kernel, Wide)
}

type cmdOptions struct {
	args []string
}

type cmdOption func(*cmdOptions)

func withArgs(args ...string) cmdOption {
	return func(o *cmdOptions) {
		o.args = args
	}
}

// executeCmd runs command and returns its combined output.
func executeCmd(ctx context.Context, command string, options ...cmdOption) (string, error) {
	opts := &cmdOptions{}
	for _, o := range options {
		o(opts)
	}

	core.LogDebug("Executing: %s %s", command, strings.Join(opts.args, " "))
	cmd := exec.CommandContext(ctx, command, opts.args...)

	var b bytes.Buffer
	cmd.Stdout = &b
	cmd.Stderr = &b
	if err := cmd.Run(); err != nil {
		return b.String(), fmt.Errorf("error executing %s: %w", command, err)
	}
	return b.String(), nil
}
