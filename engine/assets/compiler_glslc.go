package assets

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/radix/engine/core"
)

// GLSLCompiler runs the glslc executable. The 64-bit variant of a
// kernel is the same source built with SORT_64BIT defined.
type GLSLCompiler struct {
	// Path to glslc, "glslc" looks it up on PATH.
	Path string
	// Target is passed as --target-spv.
	Target string
}

func NewGLSLCompiler(path string) *GLSLCompiler {
	if path == "" {
		path = "glslc"
	}
	return &GLSLCompiler{Path: path, Target: "spv1.5"}
}

func (c *GLSLCompiler) Name() string { return core.CompilerGLSLC }

func (c *GLSLCompiler) SourcePath(shaderDir, kernel string) string {
	return filepath.Join(shaderDir, baseName(kernel)+".comp")
}

func (c *GLSLCompiler) Args(kernel, source, output string) []string {
	args := []string{
		"-fshader-stage=compute",
		"--target-spv=" + c.Target,
	}
	if isWide(kernel) {
		args = append(args, "-DSORT_64BIT")
	}
	return append(args, source, "-o", output)
}

func (c *GLSLCompiler) Compile(ctx context.Context, kernel, source, output string) error {
	out, err := executeCmd(ctx, c.Path, withArgs(c.Args(kernel, source, output)...))
	if err != nil {
		return fmt.Errorf("%w: %s: %v\n%s", core.ErrCompile, kernel, err, strings.TrimSpace(out))
	}
	return nil
}
