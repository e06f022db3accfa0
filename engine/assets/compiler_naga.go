package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gogpu/naga/spirv"
	"github.com/gogpu/naga/wgsl"

	"github.com/spaghettifunk/radix/engine/core"
)

// NagaCompiler compiles WGSL kernels in process. WGSL has no
// preprocessor, so the 64-bit variants are separate files.
type NagaCompiler struct{}

func NewNagaCompiler() *NagaCompiler {
	return &NagaCompiler{}
}

func (c *NagaCompiler) Name() string { return core.CompilerNaga }

func (c *NagaCompiler) SourcePath(shaderDir, kernel string) string {
	return filepath.Join(shaderDir, kernel+".wgsl")
}

func (c *NagaCompiler) Compile(ctx context.Context, kernel, source, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrCompile, kernel, err)
	}
	code, err := c.CompileSource(string(src))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrCompile, kernel, err)
	}
	if err := os.WriteFile(output, code, 0o644); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrCompile, kernel, err)
	}
	return nil
}

// CompileSource returns the SPIR-V bytes for a WGSL module. Debug names
// are kept, the uniform fields are found by name.
func (c *NagaCompiler) CompileSource(src string) ([]byte, error) {
	lexer := wgsl.NewLexer(src)
	tokens, err := lexer.Tokenize()
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	parser := wgsl.NewParser(tokens)
	ast, err := parser.Parse()
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	module, err := wgsl.Lower(ast)
	if err != nil {
		return nil, fmt.Errorf("lower: %w", err)
	}
	backend := spirv.NewBackend(spirv.Options{
		Version: spirv.Version1_3,
		Debug:   true,
	})
	return backend.Compile(module)
}
