package assets

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"

	"github.com/spaghettifunk/radix/engine/assets/loaders"
	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/compute/spirv"
	"github.com/spaghettifunk/radix/engine/core"
)

func TestKernelNames(t *testing.T) {
	tests := []struct {
		kernel string
		wide   bool
		base   string
	}{
		{"radix_histogram", false, "radix_histogram"},
		{"radix_histogram_64", true, "radix_histogram"},
		{"radix_scatter_64", true, "radix_scatter"},
	}
	for _, tt := range tests {
		if isWide(tt.kernel) != tt.wide || baseName(tt.kernel) != tt.base {
			t.Errorf("%s: wide %v base %s", tt.kernel, isWide(tt.kernel), baseName(tt.kernel))
		}
	}
}

func TestGLSLCompilerArgs(t *testing.T) {
	c := NewGLSLCompiler("")
	if c.Path != "glslc" {
		t.Fatalf("path %s", c.Path)
	}
	if got := c.SourcePath("shaders", "radix_scatter_64"); got != filepath.Join("shaders", "radix_scatter.comp") {
		t.Fatalf("source %s", got)
	}

	narrow := c.Args("radix_scatter", "in.comp", "out.spv")
	if slices.Contains(narrow, "-DSORT_64BIT") {
		t.Fatalf("32-bit build defines SORT_64BIT: %v", narrow)
	}
	wide := c.Args("radix_scatter_64", "in.comp", "out.spv")
	for _, want := range []string{"-DSORT_64BIT", "--target-spv=spv1.5", "-fshader-stage=compute"} {
		if !slices.Contains(wide, want) {
			t.Fatalf("missing %s in %v", want, wide)
		}
	}
	if wide[len(wide)-2] != "-o" || wide[len(wide)-1] != "out.spv" {
		t.Fatalf("output not last: %v", wide)
	}
}

func TestGLSLCompilerMissingExecutable(t *testing.T) {
	c := NewGLSLCompiler(filepath.Join(t.TempDir(), "no-such-glslc"))
	err := c.Compile(context.Background(), "radix_histogram", "in.comp", "out.spv")
	if !errors.Is(err, core.ErrCompile) {
		t.Fatalf("got %v, want ErrCompile", err)
	}
}

func TestGLSLCompilerBuildsKernels(t *testing.T) {
	if _, err := exec.LookPath("glslc"); err != nil {
		t.Skip("glslc not installed")
	}
	src := filepath.Join("..", "..", "assets", "shaders")
	out := t.TempDir()
	c := NewGLSLCompiler("")
	for _, kernel := range []string{"radix_histogram", "radix_scatter", "radix_sort", "radix_histogram_64", "radix_scatter_64", "radix_sort_64"} {
		binary := filepath.Join(out, kernel+".spv")
		if err := c.Compile(context.Background(), kernel, c.SourcePath(src, kernel), binary); err != nil {
			t.Fatal(err)
		}
		var bl loaders.BinaryLoader
		code, err := bl.Load(binary)
		if err != nil {
			t.Fatal(err)
		}
		r, err := spirv.Reflect(code)
		if err != nil {
			t.Fatalf("%s: %v", kernel, err)
		}
		if r.LocalSize[0] != 256 {
			t.Fatalf("%s: local size %v", kernel, r.LocalSize)
		}
		if r.PushConstants == nil {
			t.Fatalf("%s: g_shift push constant not reflected", kernel)
		}
	}
}

const tinyKernel = `
struct Params {
    g_num_elements: u32,
    g_shift: u32,
}

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read_write> g_elements_in: array<u32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x < params.g_num_elements) {
        g_elements_in[gid.x] = g_elements_in[gid.x] >> params.g_shift;
    }
}
`

func TestNagaCompilerReflects(t *testing.T) {
	c := NewNagaCompiler()
	code, err := c.CompileSource(tinyKernel)
	if err != nil {
		t.Fatal(err)
	}
	r, err := spirv.Reflect(loaders.BytesToBytecode(code))
	if err != nil {
		t.Fatal(err)
	}
	if r.LocalSize[0] != 256 {
		t.Fatalf("local size %v", r.LocalSize)
	}
	var kinds []metadata.DescriptorKind
	for _, b := range r.Bindings {
		kinds = append(kinds, b.Kind)
	}
	if len(kinds) != 2 {
		t.Fatalf("bindings %+v", r.Bindings)
	}
}

func TestNagaCompilerRejectsBadSource(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "broken.wgsl")
	if err := os.WriteFile(source, []byte("fn main( {"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := NewNagaCompiler().Compile(context.Background(), "broken", source, filepath.Join(dir, "broken.spv"))
	if !errors.Is(err, core.ErrCompile) {
		t.Fatalf("got %v, want ErrCompile", err)
	}
}

func TestNagaCompilerBuildsKernels(t *testing.T) {
	src := filepath.Join("..", "..", "assets", "shaders")
	out := t.TempDir()
	c := NewNagaCompiler()
	for _, kernel := range []string{"radix_histogram", "radix_scatter", "radix_sort", "radix_histogram_64", "radix_scatter_64", "radix_sort_64"} {
		binary := filepath.Join(out, kernel+".spv")
		if err := c.Compile(context.Background(), kernel, c.SourcePath(src, kernel), binary); err != nil {
			t.Fatal(err)
		}
		var bl loaders.BinaryLoader
		code, err := bl.Load(binary)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := spirv.Reflect(code); err != nil {
			t.Fatalf("%s: %v", kernel, err)
		}
	}
}
